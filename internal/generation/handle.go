package generation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"moltpfp/internal/domain"
)

// syncPrefix marks tokens synthesized for synchronous providers. The image
// URL is carried inside the token, so resolving it needs no state and no
// remote call.
const syncPrefix = "sync"

// ErrInvalidHandle is returned by DecodeHandle for tokens it cannot parse.
var ErrInvalidHandle = errors.New("invalid job id")

// EncodeHandle renders a handle as an opaque, URL-safe job id.
func EncodeHandle(h domain.JobHandle) (string, error) {
	if h.Kind == domain.ProviderKindSync || (h.Resolved() && h.ID == "") {
		if h.Result == nil || h.Result.Status != domain.JobStatusSucceeded || h.Result.ImageURL == "" {
			return "", fmt.Errorf("%w: synchronous handle without image", ErrInvalidHandle)
		}
		return syncPrefix + "_" + base64.RawURLEncoding.EncodeToString([]byte(h.Result.ImageURL)), nil
	}
	if h.Provider == "" || h.ID == "" {
		return "", fmt.Errorf("%w: provider and id are required", ErrInvalidHandle)
	}
	if strings.Contains(h.Provider, "_") {
		return "", fmt.Errorf("%w: provider name %q contains '_'", ErrInvalidHandle, h.Provider)
	}
	return h.Provider + "_" + h.ID, nil
}

// DecodeHandle parses a job id produced by EncodeHandle.
func DecodeHandle(token string) (domain.JobHandle, error) {
	token = strings.TrimSpace(token)
	prefix, rest, ok := strings.Cut(token, "_")
	if !ok || prefix == "" || rest == "" {
		return domain.JobHandle{}, ErrInvalidHandle
	}
	if prefix == syncPrefix {
		raw, err := base64.RawURLEncoding.DecodeString(rest)
		if err != nil || len(raw) == 0 {
			return domain.JobHandle{}, ErrInvalidHandle
		}
		result := domain.Succeeded(string(raw))
		return domain.JobHandle{Kind: domain.ProviderKindSync, Result: &result}, nil
	}
	return domain.JobHandle{Provider: prefix, ID: rest, Kind: domain.ProviderKindAsync}, nil
}
