package image

import (
	"context"

	"moltpfp/internal/domain"
)

// Options carries per-request generation settings. Zero dimensions fall back
// to the adapter's configured size.
type Options struct {
	Width  int
	Height int
}

// Provider is the contract implemented by every image backend. Synchronous
// backends resolve the job inside Submit and answer Poll from the handle;
// asynchronous backends return a pending handle and query remote state on Poll.
type Provider interface {
	Name() string
	Kind() domain.ProviderKind
	// Configured reports whether credentials are present. It never performs I/O.
	Configured() bool
	Submit(ctx context.Context, prompt domain.Prompt, opts Options) (domain.JobHandle, error)
	Poll(ctx context.Context, handle domain.JobHandle) (domain.JobResult, error)
}

// resolvedHandle builds the handle a synchronous provider returns from Submit.
func resolvedHandle(provider, id, imageURL string) domain.JobHandle {
	result := domain.Succeeded(imageURL)
	return domain.JobHandle{
		Provider: provider,
		ID:       id,
		Kind:     domain.ProviderKindSync,
		Result:   &result,
	}
}

// pollResolved answers Poll for synchronous providers without any I/O.
func pollResolved(provider string, handle domain.JobHandle) (domain.JobResult, error) {
	if handle.Result == nil {
		return domain.JobResult{}, domain.NewMalformed(provider, "handle carries no result", nil)
	}
	return *handle.Result, nil
}

func dimensions(opts Options, fallback int) (int, int) {
	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = fallback
	}
	if h <= 0 {
		h = w
	}
	return w, h
}
