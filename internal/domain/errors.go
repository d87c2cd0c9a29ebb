package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnconfigured        = errors.New("provider not configured")
	ErrRejected            = errors.New("provider rejected request")
	ErrMalformedResponse   = errors.New("provider returned malformed response")
	ErrProviderTransport   = errors.New("provider unreachable")
	ErrNoProviderAvailable = errors.New("no image provider available")
	ErrGenerationFailed    = errors.New("image generation failed")
	ErrGenerationTimeout   = errors.New("image generation timed out")
	ErrAlreadyMoltedToday  = errors.New("already molted today")
	ErrInvalidPrompt       = errors.New("invalid prompt")
)

// ProviderErrorKind classifies failures raised by a provider adapter.
type ProviderErrorKind string

const (
	ProviderUnconfigured      ProviderErrorKind = "unconfigured"
	ProviderRejected          ProviderErrorKind = "rejected"
	ProviderMalformedResponse ProviderErrorKind = "malformed_response"
	ProviderTransport         ProviderErrorKind = "transport"
)

// ProviderError is returned by every image.Provider method.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	// StatusCode is the remote HTTP status for rejected requests, zero otherwise.
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error kind.
func (e *ProviderError) Is(target error) bool {
	switch e.Kind {
	case ProviderUnconfigured:
		return target == ErrUnconfigured
	case ProviderRejected:
		return target == ErrRejected
	case ProviderMalformedResponse:
		return target == ErrMalformedResponse
	case ProviderTransport:
		return target == ErrProviderTransport
	}
	return false
}

// NewUnconfigured reports missing credentials for provider.
func NewUnconfigured(provider string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ProviderUnconfigured, Detail: "missing api key"}
}

// NewRejected reports a non-success remote status.
func NewRejected(provider string, status int, detail string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ProviderRejected, StatusCode: status, Detail: detail}
}

// NewMalformed reports a response that violates the provider's schema.
func NewMalformed(provider, detail string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ProviderMalformedResponse, Detail: detail, Err: err}
}

// NewTransport reports a network level failure talking to the provider.
func NewTransport(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ProviderTransport, Err: err}
}

// GenerationErrorKind classifies orchestrator level outcomes.
type GenerationErrorKind string

const (
	GenerationNoProvider     GenerationErrorKind = "no_provider_available"
	GenerationProviderFailed GenerationErrorKind = "provider_failed"
	GenerationTimeout        GenerationErrorKind = "timeout"
	GenerationSubmit         GenerationErrorKind = "submit_failed"
	GenerationPoll           GenerationErrorKind = "poll_failed"
)

// GenerationError is returned by the generation orchestrator.
type GenerationError struct {
	Kind     GenerationErrorKind
	Provider string
	Reason   string
	Err      error
}

func (e *GenerationError) Error() string {
	var msg string
	switch e.Kind {
	case GenerationNoProvider:
		msg = ErrNoProviderAvailable.Error()
	case GenerationTimeout:
		msg = ErrGenerationTimeout.Error()
	default:
		msg = ErrGenerationFailed.Error()
	}
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches ErrNoProviderAvailable, ErrGenerationTimeout and ErrGenerationFailed
// by kind, in addition to anything reachable through Unwrap.
func (e *GenerationError) Is(target error) bool {
	switch target {
	case ErrNoProviderAvailable:
		return e.Kind == GenerationNoProvider
	case ErrGenerationTimeout:
		return e.Kind == GenerationTimeout
	case ErrGenerationFailed:
		return e.Kind == GenerationProviderFailed
	}
	return false
}
