package image

import (
	"context"
	"strings"

	"moltpfp/internal/domain"
	"moltpfp/internal/providers/replicate"
)

type predictionClient interface {
	CreatePrediction(context.Context, replicate.Input) (*replicate.Prediction, error)
	GetPrediction(context.Context, string) (*replicate.Prediction, error)
	HasCredentials() bool
}

// ReplicateProvider adapts the asynchronous Replicate predictions API.
type ReplicateProvider struct {
	client            predictionClient
	defaultSize       int
	guidanceScale     float64
	numInferenceSteps int
}

// ReplicateOption tweaks SDXL parameters.
type ReplicateOption func(*ReplicateProvider)

// WithInferenceSteps sets num_inference_steps; the proxy asks for 35.
func WithInferenceSteps(n int) ReplicateOption {
	return func(p *ReplicateProvider) { p.numInferenceSteps = n }
}

func NewReplicateProvider(client predictionClient, defaultSize int, opts ...ReplicateOption) *ReplicateProvider {
	p := &ReplicateProvider{client: client, defaultSize: defaultSize, guidanceScale: 7.5}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ReplicateProvider) Name() string { return replicate.ProviderName }

func (p *ReplicateProvider) Kind() domain.ProviderKind { return domain.ProviderKindAsync }

func (p *ReplicateProvider) Configured() bool {
	return p != nil && p.client != nil && p.client.HasCredentials()
}

// Submit starts a prediction. A prediction that is already terminal in the
// create response is returned resolved.
func (p *ReplicateProvider) Submit(ctx context.Context, prompt domain.Prompt, opts Options) (domain.JobHandle, error) {
	if !p.Configured() {
		return domain.JobHandle{}, domain.NewUnconfigured(p.Name())
	}
	w, h := dimensions(opts, p.defaultSize)
	pred, err := p.client.CreatePrediction(ctx, replicate.Input{
		Prompt:            prompt.Text,
		NegativePrompt:    prompt.NegativeOrDefault(domain.DefaultNegativePrompt),
		Width:             w,
		Height:            h,
		NumOutputs:        1,
		GuidanceScale:     p.guidanceScale,
		NumInferenceSteps: p.numInferenceSteps,
	})
	if err != nil {
		return domain.JobHandle{}, err
	}
	handle := domain.JobHandle{Provider: p.Name(), ID: pred.ID, Kind: domain.ProviderKindAsync}
	result, err := p.toResult(pred)
	if err != nil {
		return domain.JobHandle{}, err
	}
	if result.Status.IsTerminal() {
		handle.Result = &result
	}
	return handle, nil
}

// Poll queries the prediction's current state.
func (p *ReplicateProvider) Poll(ctx context.Context, handle domain.JobHandle) (domain.JobResult, error) {
	if handle.Resolved() {
		return *handle.Result, nil
	}
	if !p.Configured() {
		return domain.JobResult{}, domain.NewUnconfigured(p.Name())
	}
	pred, err := p.client.GetPrediction(ctx, handle.ID)
	if err != nil {
		return domain.JobResult{}, err
	}
	return p.toResult(pred)
}

func (p *ReplicateProvider) toResult(pred *replicate.Prediction) (domain.JobResult, error) {
	switch domain.NormalizeJobStatus(pred.Status) {
	case domain.JobStatusSucceeded:
		outputs := pred.Outputs()
		if len(outputs) == 0 {
			return domain.JobResult{}, domain.NewMalformed(p.Name(), "succeeded prediction has no output", nil)
		}
		return domain.Succeeded(outputs[0]), nil
	case domain.JobStatusFailed:
		reason := pred.ErrorMessage()
		if reason == "" {
			reason = "prediction " + strings.ToLower(strings.TrimSpace(pred.Status))
		}
		return domain.Failed(reason), nil
	default:
		return domain.Pending(), nil
	}
}

var _ Provider = (*ReplicateProvider)(nil)
