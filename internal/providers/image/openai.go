package image

import (
	"context"

	"moltpfp/internal/domain"
	"moltpfp/internal/providers/openai"
)

type openAIImageClient interface {
	GenerateImage(context.Context, openai.ImageRequest) (*openai.ImageResult, error)
	HasCredentials() bool
}

// OpenAIProvider adapts the synchronous OpenAI images API. The API has no
// negative prompt field, so the negative text is appended as an instruction.
type OpenAIProvider struct {
	client      openAIImageClient
	defaultSize int
}

func NewOpenAIProvider(client openAIImageClient, defaultSize int) *OpenAIProvider {
	return &OpenAIProvider{client: client, defaultSize: defaultSize}
}

func (p *OpenAIProvider) Name() string { return openai.ProviderName }

func (p *OpenAIProvider) Kind() domain.ProviderKind { return domain.ProviderKindSync }

func (p *OpenAIProvider) Configured() bool {
	return p != nil && p.client != nil && p.client.HasCredentials()
}

func (p *OpenAIProvider) Submit(ctx context.Context, prompt domain.Prompt, opts Options) (domain.JobHandle, error) {
	if !p.Configured() {
		return domain.JobHandle{}, domain.NewUnconfigured(p.Name())
	}
	w, h := dimensions(opts, p.defaultSize)
	text := prompt.Text
	if neg := prompt.NegativeOrDefault(domain.DefaultNegativePrompt); neg != "" {
		text += "\nAvoid: " + neg
	}
	res, err := p.client.GenerateImage(ctx, openai.ImageRequest{Prompt: text, Width: w, Height: h})
	if err != nil {
		return domain.JobHandle{}, err
	}
	return resolvedHandle(p.Name(), "", res.URL), nil
}

func (p *OpenAIProvider) Poll(ctx context.Context, handle domain.JobHandle) (domain.JobResult, error) {
	return pollResolved(p.Name(), handle)
}

var _ Provider = (*OpenAIProvider)(nil)
