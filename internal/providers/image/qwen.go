package image

import (
	"context"

	"moltpfp/internal/domain"
	"moltpfp/internal/providers/qwen"
)

type qwenImageClient interface {
	GenerateImage(context.Context, qwen.ImageRequest) (*qwen.ImageResult, error)
	HasCredentials() bool
	Model() string
}

// QwenProvider adapts the synchronous DashScope Qwen text-to-image API.
type QwenProvider struct {
	client      qwenImageClient
	defaultSize int
}

func NewQwenProvider(client qwenImageClient, defaultSize int) *QwenProvider {
	return &QwenProvider{client: client, defaultSize: defaultSize}
}

func (p *QwenProvider) Name() string { return qwen.ProviderName }

func (p *QwenProvider) Kind() domain.ProviderKind { return domain.ProviderKindSync }

func (p *QwenProvider) Configured() bool {
	return p != nil && p.client != nil && p.client.HasCredentials()
}

func (p *QwenProvider) Submit(ctx context.Context, prompt domain.Prompt, opts Options) (domain.JobHandle, error) {
	if !p.Configured() {
		return domain.JobHandle{}, domain.NewUnconfigured(p.Name())
	}
	w, h := dimensions(opts, p.defaultSize)
	res, err := p.client.GenerateImage(ctx, qwen.ImageRequest{
		Prompt:         prompt.Text,
		NegativePrompt: prompt.NegativeOrDefault(domain.DefaultNegativePrompt),
		Size:           qwen.SizeFor(w, h),
	})
	if err != nil {
		return domain.JobHandle{}, err
	}
	return resolvedHandle(p.Name(), res.RequestID, res.URL), nil
}

func (p *QwenProvider) Poll(ctx context.Context, handle domain.JobHandle) (domain.JobResult, error) {
	return pollResolved(p.Name(), handle)
}

func (p *QwenProvider) String() string {
	if p == nil || p.client == nil {
		return qwen.ProviderName
	}
	return p.client.Model()
}

var _ Provider = (*QwenProvider)(nil)
