package image

import (
	"fmt"
	"net/http"
	"strings"

	"moltpfp/internal/infra"
	"moltpfp/internal/providers/openai"
	"moltpfp/internal/providers/qwen"
	"moltpfp/internal/providers/replicate"
)

// BuildOptions tunes providers built by FromConfig.
type BuildOptions struct {
	// ImageSize is the default square edge in pixels.
	ImageSize int
	// InferenceSteps is forwarded to Replicate when positive.
	InferenceSteps int
	HTTPClient     *http.Client
	Logger         *infra.Logger
}

// FromConfig resolves cfg.Providers, in order, into provider instances.
// Unknown names are a configuration error; duplicates are dropped.
func FromConfig(cfg *infra.Config, opts BuildOptions) ([]Provider, error) {
	size := opts.ImageSize
	if size <= 0 {
		size = cfg.ImageSize
	}
	seen := make(map[string]struct{}, len(cfg.Providers))
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, raw := range cfg.Providers {
		name := strings.ToLower(strings.TrimSpace(raw))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		switch name {
		case replicate.ProviderName:
			client := replicate.NewClient(replicate.Options{
				APIKey:       cfg.ReplicateAPIKey,
				BaseURL:      cfg.ReplicateBaseURL,
				ModelVersion: cfg.ReplicateModelVersion,
				HTTPClient:   opts.HTTPClient,
				Logger:       opts.Logger,
			})
			var ropts []ReplicateOption
			if opts.InferenceSteps > 0 {
				ropts = append(ropts, WithInferenceSteps(opts.InferenceSteps))
			}
			providers = append(providers, NewReplicateProvider(client, size, ropts...))
		case openai.ProviderName:
			client := openai.NewClient(openai.Options{
				APIKey:       cfg.OpenAIAPIKey,
				Model:        cfg.OpenAIImageModel,
				BaseURL:      cfg.OpenAIBaseURL,
				Organization: cfg.OpenAIOrg,
				HTTPClient:   opts.HTTPClient,
				Logger:       opts.Logger,
			})
			providers = append(providers, NewOpenAIProvider(client, size))
		case qwen.ProviderName:
			client := qwen.NewClient(qwen.Options{
				APIKey:     cfg.QwenAPIKey,
				BaseURL:    cfg.QwenBaseURL,
				Model:      cfg.QwenModel,
				HTTPClient: opts.HTTPClient,
				Logger:     opts.Logger,
			})
			providers = append(providers, NewQwenProvider(client, size))
		default:
			return nil, fmt.Errorf("unknown image provider %q", raw)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no image providers listed")
	}
	return providers, nil
}
