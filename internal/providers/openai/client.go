package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
)

// ProviderName identifies the OpenAI images API in configuration and job handles.
const ProviderName = "openai"

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "dall-e-3"
	defaultTimeout = 90 * time.Second
)

// Options configures the OpenAI images client.
type Options struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Client calls POST /images/generations, which answers synchronously.
type Client struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	client       *http.Client
	logger       *infra.Logger
}

// ImageRequest describes one generation.
type ImageRequest struct {
	Prompt string
	Width  int
	Height int
}

// ImageResult carries the hosted image URL.
type ImageResult struct {
	URL           string
	RevisedPrompt string
}

type imagesRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type imagesResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		logger:       infra.OrDiscard(opts.Logger),
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.apiKey != ""
}

// Model returns the configured image model.
func (c *Client) Model() string {
	return c.model
}

// GenerateImage requests one image and returns its URL.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if !c.HasCredentials() {
		return nil, domain.NewUnconfigured(ProviderName)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("openai: %w", domain.ErrInvalidPrompt)
	}
	payload := imagesRequest{
		Model:          c.model,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: "url",
	}
	if req.Width > 0 && req.Height > 0 {
		payload.Size = fmt.Sprintf("%dx%d", req.Width, req.Height)
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/images/generations", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", c.organization)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransport(ProviderName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransport(ProviderName, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
			return nil, domain.NewRejected(ProviderName, resp.StatusCode, detail.Error.Message)
		}
		return nil, domain.NewRejected(ProviderName, resp.StatusCode, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var decoded imagesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, domain.NewMalformed(ProviderName, "decode response", err)
	}
	if len(decoded.Data) == 0 || strings.TrimSpace(decoded.Data[0].URL) == "" {
		return nil, domain.NewMalformed(ProviderName, "image url missing", nil)
	}
	out := &ImageResult{
		URL:           strings.TrimSpace(decoded.Data[0].URL),
		RevisedPrompt: decoded.Data[0].RevisedPrompt,
	}
	c.logger.Debug().Str("model", c.model).Msg("openai: generated image")
	return out, nil
}
