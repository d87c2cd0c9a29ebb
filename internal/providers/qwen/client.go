package qwen

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

// ProviderName identifies DashScope Qwen in configuration and job handles.
const ProviderName = "qwen"

// Options configures the DashScope Qwen client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	DefaultSize    string
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope Qwen text-to-image API. The
// endpoint answers synchronously with the image URL.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	defaultSize  string
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	logger       *infra.Logger
}

// ImageRequest captures the required inputs for image generation.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	// Size uses DashScope's "W*H" notation.
	Size string
	Seed int
}

// ImageResult is the normalized result from the Qwen API.
type ImageResult struct {
	URL       string
	RequestID string
	Width     int
	Height    int
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text string `json:"text,omitempty"`
}

type generationParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	PromptExtend   *bool  `json:"prompt_extend,omitempty"`
	Watermark      *bool  `json:"watermark,omitempty"`
	Seed           *int   `json:"seed,omitempty"`
}

type generationResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image-plus"
	}
	defaultSize := strings.TrimSpace(opts.DefaultSize)
	if defaultSize == "" {
		defaultSize = "1328*1328"
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		model:        model,
		defaultSize:  defaultSize,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		logger:       infra.OrDiscard(opts.Logger),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.apiKey != ""
}

// SizeFor formats square pixel dimensions in DashScope notation.
func SizeFor(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	return fmt.Sprintf("%d*%d", width, height)
}

// GenerateImage invokes the DashScope API once and returns the image URL.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if !c.HasCredentials() {
		return nil, domain.NewUnconfigured(ProviderName)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("qwen: %w", domain.ErrInvalidPrompt)
	}
	payload := generationRequest{
		Model: c.model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: prompt}},
			}},
		},
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		payload.Parameters.NegativePrompt = neg
	}
	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = c.defaultSize
	}
	payload.Parameters.Size = size
	if extend := c.promptExtend; extend {
		payload.Parameters.PromptExtend = &extend
	}
	if req.Seed > 0 {
		payload.Parameters.Seed = &req.Seed
	}
	watermark := c.watermark
	payload.Parameters.Watermark = &watermark

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
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
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, domain.NewRejected(ProviderName, resp.StatusCode, fmt.Sprintf("%s (%s)", detail.Message, detail.Code))
		}
		return nil, domain.NewRejected(ProviderName, resp.StatusCode, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, domain.NewMalformed(ProviderName, "decode response", err)
	}
	if decoded.Code != "" {
		return nil, domain.NewRejected(ProviderName, resp.StatusCode, fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code))
	}
	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return nil, domain.NewMalformed(ProviderName, "empty image url", nil)
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", decoded.RequestID).
		Str("url", imageURL).
		Msg("qwen: generated image")
	return &ImageResult{
		URL:       imageURL,
		RequestID: decoded.RequestID,
		Width:     decoded.Usage.Width,
		Height:    decoded.Usage.Height,
	}, nil
}

func firstImageURL(resp generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if url := strings.TrimSpace(content.Image); url != "" {
				return url
			}
		}
	}
	return ""
}
