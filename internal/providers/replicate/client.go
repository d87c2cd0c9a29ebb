package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
)

// ProviderName identifies Replicate in configuration and job handles.
const ProviderName = "replicate"

// DefaultModelVersion is the SDXL version the molt prompts are tuned for.
const DefaultModelVersion = "ac732df83cea7fff18b8472768c88ad041fa750ff7682a21affe81863cbe77e4"

// Options configures the Replicate predictions client.
type Options struct {
	APIKey         string
	BaseURL        string
	ModelVersion   string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Replicate predictions API.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Input is the SDXL input block of a prediction request.
type Input struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumOutputs        int     `json:"num_outputs"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
}

// Prediction is the subset of the prediction resource the adapter relies on.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// Outputs returns the image URLs of the prediction. Replicate models emit
// either a list of URLs or a single URL.
func (p *Prediction) Outputs() []string {
	raw := bytes.TrimSpace(p.Output)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return compact(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return compact([]string{single})
	}
	return nil
}

// ErrorMessage flattens the error field, which may be a string or an object.
func (p *Prediction) ErrorMessage() string {
	raw := bytes.TrimSpace(p.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

type createRequest struct {
	Version string `json:"version"`
	Input   Input  `json:"input"`
}

type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	version := strings.TrimSpace(opts.ModelVersion)
	if version == "" {
		version = DefaultModelVersion
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		version:    version,
		httpClient: httpClient,
		logger:     infra.OrDiscard(opts.Logger),
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.apiKey != ""
}

// ModelVersion returns the configured model version hash.
func (c *Client) ModelVersion() string {
	return c.version
}

// CreatePrediction starts a prediction and returns its initial state.
func (c *Client) CreatePrediction(ctx context.Context, input Input) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, domain.NewUnconfigured(ProviderName)
	}
	body, err := json.Marshal(createRequest{Version: c.version, Input: input})
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	pred, err := c.do(ctx, http.MethodPost, c.baseURL+"/predictions", body)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pred.ID) == "" {
		return nil, domain.NewMalformed(ProviderName, "prediction id missing", nil)
	}
	c.logger.Debug().
		Str("prediction_id", pred.ID).
		Str("status", pred.Status).
		Msg("replicate: prediction created")
	return pred, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, domain.NewUnconfigured(ProviderName)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewMalformed(ProviderName, "prediction id required", nil)
	}
	pred, err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("prediction_id", id).
		Str("status", pred.Status).
		Msg("replicate: prediction polled")
	return pred, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*Prediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewTransport(ProviderName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransport(ProviderName, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		return nil, domain.NewRejected(ProviderName, resp.StatusCode, rejectionDetail(resp.StatusCode, raw))
	}

	var pred Prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, domain.NewMalformed(ProviderName, "decode prediction", err)
	}
	return &pred, nil
}

func rejectionDetail(status int, raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if d := strings.TrimSpace(detail.Detail); d != "" {
			return d
		}
		if t := strings.TrimSpace(detail.Title); t != "" {
			return t
		}
	}
	return fmt.Sprintf("status %d", status)
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
