package moltbook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"moltpfp/internal/infra"
)

const (
	defaultBaseURL    = "https://www.moltbook.com/api/v1"
	defaultProfileURL = "https://moltbook.com"
	defaultTimeout    = 60 * time.Second
	maxErrorBody      = 512
)

var (
	// ErrMissingAPIKey is returned by calls that need the agent's API key.
	ErrMissingAPIKey = errors.New("moltbook: MOLTBOOK_API_KEY not configured")
	// ErrAgentNotFound is returned by Agent when neither lookup finds the user.
	ErrAgentNotFound = errors.New("moltbook: agent not found")
	// ErrInvalidUsername rejects empty usernames or ones containing a path separator.
	ErrInvalidUsername = errors.New("moltbook: invalid username")
)

// AuthError reports a 401/403 from Moltbook.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("moltbook: unauthorized (%d): %s", e.StatusCode, e.Message)
}

// RejectedError reports any other non-2xx answer.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("moltbook: request rejected (%d): %s", e.StatusCode, e.Message)
}

// Options configures the Moltbook client.
type Options struct {
	APIKey string
	// BaseURL is the REST API root, e.g. https://www.moltbook.com/api/v1.
	BaseURL string
	// ProfileURL is the public site root used for /u/{username} pages.
	ProfileURL string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to the Moltbook agent API.
type Client struct {
	apiKey     string
	baseURL    string
	profileURL string
	client     *http.Client
	logger     *infra.Logger
}

// Registration is the answer to a successful registration. APIKey is shown
// exactly once by Moltbook.
type Registration struct {
	APIKey string
	Raw    json.RawMessage
}

// Verification reports whether a public profile page exists.
type Verification struct {
	Exists     bool   `json:"exists"`
	Username   string `json:"username"`
	ProfileURL string `json:"profileUrl"`
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	profileURL := strings.TrimRight(strings.TrimSpace(opts.ProfileURL), "/")
	if profileURL == "" {
		profileURL = defaultProfileURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		profileURL: profileURL,
		client:     client,
		logger:     infra.OrDiscard(opts.Logger),
	}
}

// HasAPIKey reports whether authenticated calls can be made.
func (c *Client) HasAPIKey() bool {
	return c != nil && c.apiKey != ""
}

// ProfileURL returns the public profile page for username.
func (c *Client) ProfileURL(username string) string {
	return c.profileURL + "/u/" + url.PathEscape(username)
}

// Upload replaces the agent's avatar with data. The decoded JSON response is
// returned untouched so it can be kept in the history log.
func (c *Client) Upload(ctx context.Context, data []byte, filename string) (json.RawMessage, error) {
	if !c.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}
	if len(data) == 0 {
		return nil, errors.New("moltbook: empty avatar")
	}
	if strings.TrimSpace(filename) == "" {
		filename = "avatar.png"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="avatar"; filename=%q`, filename))
	header.Set("Content-Type", imageContentType(data))
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("moltbook: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("moltbook: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("moltbook: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents/me/avatar", &body)
	if err != nil {
		return nil, fmt.Errorf("moltbook: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("filename", filename).Int("bytes", len(data)).Msg("moltbook: avatar uploaded")
	return asJSON(raw), nil
}

// Register creates a new agent account. It needs no API key.
func (c *Client) Register(ctx context.Context, name, description string) (*Registration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("moltbook: agent name is required")
	}
	payload, err := json.Marshal(map[string]string{"name": name, "description": strings.TrimSpace(description)})
	if err != nil {
		return nil, fmt.Errorf("moltbook: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents/register", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("moltbook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		APIKey string `json:"apiKey"`
		Agent  struct {
			APIKey string `json:"api_key"`
		} `json:"agent"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("moltbook: decode registration: %w", err)
	}
	key := decoded.APIKey
	if key == "" {
		key = decoded.Agent.APIKey
	}
	return &Registration{APIKey: key, Raw: asJSON(raw)}, nil
}

// Agent fetches a public agent profile, first from the API and then from the
// profile page's .json rendition.
func (c *Client) Agent(ctx context.Context, username string) (json.RawMessage, error) {
	if err := validUsername(username); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, fmt.Errorf("moltbook: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	raw, err := c.do(req)
	if err == nil {
		return asJSON(raw), nil
	}
	var rejected *RejectedError
	var auth *AuthError
	if !errors.As(err, &rejected) && !errors.As(err, &auth) {
		return nil, err
	}
	c.logger.Debug().Err(err).Str("username", username).Msg("moltbook: api lookup failed, trying profile json")

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.ProfileURL(username)+".json", nil)
	if err != nil {
		return nil, fmt.Errorf("moltbook: build request: %w", err)
	}
	raw, err = c.do(req)
	if err != nil {
		if errors.As(err, &rejected) || errors.As(err, &auth) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, ErrAgentNotFound
	}
	return raw, nil
}

// Verify checks whether the public profile page for username exists.
func (c *Client) Verify(ctx context.Context, username string) (Verification, error) {
	if err := validUsername(username); err != nil {
		return Verification{}, err
	}
	profile := c.ProfileURL(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, profile, nil)
	if err != nil {
		return Verification{}, fmt.Errorf("moltbook: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("moltbook: verify %s: %w", username, err)
	}
	resp.Body.Close()
	return Verification{
		Exists:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Username:   username,
		ProfileURL: profile,
	}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moltbook: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("moltbook: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	return raw, nil
}

func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, s := range []string{body.Error, body.Message, body.Detail} {
			if strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fallback
	}
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// asJSON keeps valid JSON as-is and wraps anything else so the result can
// always be embedded in a JSON document.
func asJSON(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(trimmed) {
		return append(json.RawMessage(nil), trimmed...)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(trimmed)})
	return wrapped
}

func imageContentType(data []byte) string {
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/png"
}

func validUsername(username string) error {
	if strings.TrimSpace(username) == "" || strings.ContainsAny(username, "/?#") {
		return ErrInvalidUsername
	}
	return nil
}
