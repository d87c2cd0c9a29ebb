package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"moltpfp/internal/domain"
	"moltpfp/internal/generation"
)

const maxGenerateBody = 64 << 10

const (
	msgInvalidPrompt    = "Invalid prompt"
	msgInvalidJobID     = "Invalid job id"
	msgNotConfigured    = "API not configured"
	msgGenerationFailed = "Generation failed"
	msgTimedOut         = "Generation timed out"
)

type generateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
}

type generateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	Status string   `json:"status"`
	Output []string `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Generate submits a prompt to the active provider and returns an opaque job id.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	if a.Jobs.Active() == nil {
		a.error(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, msgInvalidPrompt)
		return
	}
	prompt := domain.NewPrompt(req.Prompt, req.NegativePrompt)
	if prompt.IsZero() {
		a.error(w, http.StatusBadRequest, msgInvalidPrompt)
		return
	}

	ctx, cancel := a.jobContext(r)
	defer cancel()
	handle, err := a.Jobs.Submit(ctx, prompt)
	if err != nil {
		a.generationError(ctx, w, r, err)
		return
	}
	id, err := generation.EncodeHandle(handle)
	if err != nil {
		a.Logger.Error().Err(err).Str("provider", handle.Provider).Msg("proxy: encode job handle")
		a.error(w, http.StatusBadGateway, msgGenerationFailed)
		return
	}
	status := domain.JobStatusPending
	if handle.Result != nil {
		status = handle.Result.Status
	}
	a.json(w, http.StatusOK, generateResponse{ID: id, Status: string(status)})
}

// Status reports a job's state. Synchronous ids resolve without any remote call.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	handle, err := generation.DecodeHandle(chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, msgInvalidJobID)
		return
	}
	if !handle.Resolved() && a.Jobs.Active() == nil {
		a.error(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}

	ctx, cancel := a.jobContext(r)
	defer cancel()
	res, err := a.Jobs.Status(ctx, handle)
	if err != nil {
		a.generationError(ctx, w, r, err)
		return
	}
	out := statusResponse{Status: string(res.Status), Error: a.sanitize(res.Reason)}
	if res.ImageURL != "" {
		out.Output = []string{res.ImageURL}
	}
	a.json(w, http.StatusOK, out)
}

// jobContext bounds a provider call by Config.GenerateTimeout so the answer
// is written before the server's write deadline.
func (a *App) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	if a.Config != nil && a.Config.GenerateTimeout > 0 {
		return context.WithTimeout(r.Context(), a.Config.GenerateTimeout)
	}
	return context.WithCancel(r.Context())
}

// generationError maps orchestrator and provider failures onto HTTP statuses.
func (a *App) generationError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	var perr *domain.ProviderError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		a.Logger.Warn().Str("path", r.URL.Path).Msg("proxy: provider call timed out")
		a.error(w, http.StatusGatewayTimeout, msgTimedOut)
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, http.StatusBadRequest, msgInvalidPrompt)
	case errors.Is(err, domain.ErrNoProviderAvailable), errors.Is(err, domain.ErrUnconfigured):
		a.error(w, http.StatusInternalServerError, msgNotConfigured)
	case errors.As(err, &perr) && perr.Kind == domain.ProviderRejected:
		code := perr.StatusCode
		if code < 400 || code > 599 {
			code = http.StatusBadGateway
		}
		detail := perr.Detail
		if detail == "" {
			detail = msgGenerationFailed
		}
		a.Logger.Warn().Str("provider", perr.Provider).Int("status", perr.StatusCode).Msg("proxy: provider rejected request")
		a.error(w, code, detail)
	default:
		a.Logger.Error().Err(errors.New(a.sanitize(err.Error()))).Str("path", r.URL.Path).Msg("proxy: generation error")
		a.error(w, http.StatusBadGateway, err.Error())
	}
}
