package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"moltpfp/internal/domain"
	"moltpfp/internal/infra"
	"moltpfp/internal/moltbook"
	"moltpfp/internal/providers/image"
)

// JobBroker submits generation jobs and reports their state without waiting.
type JobBroker interface {
	Submit(ctx context.Context, prompt domain.Prompt) (domain.JobHandle, error)
	Status(ctx context.Context, handle domain.JobHandle) (domain.JobResult, error)
	Active() image.Provider
	Providers() []image.Provider
}

// AgentDirectory looks up public Moltbook agents.
type AgentDirectory interface {
	Agent(ctx context.Context, username string) (json.RawMessage, error)
	Verify(ctx context.Context, username string) (moltbook.Verification, error)
}

// App holds the read-only state shared by every proxy handler.
type App struct {
	Config   *infra.Config
	Logger   zerolog.Logger
	Jobs     JobBroker
	Moltbook AgentDirectory

	secrets []string
}

func NewApp(cfg *infra.Config, logger zerolog.Logger, jobs JobBroker, directory AgentDirectory) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Jobs:     jobs,
		Moltbook: directory,
		secrets:  cfg.Secrets(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": a.sanitize(msg)})
}

// sanitize removes every configured credential from msg.
func (a *App) sanitize(msg string) string {
	for _, secret := range a.secrets {
		msg = strings.ReplaceAll(msg, secret, "[redacted]")
	}
	return msg
}

// NotFound answers unknown routes.
func (a *App) NotFound(w http.ResponseWriter, r *http.Request) {
	a.error(w, http.StatusNotFound, "Not found")
}

// MethodNotAllowed answers known routes hit with the wrong method.
func (a *App) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	a.error(w, http.StatusMethodNotAllowed, "Method not allowed")
}
