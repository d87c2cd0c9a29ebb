package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"moltpfp/internal/moltbook"
)

// VerifyAgent reports whether a Moltbook profile page exists.
func (a *App) VerifyAgent(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	v, err := a.Moltbook.Verify(r.Context(), username)
	if err != nil {
		if errors.Is(err, moltbook.ErrInvalidUsername) {
			a.error(w, http.StatusBadRequest, "Invalid username")
			return
		}
		a.Logger.Warn().Err(err).Str("username", username).Msg("proxy: moltbook verify failed")
		a.error(w, http.StatusBadGateway, "Moltbook unreachable")
		return
	}
	a.json(w, http.StatusOK, v)
}

// Agent proxies a public Moltbook agent profile.
func (a *App) Agent(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	raw, err := a.Moltbook.Agent(r.Context(), username)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	case errors.Is(err, moltbook.ErrInvalidUsername):
		a.error(w, http.StatusBadRequest, "Invalid username")
	case errors.Is(err, moltbook.ErrAgentNotFound):
		a.json(w, http.StatusNotFound, map[string]string{"error": "Agent not found", "username": username})
	default:
		a.Logger.Warn().Err(err).Str("username", username).Msg("proxy: moltbook agent lookup failed")
		a.error(w, http.StatusBadGateway, "Moltbook unreachable")
	}
}
