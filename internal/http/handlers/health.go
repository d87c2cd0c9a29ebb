package handlers

import (
	"net/http"
)

const serviceName = "moltpfp-proxy"

type providerStatus struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Configured bool   `json:"configured"`
}

type healthResponse struct {
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Preferred string           `json:"preferred"`
	Active    string           `json:"active"`
	Providers []providerStatus `json:"providers"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{Status: "ok", Service: serviceName, Providers: []providerStatus{}}
	if len(a.Config.Providers) > 0 {
		res.Preferred = a.Config.Providers[0]
	}
	if active := a.Jobs.Active(); active != nil {
		res.Active = active.Name()
	}
	for _, p := range a.Jobs.Providers() {
		res.Providers = append(res.Providers, providerStatus{Name: p.Name(), Kind: string(p.Kind()), Configured: p.Configured()})
	}
	a.json(w, http.StatusOK, res)
}
