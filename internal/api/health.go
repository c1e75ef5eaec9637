package api

import (
	"net/http"

	"github.com/af-corp/chorus/internal/httputil"
	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/types"
)

type healthResponse struct {
	Status    string                    `json:"status"`
	Version   string                    `json:"version"`
	Providers []types.Provider          `json:"providers"`
	Breakers  []provider.ProviderStatus `json:"breakers"`
}

// Health handles GET /health and GET /api/health. It reports degraded while any provider breaker is open.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Version: h.version, Providers: []types.Provider{}, Breakers: []provider.ProviderStatus{}}
	if h.providers != nil {
		if configured := h.providers.Configured(); configured != nil {
			resp.Providers = configured
		}
		resp.Breakers = h.providers.Health().Snapshot()
		for _, b := range resp.Breakers {
			if b.State == provider.StateOpen.String() {
				resp.Status = "degraded"
			}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
