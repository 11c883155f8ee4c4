package statushandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devstack-core/secrets-provisioning/interfaces"
	"github.com/devstack-core/secrets-provisioning/secretstore"
)

// SealStatusResponse is the JSON shape of the seal status endpoint.
type SealStatusResponse struct {
	Initialized    bool `json:"initialized"`
	Sealed         bool `json:"sealed"`
	TotalShares    int  `json:"total_shares"`
	ShareThreshold int  `json:"share_threshold"`
	Progress       int  `json:"progress"`
}

// Handler exposes the store's seal state and CA chain over HTTP so
// healthchecks and provisioning scripts can watch the store without
// holding a store token themselves.
type Handler struct {
	store *secretstore.Client
	log   *slog.Logger
}

// NewHandler creates an HTTP handler backed by the given store client.
func NewHandler(store *secretstore.Client, log *slog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log,
	}
}

// RegisterRoutes configures the router with the status endpoints:
//   - GET /api/status/seal - seal state as JSON
//   - GET /api/ca/chain - intermediate and root CA certificates as PEM
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/status/seal", h.HandleSealStatus)
	r.Get("/api/ca/chain", h.HandleCAChain)
}

// HandleSealStatus reports the store's initialization and seal state.
// Seal status is readable on a sealed store, so this endpoint keeps
// working while the store waits for unseal shares.
//
// Status codes:
//   - 200 OK: state retrieved
//   - 502 Bad Gateway: store unreachable
func (h *Handler) HandleSealStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.SealStatus(r.Context())
	if err != nil {
		h.log.Error("Failed to read seal status", "err", err)
		http.Error(w, "store unreachable", http.StatusBadGateway)
		return
	}

	response := SealStatusResponse{
		Initialized:    state.Initialized,
		Sealed:         state.Sealed,
		TotalShares:    state.TotalShares,
		ShareThreshold: state.ShareThreshold,
		Progress:       state.Progress,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode seal status response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

// HandleCAChain serves the CA chain (intermediate then root) as PEM.
// Clients install this chain as a trust anchor for fleet certificates.
//
// Status codes:
//   - 200 OK: chain returned as application/x-pem-file
//   - 404 Not Found: PKI not provisioned yet
//   - 503 Service Unavailable: store is sealed
//   - 502 Bad Gateway: store unreachable
func (h *Handler) HandleCAChain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.store.CAChain(r.Context())
	if err != nil {
		switch {
		case interfaces.IsNotFoundError(err):
			http.Error(w, "CA chain not provisioned", http.StatusNotFound)
		case interfaces.IsSealedStoreError(err):
			http.Error(w, "store is sealed", http.StatusServiceUnavailable)
		default:
			h.log.Error("Failed to read CA chain", "err", err)
			http.Error(w, "store unreachable", http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	if _, err := w.Write(chain); err != nil {
		h.log.Error("Failed to write CA chain response", "err", err)
	}
}
