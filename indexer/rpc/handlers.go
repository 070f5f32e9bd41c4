package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/tokens"
)

const defaultTransferLimit = 50

// apiHandler serves the read-only JSON views over the indexed data.
type apiHandler struct {
	db     store.Store
	tokens *tokens.Service
}

func newAPIHandler(db store.Store, tokenService *tokens.Service) *apiHandler {
	return &apiHandler{db: db, tokens: tokenService}
}

func (h *apiHandler) routes(r chi.Router) {
	r.Get("/transfers", h.listTransfers)
	r.Get("/transfers/{packetID}", h.getTransfer)
	r.Get("/channels", h.listChannels)
	r.Get("/relayers", h.listRelayers)
	r.Get("/relayers/{address}", h.getRelayer)
	// denoms can carry a slash (ibc/<hash>), so the token route is a wildcard
	r.Get("/tokens/*", h.getToken)
}

// network resolves the ?network= query parameter, defaulting to mainnet.
func network(r *http.Request) (models.Network, bool) {
	switch r.URL.Query().Get("network") {
	case "", string(models.NetworkMainnet):
		return models.NetworkMainnet, true
	case string(models.NetworkTestnet):
		return models.NetworkTestnet, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		Logger.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// storeError maps store failures onto API responses.
func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	Logger.Error().Err(err).Msg("store query failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *apiHandler) getTransfer(w http.ResponseWriter, r *http.Request) {
	net, ok := network(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown network")
		return
	}

	transfer, err := h.db.GetTransfer(r.Context(), chi.URLParam(r, "packetID"), net)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

// listTransfers returns the transfer for a tx hash when ?tx_hash= is given,
// otherwise the most recent transfers up to ?limit=.
func (h *apiHandler) listTransfers(w http.ResponseWriter, r *http.Request) {
	net, ok := network(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown network")
		return
	}

	if txHash := r.URL.Query().Get("tx_hash"); txHash != "" {
		transfer, err := h.db.GetTransferByTxHash(r.Context(), txHash, net)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, transfer)
		return
	}

	limit := defaultTransferLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	transfers, err := h.db.ListRecentTransfers(r.Context(), net, limit)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (h *apiHandler) listChannels(w http.ResponseWriter, r *http.Request) {
	net, ok := network(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown network")
		return
	}

	channels, err := h.db.ListChannels(r.Context(), net)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (h *apiHandler) listRelayers(w http.ResponseWriter, r *http.Request) {
	net, ok := network(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown network")
		return
	}

	relayers, err := h.db.ListRelayers(r.Context(), net)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relayers": relayers})
}

func (h *apiHandler) getRelayer(w http.ResponseWriter, r *http.Request) {
	net, ok := network(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown network")
		return
	}

	relayer, err := h.db.GetRelayer(r.Context(), chi.URLParam(r, "address"), net)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, relayer)
}

func (h *apiHandler) getToken(w http.ResponseWriter, r *http.Request) {
	denom := chi.URLParam(r, "*")
	if denom == "" {
		writeError(w, http.StatusBadRequest, "denom is required")
		return
	}
	writeJSON(w, http.StatusOK, h.tokens.GetToken(r.Context(), denom))
}
