package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/chainforge/evmindex/internal/indexcache"
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/internal/status"
)

// Handler serves the core HTTP surface: liveness, readiness, status and an
// optional SQL proxy over the indexed tables. Custom user routes are
// mounted alongside these by Server, not by Handler.
type Handler struct {
	status  *status.Store
	cache   *indexcache.Cache
	log     *logger.Logger
	sqlOpen bool
}

func NewHandler(statusStore *status.Store, cache *indexcache.Cache, sqlOpen bool, log *logger.Logger) *Handler {
	return &Handler{status: statusStore, cache: cache, sqlOpen: sqlOpen, log: log}
}

// Health always answers 200: it reports the process is alive, not that any
// chain has caught up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready answers 200 only once every chain reports ready, 503 otherwise.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.status.GetStatus(r.Context())
	if err != nil {
		h.log.Errorf("ready check: load status: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load chain status")
		return
	}

	resp := ReadyResponse{Ready: status.Ready(statuses), Chains: toChainSummaries(statuses)}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

// Status reports every chain's current block and readiness, regardless of
// whether the aggregate is ready.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.status.GetStatus(r.Context())
	if err != nil {
		h.log.Errorf("status: load status: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load chain status")
		return
	}
	respondJSON(w, http.StatusOK, toChainSummaries(statuses))
}

func toChainSummaries(statuses map[uint64]status.ChainStatus) map[string]ChainSummary {
	out := make(map[string]ChainSummary, len(statuses))
	for chainID, st := range statuses {
		out[strconv.FormatUint(chainID, 10)] = ChainSummary{
			Ready: st.Ready,
			Block: BlockMarker{Number: st.BlockNumber, Timestamp: st.BlockTimestamp},
		}
	}
	return out
}

// SQLQuery proxies a single read-only query against the indexed tables.
// Disabled unless the operator opted in, since it exposes the raw schema.
func (h *Handler) SQLQuery(w http.ResponseWriter, r *http.Request) {
	if !h.sqlOpen {
		respondError(w, http.StatusNotFound, "sql proxy is disabled")
		return
	}

	var req SQLQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !isReadOnlyQuery(req.Query) {
		respondError(w, http.StatusBadRequest, "only SELECT statements are allowed")
		return
	}

	rows, err := h.cache.SQL(r.Context(), req.Query, req.Args...)
	if err != nil {
		h.log.Errorf("sql proxy: %v", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	respondJSON(w, http.StatusOK, SQLQueryResponse{Rows: rows})
}

// isReadOnlyQuery is a conservative first-word check, not a SQL parser: it
// exists to keep the proxy from running an obvious mutation, not to defend
// against a hostile client that already has access to this endpoint.
func isReadOnlyQuery(query string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH")
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
