package facilitator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/x402pay/x402-go"
)

// Handler returns the facilitator's HTTP surface mounted on a chi router:
//
//	POST /verify     - verify a payment header against requirements
//	POST /settle     - verify and settle a payment on chain
//	GET  /supported  - list accepted (scheme, network) combinations
//	GET  /health     - liveness probe
//	GET  /metrics    - Prometheus metrics
//
// Semantic verification failures are reported with status 200 and a body
// describing the failure. A settlement that fails returns 400 with the
// SettlementResponse body; 400 is also used for malformed request bodies
// and 500 for facilitator-side faults.
func (f *Facilitator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Post("/verify", f.handleVerify)
	r.Post("/settle", f.handleSettle)
	r.Get("/supported", f.handleSupported)
	r.Get("/health", f.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(f.promRegistry, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *Facilitator) handleVerify(w http.ResponseWriter, r *http.Request) {
	var request x402.VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		f.logger.Info("malformed verify request", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	resp, err := f.Verify(r.Context(), &request)
	if err != nil {
		f.logger.Error("verify handler failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *Facilitator) handleSettle(w http.ResponseWriter, r *http.Request) {
	var request x402.SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		f.logger.Info("malformed settle request", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	resp, err := f.Settle(r.Context(), &request)
	if err != nil {
		f.logger.Error("settle handler failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if resp.Error != "" {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *Facilitator) handleSupported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, f.Supported())
}

func (f *Facilitator) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
