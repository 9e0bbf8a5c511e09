package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/codersbrain/refi-ready/pkg/types"
)

// leadsResponse is the presentation payload: reconciled records with numeric
// fields rounded for display, plus dataset provenance.
type leadsResponse struct {
	Count      int                       `json:"count"`
	Provenance string                    `json:"provenance"`
	Categories []types.MarketingCategory `json:"categories"`
	Leads      []types.LeadRecord        `json:"leads"`
}

// Leads loads the reconciled dataset and returns it. When no output artifact
// is reachable the response is a 503 carrying the expected location.
func (h *Handlers) Leads(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.Load(r.Context())
	if err != nil {
		h.logger.Error("reconcile load failed", "error", err, "expected_location", h.reconciler.ExpectedLocation())
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "no pipeline output available",
			"expected_location": h.reconciler.ExpectedLocation(),
		})
		return
	}

	leads := make([]types.LeadRecord, len(res.Leads))
	for i, lead := range res.Leads {
		leads[i] = lead.Rounded()
	}

	if err := json.NewEncoder(w).Encode(leadsResponse{
		Count:      len(leads),
		Provenance: res.Provenance,
		Categories: types.Categories(),
		Leads:      leads,
	}); err != nil {
		h.logger.Error("failed to encode leads response", "error", err)
	}
}
