package types

import (
	"math"
	"time"
)

// RunSnapshot is a point-in-time copy of the pipeline run record, safe to
// serialize while the run is still mutating.
type RunSnapshot struct {
	Status     RunStatus  `json:"status"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	ExitCode   *int       `json:"exit_code"`
	Message    string     `json:"message"`
	LastOutput []string   `json:"last_output"`
	SourceKey  *string    `json:"source_key"`
}

// StageResult records the terminal outcome of one orchestrator stage. It is
// not persisted; it exists only for logging and stage-to-stage decisions
// within a single run.
type StageResult struct {
	Stage  Stage       `json:"stage"`
	Status StageStatus `json:"status"`
	JobID  string      `json:"job_id,omitempty"`
}

// LeadRecord is one reconciled borrower row ready for presentation.
type LeadRecord struct {
	BorrowerID            int               `json:"borrower_id"`
	FullName              string            `json:"full_name"`
	City                  string            `json:"city"`
	State                 string            `json:"state"`
	CreditScore           int               `json:"credit_score"`
	CurrentInterestRate   float64           `json:"current_interest_rate"`
	MarketRateOffer       float64           `json:"market_rate_offer"`
	MonthlySavingsEst     float64           `json:"monthly_savings_est"`
	LTVRatio              float64           `json:"ltv_ratio"`
	RateSpread            float64           `json:"rate_spread"`
	MarketingCategory     MarketingCategory `json:"marketing_category"`
	PaperlessBilling      bool              `json:"paperless_billing"`
	EmailOpenLast30d      bool              `json:"email_open_last_30d"`
	MobileAppLoginLast30d bool              `json:"mobile_app_login_last_30d"`
	SMSOptIn              bool              `json:"sms_opt_in"`
}

// Rounded returns a copy of the record with all numeric fields rounded to two
// decimal places. Rounding happens only at serialization time; the retained
// dataset keeps full precision.
func (r LeadRecord) Rounded() LeadRecord {
	r.CurrentInterestRate = round2(r.CurrentInterestRate)
	r.MarketRateOffer = round2(r.MarketRateOffer)
	r.MonthlySavingsEst = round2(r.MonthlySavingsEst)
	r.LTVRatio = round2(r.LTVRatio)
	r.RateSpread = round2(r.RateSpread)
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
