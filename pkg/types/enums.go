// Package types defines the public domain types for the Refi-Ready pipeline service.
package types

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

// RunStatus values represent the lifecycle states of a pipeline run.
const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Stage identifies one step of the orchestration sequence.
type Stage string

// Stage values enumerate the orchestrator's stages in execution order.
const (
	StageUpload           Stage = "upload"
	StageCrawl            Stage = "crawl"
	StageMatchSchema      Stage = "register-match-schema"
	StageMatchWorkflow    Stage = "resolve-match-workflow"
	StageMatchJob         Stage = "run-match-job"
	StageRecreateTables   Stage = "recreate-catalog-tables"
	StageValidateNonEmpty Stage = "validate-non-empty"
	StageAggregation      Stage = "aggregation-query"
	StageQualification    Stage = "qualification-query"
	StageFallback         Stage = "synthesize-fallback"
)

// StageStatus represents the terminal outcome of a single stage.
type StageStatus string

// StageStatus values enumerate the possible stage outcomes.
const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// MarketingCategory is the outreach tier assigned to a qualified borrower.
type MarketingCategory string

// MarketingCategory values, ordered from most to least urgent.
const (
	CategoryImmediateAction MarketingCategory = "Immediate Action"
	CategoryHotLead         MarketingCategory = "Hot Lead"
	CategoryWatchlist       MarketingCategory = "Watchlist"
	CategoryIneligible      MarketingCategory = "Ineligible"
)

// Categories returns all marketing categories in display order.
func Categories() []MarketingCategory {
	return []MarketingCategory{
		CategoryImmediateAction,
		CategoryHotLead,
		CategoryWatchlist,
		CategoryIneligible,
	}
}

// CategorizeSpread maps a rate spread to its marketing category. Tiers are
// evaluated top-down with strict comparisons, so boundary values fall into
// the lower tier (spread of exactly 1.25 is a Hot Lead, not Immediate Action).
func CategorizeSpread(rateSpread float64) MarketingCategory {
	switch {
	case rateSpread > 1.25:
		return CategoryImmediateAction
	case rateSpread > 0.75:
		return CategoryHotLead
	case rateSpread > 0.50:
		return CategoryWatchlist
	default:
		return CategoryIneligible
	}
}
