package dataset

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/codersbrain/refi-ready/pkg/types"
)

// requiredColumns must all be present after normalization; when any is
// missing the reconciler re-joins the raw tables and backfills.
var requiredColumns = []string{
	"full_name",
	"current_interest_rate",
	"market_rate_offer",
	"ltv_ratio",
	"paperless_billing",
	"email_open_last_30d",
	"mobile_app_login_last_30d",
	"sms_opt_in",
	"city",
	"state",
	"credit_score",
}

// engagementFlags are the boolean engagement columns.
var engagementFlags = []string{
	"paperless_billing",
	"email_open_last_30d",
	"mobile_app_login_last_30d",
	"sms_opt_in",
}

// RenameLegacyColumns renames the legacy "name" column to "full_name".
func RenameLegacyColumns(t *Table) *Table {
	if !t.Has("name") || t.Has("full_name") {
		return t
	}
	out := t.Clone()
	for i, col := range out.Columns {
		if col == "name" {
			out.Columns[i] = "full_name"
		}
	}
	for _, row := range out.Rows {
		row["full_name"] = row["name"]
		delete(row, "name")
	}
	return out
}

// SplitFullName derives first_name and last_name by splitting full_name on
// the first space. A name without a second token gets an empty last name.
func SplitFullName(t *Table) *Table {
	if !t.Has("full_name") || t.Has("first_name") {
		return t
	}
	out := t.Clone()
	out.addColumn("first_name", func(row map[string]string) string {
		first, _, _ := strings.Cut(row["full_name"], " ")
		return first
	})
	if !out.Has("last_name") {
		out.Columns = append(out.Columns, "last_name")
		for _, row := range out.Rows {
			_, last, _ := strings.Cut(row["full_name"], " ")
			row["last_name"] = last
		}
	}
	return out
}

// MissingRequired returns the required columns absent from the table.
func MissingRequired(t *Table) []string {
	var missing []string
	for _, col := range requiredColumns {
		if !t.Has(col) {
			missing = append(missing, col)
		}
	}
	return missing
}

// Backfill left-merges enrichment columns onto t by borrower_id, adding
// absent columns wholesale and filling only empty cells in existing ones.
// Existing non-missing values always win.
func Backfill(t, enriched *Table) *Table {
	if !t.Has("borrower_id") {
		return t
	}
	idx := indexRows(enriched, "borrower_id")

	out := t.Clone()
	for _, col := range enriched.Columns {
		if col == "borrower_id" {
			continue
		}
		if !out.Has(col) {
			out.Columns = append(out.Columns, col)
		}
	}
	for _, row := range out.Rows {
		matches := idx[joinKey(row, "borrower_id")]
		if len(matches) == 0 {
			continue
		}
		enrichedRow := matches[0]
		for _, col := range enriched.Columns {
			if col == "borrower_id" {
				continue
			}
			if row[col] == "" {
				row[col] = enrichedRow[col]
			}
		}
	}
	return out
}

// DefaultFill adds sentinel defaults for columns that are absent entirely:
// city/state "N/A", credit_score 0, engagement flags false.
func DefaultFill(t *Table) *Table {
	out := t.Clone()
	out.addColumn("city", func(map[string]string) string { return "N/A" })
	out.addColumn("state", func(map[string]string) string { return "N/A" })
	out.addColumn("credit_score", func(map[string]string) string { return "0" })
	for _, flag := range engagementFlags {
		out.addColumn(flag, func(map[string]string) string { return "false" })
	}
	return out
}

// ComputeDerived fills in the computed columns when absent: rate_spread from
// the two rates, marketing_category from rate_spread, full_name from the
// name parts.
func ComputeDerived(t *Table) *Table {
	out := t.Clone()
	if !out.Has("rate_spread") && out.Has("current_interest_rate") && out.Has("market_rate_offer") {
		out.addColumn("rate_spread", func(row map[string]string) string {
			rate, rateOK := parseFloat(row["current_interest_rate"])
			offer, offerOK := parseFloat(row["market_rate_offer"])
			if !rateOK || !offerOK {
				return ""
			}
			return formatFloat(rate - offer)
		})
	}
	if !out.Has("marketing_category") && out.Has("rate_spread") {
		out.addColumn("marketing_category", func(row map[string]string) string {
			spread, ok := parseFloat(row["rate_spread"])
			if !ok {
				return ""
			}
			return string(types.CategorizeSpread(spread))
		})
	}
	if !out.Has("full_name") && out.Has("first_name") && out.Has("last_name") {
		out.addColumn("full_name", func(row map[string]string) string {
			return strings.TrimSpace(row["first_name"] + " " + row["last_name"])
		})
	}
	return out
}

// ParseFlag maps a textual engagement flag to a boolean. Only "true", "1",
// "yes" and "y" (case-insensitive) are true; everything else is false.
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	default:
		return false
	}
}

// Materialize coerces rows into typed records, dropping any row whose
// required numeric fields are missing or not finite, and sorts the result
// descending by estimated monthly savings (stable; ties keep their original
// relative order). Returns the records and the number of dropped rows.
func Materialize(t *Table) ([]types.LeadRecord, int) {
	records := make([]types.LeadRecord, 0, len(t.Rows))
	dropped := 0

	for _, row := range t.Rows {
		rate, ok1 := finiteFloat(row["current_interest_rate"])
		offer, ok2 := finiteFloat(row["market_rate_offer"])
		savings, ok3 := finiteFloat(row["monthly_savings_est"])
		ltv, ok4 := finiteFloat(row["ltv_ratio"])
		spread, ok5 := finiteFloat(row["rate_spread"])
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			dropped++
			continue
		}

		borrowerID, _ := strconv.Atoi(strings.TrimSpace(row["borrower_id"]))
		creditScore, _ := strconv.Atoi(strings.TrimSpace(row["credit_score"]))

		records = append(records, types.LeadRecord{
			BorrowerID:            borrowerID,
			FullName:              row["full_name"],
			City:                  row["city"],
			State:                 row["state"],
			CreditScore:           creditScore,
			CurrentInterestRate:   rate,
			MarketRateOffer:       offer,
			MonthlySavingsEst:     savings,
			LTVRatio:              ltv,
			RateSpread:            spread,
			MarketingCategory:     types.MarketingCategory(row["marketing_category"]),
			PaperlessBilling:      ParseFlag(row["paperless_billing"]),
			EmailOpenLast30d:      ParseFlag(row["email_open_last_30d"]),
			MobileAppLoginLast30d: ParseFlag(row["mobile_app_login_last_30d"]),
			SMSOptIn:              ParseFlag(row["sms_opt_in"]),
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].MonthlySavingsEst > records[j].MonthlySavingsEst
	})
	return records, dropped
}

func finiteFloat(s string) (float64, bool) {
	v, ok := parseFloat(s)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
