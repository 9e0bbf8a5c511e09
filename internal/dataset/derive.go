package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/codersbrain/refi-ready/pkg/types"
)

// Qualification thresholds: candidates must sit at or under 80% loan-to-value
// with at least a full point of rate spread.
const (
	MaxLTVRatio   = 80.0
	MinRateSpread = 1.0
)

// keepColumns is the stable output column order for derived datasets.
var keepColumns = []string{
	"borrower_id",
	"full_name",
	"city",
	"state",
	"credit_score",
	"current_interest_rate",
	"market_rate_offer",
	"monthly_savings_est",
	"ltv_ratio",
	"rate_spread",
	"marketing_category",
	"paperless_billing",
	"email_open_last_30d",
	"mobile_app_login_last_30d",
	"sms_opt_in",
}

// Enriched inner-joins the four raw tables (borrower+loan on borrower and
// property, market on property, engagement on borrower) and computes
// full_name, rate_spread and marketing_category per row.
func Enriched(borrowers, loans, market, engagement *Table) (*Table, error) {
	for _, check := range []struct {
		name string
		t    *Table
		cols []string
	}{
		{"borrower", borrowers, []string{"borrower_id", "property_id", "first_name", "last_name"}},
		{"loan", loans, []string{"borrower_id", "property_id", "current_interest_rate"}},
		{"market", market, []string{"property_id", "market_rate_offer", "ltv_ratio"}},
		{"engagement", engagement, []string{"borrower_id"}},
	} {
		for _, col := range check.cols {
			if !check.t.Has(col) {
				return nil, fmt.Errorf("%s table is missing column %q", check.name, col)
			}
		}
	}

	loanIdx := indexRows(loans, "borrower_id", "property_id")
	marketIdx := indexRows(market, "property_id")
	engageIdx := indexRows(engagement, "borrower_id")

	out := &Table{Columns: keepColumns}
	for _, b := range borrowers.Rows {
		loanRows := loanIdx[joinKey(b, "borrower_id", "property_id")]
		marketRows := marketIdx[joinKey(b, "property_id")]
		engageRows := engageIdx[joinKey(b, "borrower_id")]

		for _, l := range loanRows {
			for _, mk := range marketRows {
				for _, e := range engageRows {
					merged := mergeRows(b, l, mk, e)
					merged["full_name"] = strings.TrimSpace(merged["first_name"] + " " + merged["last_name"])

					rate, rateOK := parseFloat(merged["current_interest_rate"])
					offer, offerOK := parseFloat(merged["market_rate_offer"])
					if rateOK && offerOK {
						spread := rate - offer
						merged["rate_spread"] = formatFloat(spread)
						merged["marketing_category"] = string(types.CategorizeSpread(spread))
					}

					row := make(map[string]string, len(keepColumns))
					for _, col := range keepColumns {
						row[col] = merged[col]
					}
					out.Rows = append(out.Rows, row)
				}
			}
		}
	}
	return out, nil
}

// DeriveQualified runs the full join and keeps only qualifying rows, the same
// predicate the qualification query applies. This is the fallback synthesis
// path used when the primary query yields no rows.
func DeriveQualified(borrowers, loans, market, engagement *Table) (*Table, error) {
	enriched, err := Enriched(borrowers, loans, market, engagement)
	if err != nil {
		return nil, err
	}

	out := &Table{Columns: enriched.Columns}
	for _, row := range enriched.Rows {
		ltv, ltvOK := parseFloat(row["ltv_ratio"])
		spread, spreadOK := parseFloat(row["rate_spread"])
		if !ltvOK || !spreadOK {
			continue
		}
		if ltv <= MaxLTVRatio && spread >= MinRateSpread {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func indexRows(t *Table, keys ...string) map[string][]map[string]string {
	idx := make(map[string][]map[string]string, len(t.Rows))
	for _, row := range t.Rows {
		k := joinKey(row, keys...)
		idx[k] = append(idx[k], row)
	}
	return idx
}

func joinKey(row map[string]string, keys ...string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = row[k]
	}
	return strings.Join(parts, "\x1f")
}

// mergeRows merges rows left to right; the leftmost non-empty value wins.
func mergeRows(rows ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, row := range rows {
		for k, v := range row {
			if existing, ok := merged[k]; !ok || existing == "" {
				merged[k] = v
			}
		}
	}
	return merged
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
