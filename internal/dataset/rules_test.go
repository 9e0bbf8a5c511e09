package dataset

import (
	"strings"
	"testing"

	"github.com/codersbrain/refi-ready/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenameLegacyColumns(t *testing.T) {
	tbl := &Table{
		Columns: []string{"borrower_id", "name"},
		Rows:    []map[string]string{{"borrower_id": "1", "name": "Ada Lovelace"}},
	}

	out := RenameLegacyColumns(tbl)
	assert.True(t, out.Has("full_name"))
	assert.False(t, out.Has("name"))
	assert.Equal(t, "Ada Lovelace", out.Rows[0]["full_name"])

	// Input untouched.
	assert.True(t, tbl.Has("name"))
}

func TestSplitFullName(t *testing.T) {
	tbl := &Table{
		Columns: []string{"full_name"},
		Rows: []map[string]string{
			{"full_name": "Ada Lovelace"},
			{"full_name": "Prince"},
			{"full_name": "Mary Ann Evans"},
		},
	}

	out := SplitFullName(tbl)
	assert.Equal(t, "Ada", out.Rows[0]["first_name"])
	assert.Equal(t, "Lovelace", out.Rows[0]["last_name"])
	assert.Equal(t, "Prince", out.Rows[1]["first_name"])
	assert.Equal(t, "", out.Rows[1]["last_name"])
	// Split on the first space only.
	assert.Equal(t, "Mary", out.Rows[2]["first_name"])
	assert.Equal(t, "Ann Evans", out.Rows[2]["last_name"])
}

func TestBackfillPrefersExistingValues(t *testing.T) {
	loaded := &Table{
		Columns: []string{"borrower_id", "city", "rate_spread"},
		Rows: []map[string]string{
			{"borrower_id": "1", "city": "Denver", "rate_spread": "1.5"},
			{"borrower_id": "2", "city": "", "rate_spread": "1.1"},
		},
	}
	enriched := &Table{
		Columns: []string{"borrower_id", "city", "credit_score"},
		Rows: []map[string]string{
			{"borrower_id": "1", "city": "Boulder", "credit_score": "710"},
			{"borrower_id": "2", "city": "Austin", "credit_score": "680"},
		},
	}

	out := Backfill(loaded, enriched)

	// Existing non-missing value wins; gaps are filled.
	assert.Equal(t, "Denver", out.Rows[0]["city"])
	assert.Equal(t, "Austin", out.Rows[1]["city"])
	// Absent column added wholesale.
	assert.Equal(t, "710", out.Rows[0]["credit_score"])
	// Untouched columns survive.
	assert.Equal(t, "1.5", out.Rows[0]["rate_spread"])
}

func TestDefaultFill(t *testing.T) {
	tbl := &Table{
		Columns: []string{"borrower_id", "city"},
		Rows:    []map[string]string{{"borrower_id": "1", "city": "Denver"}},
	}

	out := DefaultFill(tbl)
	assert.Equal(t, "Denver", out.Rows[0]["city"], "present column untouched")
	assert.Equal(t, "N/A", out.Rows[0]["state"])
	assert.Equal(t, "0", out.Rows[0]["credit_score"])
	assert.Equal(t, "false", out.Rows[0]["sms_opt_in"])
}

func TestComputeDerivedSpreadAndCategory(t *testing.T) {
	// Scenario: rates present, no rate_spread column.
	tbl := &Table{
		Columns: []string{"current_interest_rate", "market_rate_offer"},
		Rows: []map[string]string{
			{"current_interest_rate": "5.5", "market_rate_offer": "4.0"},
		},
	}

	out := ComputeDerived(tbl)
	assert.Equal(t, "1.5", out.Rows[0]["rate_spread"])
	assert.Equal(t, string(types.CategoryImmediateAction), out.Rows[0]["marketing_category"])
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		in       string
		expected bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"Y", true},
		{" y ", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseFlag(tt.in), "flag %q", tt.in)
	}
}

func TestMaterializeDropsRowsMissingNumerics(t *testing.T) {
	tbl := &Table{
		Columns: []string{
			"borrower_id", "full_name", "current_interest_rate", "market_rate_offer",
			"monthly_savings_est", "ltv_ratio", "rate_spread", "marketing_category",
		},
		Rows: []map[string]string{
			{
				"borrower_id": "1", "full_name": "Ada Lovelace",
				"current_interest_rate": "6.5", "market_rate_offer": "5.0",
				"monthly_savings_est": "250", "ltv_ratio": "70", "rate_spread": "1.5",
				"marketing_category": "Immediate Action",
			},
			{
				"borrower_id": "2", "full_name": "No Savings",
				"current_interest_rate": "6.0", "market_rate_offer": "5.0",
				"monthly_savings_est": "", "ltv_ratio": "75", "rate_spread": "1.0",
			},
			{
				"borrower_id": "3", "full_name": "Bad LTV",
				"current_interest_rate": "6.0", "market_rate_offer": "5.0",
				"monthly_savings_est": "100", "ltv_ratio": "not-a-number", "rate_spread": "1.0",
			},
			{
				"borrower_id": "4", "full_name": "Infinite",
				"current_interest_rate": "6.0", "market_rate_offer": "5.0",
				"monthly_savings_est": "+Inf", "ltv_ratio": "75", "rate_spread": "1.0",
			},
		},
	}

	records, dropped := Materialize(tbl)
	require.Len(t, records, 1)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 1, records[0].BorrowerID)
	assert.Equal(t, types.CategoryImmediateAction, records[0].MarketingCategory)
}

func TestMaterializeSortsBySavingsDescStable(t *testing.T) {
	row := func(id, savings string) map[string]string {
		return map[string]string{
			"borrower_id": id, "current_interest_rate": "6.0", "market_rate_offer": "5.0",
			"monthly_savings_est": savings, "ltv_ratio": "70", "rate_spread": "1.0",
		}
	}
	tbl := &Table{
		Columns: []string{
			"borrower_id", "current_interest_rate", "market_rate_offer",
			"monthly_savings_est", "ltv_ratio", "rate_spread",
		},
		Rows: []map[string]string{
			row("1", "100"), row("2", "300"), row("3", "100"), row("4", "200"),
		},
	}

	records, dropped := Materialize(tbl)
	require.Zero(t, dropped)

	ids := make([]int, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.BorrowerID)
	}
	// Ties (1 and 3) keep their original relative order.
	assert.Equal(t, []int{2, 4, 1, 3}, ids)
}

func TestMaterializeColumnOrderIndependent(t *testing.T) {
	csvA := "borrower_id,current_interest_rate,market_rate_offer,monthly_savings_est,ltv_ratio,rate_spread\n1,6.5,5.0,250,70,1.5\n"
	csvB := "rate_spread,ltv_ratio,monthly_savings_est,market_rate_offer,current_interest_rate,borrower_id\n1.5,70,250,5.0,6.5,1\n"

	ta, err := ReadCSV(strings.NewReader(csvA))
	require.NoError(t, err)
	tb, err := ReadCSV(strings.NewReader(csvB))
	require.NoError(t, err)

	ra, _ := Materialize(ta)
	rb, _ := Materialize(tb)
	assert.Equal(t, ra, rb)
}
