package pipeline

import (
	"fmt"
	"strings"

	"github.com/codersbrain/refi-ready/internal/cloud"
)

// Catalog table names, matched to the raw source file base names.
const (
	TableBorrower   = "borrower_information"
	TableLoan       = "loan_information"
	TableMarket     = "market_equity"
	TableEngagement = "borrower_engagement"
)

// TableNames lists the four fixed catalog tables in creation order.
var TableNames = []string{TableBorrower, TableLoan, TableMarket, TableEngagement}

// tableColumns holds the fixed column schema for each catalog table.
var tableColumns = map[string][]cloud.Column{
	TableBorrower: {
		{Name: "borrower_id", Type: "int"},
		{Name: "first_name", Type: "string"},
		{Name: "last_name", Type: "string"},
		{Name: "email", Type: "string"},
		{Name: "phone", Type: "string"},
		{Name: "property_id", Type: "int"},
		{Name: "city", Type: "string"},
		{Name: "state", Type: "string"},
		{Name: "credit_score", Type: "int"},
	},
	TableLoan: {
		{Name: "loan_id", Type: "int"},
		{Name: "borrower_id", Type: "int"},
		{Name: "property_id", Type: "int"},
		{Name: "loan_amount", Type: "double"},
		{Name: "current_interest_rate", Type: "double"},
		{Name: "origination_year", Type: "int"},
		{Name: "loan_type", Type: "string"},
		{Name: "remaining_balance", Type: "double"},
	},
	TableMarket: {
		{Name: "property_id", Type: "int"},
		{Name: "current_home_value", Type: "double"},
		{Name: "estimated_equity_amt", Type: "double"},
		{Name: "ltv_ratio", Type: "double"},
		{Name: "market_rate_offer", Type: "double"},
		{Name: "monthly_savings_est", Type: "double"},
	},
	TableEngagement: {
		{Name: "borrower_id", Type: "int"},
		{Name: "paperless_billing", Type: "string"},
		{Name: "email_open_last_30d", Type: "string"},
		{Name: "mobile_app_login_last_30d", Type: "string"},
		{Name: "sms_opt_in", Type: "string"},
	},
}

// aggregationSQL builds the unified-view query joining the four tables.
func aggregationSQL() string {
	return fmt.Sprintf(`CREATE OR REPLACE VIEW unified_refi_dataset AS
SELECT
    bi.borrower_id,
    bi.first_name,
    bi.last_name,
    li.current_interest_rate,
    me.market_rate_offer,
    me.ltv_ratio,
    me.monthly_savings_est,
    be.paperless_billing,
    be.email_open_last_30d,
    be.mobile_app_login_last_30d,
    be.sms_opt_in
FROM %s bi
JOIN %s li ON bi.borrower_id = li.borrower_id
JOIN %s me ON bi.property_id = me.property_id
JOIN %s be ON bi.borrower_id = be.borrower_id`,
		TableBorrower, TableLoan, TableMarket, TableEngagement)
}

// qualificationSQL builds the query selecting qualifying borrowers with
// their rate spread and marketing tier.
func qualificationSQL() string {
	return strings.TrimSpace(`
SELECT
    borrower_id,
    first_name || ' ' || last_name AS name,
    (current_interest_rate - market_rate_offer) AS rate_spread,
    monthly_savings_est,
    CASE
        WHEN (current_interest_rate - market_rate_offer) > 1.25 THEN 'Immediate Action'
        WHEN (current_interest_rate - market_rate_offer) > 0.75 THEN 'Hot Lead'
        WHEN (current_interest_rate - market_rate_offer) > 0.50 THEN 'Watchlist'
        ELSE 'Ineligible'
    END AS marketing_category
FROM unified_refi_dataset
WHERE ltv_ratio <= 80
  AND (current_interest_rate - market_rate_offer) >= 1.0`)
}

// countSQL builds a row-count query for one table.
func countSQL(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) AS cnt FROM %s", table)
}
