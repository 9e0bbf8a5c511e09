package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codersbrain/refi-ready/internal/cloud"
)

type fakeStore struct {
	objects map[string][]byte
	listing []cloud.Object
	listErr error
}

func (f *fakeStore) Bucket() string { return "test-bucket" }

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return data, nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]cloud.Object, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []cloud.Object
	for _, obj := range f.listing {
		if strings.HasPrefix(obj.Key, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func at(sec int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const rawBorrowers = "borrower_id,property_id,first_name,last_name,city,state,credit_score\n1,p1,Ava,Stone,Austin,TX,720\n"
const rawLoans = "borrower_id,property_id,current_interest_rate,monthly_savings_est\n1,p1,7.5,310.5\n"
const rawMarket = "property_id,market_rate_offer,ltv_ratio\np1,5.25,62.5\n"
const rawEngagement = "borrower_id,paperless_billing,email_open_last_30d,mobile_app_login_last_30d,sms_opt_in\n1,true,yes,false,1\n"

func storeWithRawTables() *fakeStore {
	return &fakeStore{objects: map[string][]byte{
		"raw/borrower_information.csv": []byte(rawBorrowers),
		"raw/loan_information.csv":     []byte(rawLoans),
		"raw/market_equity.csv":        []byte(rawMarket),
		"raw/borrower_engagement.csv":  []byte(rawEngagement),
	}}
}

func TestSelectArtifactLatestFallbackWhenNoPrimary(t *testing.T) {
	objects := []cloud.Object{
		{Key: "output/fallback-x.csv", LastModified: at(10)},
		{Key: "output/fallback-y.csv", LastModified: at(20)},
	}

	key, hadPrimary := SelectArtifact(objects)
	assert.Equal(t, "output/fallback-y.csv", key)
	assert.False(t, hadPrimary)
}

func TestSelectArtifactPrimaryBeatsNewerFallback(t *testing.T) {
	objects := []cloud.Object{
		{Key: "output/output-a.csv", LastModified: at(5)},
		{Key: "output/fallback-z.csv", LastModified: at(30)},
	}

	key, hadPrimary := SelectArtifact(objects)
	assert.Equal(t, "output/output-a.csv", key)
	assert.True(t, hadPrimary)
}

func TestSelectArtifactIsIdempotent(t *testing.T) {
	objects := []cloud.Object{
		{Key: "output/fallback-z.csv", LastModified: at(30)},
		{Key: "output/exec-1.csv", LastModified: at(5)},
		{Key: "output/exec-2.csv", LastModified: at(8)},
	}

	first, _ := SelectArtifact(objects)
	for i := 0; i < 5; i++ {
		key, _ := SelectArtifact(objects)
		assert.Equal(t, first, key)
	}
	assert.Equal(t, "output/exec-2.csv", first)
}

func TestSelectArtifactIgnoresMetadataSideFiles(t *testing.T) {
	objects := []cloud.Object{
		{Key: "output/exec-1.csv.metadata", LastModified: at(50)},
		{Key: "output/exec-1.csv", LastModified: at(10)},
	}

	key, hadPrimary := SelectArtifact(objects)
	assert.Equal(t, "output/exec-1.csv", key)
	assert.True(t, hadPrimary)
}

func TestLoadNoArtifactReturnsNoOutputError(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{}}
	rec := New(store, "raw/", "output/", testLogger())

	_, err := rec.Load(context.Background())
	var noOutput *NoOutputError
	require.ErrorAs(t, err, &noOutput)
	assert.Equal(t, "s3://test-bucket/output/", noOutput.Location)
}

func TestLoadComputesMissingSpreadAndTier(t *testing.T) {
	store := storeWithRawTables()
	store.objects["output/exec-9.csv"] = []byte(
		"borrower_id,full_name,current_interest_rate,market_rate_offer,monthly_savings_est,ltv_ratio\n" +
			"1,Ava Stone,5.5,4.0,120.0,70.0\n")
	store.listing = []cloud.Object{{Key: "output/exec-9.csv", LastModified: at(1)}}

	rec := New(store, "raw/", "output/", testLogger())
	res, err := rec.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)

	// The spread comes from the row's own rates, not the 2.25 the raw-table
	// enrichment would supply; backfill still fills the columns the row lacks.
	lead := res.Leads[0]
	assert.InDelta(t, 1.5, lead.RateSpread, 1e-9)
	assert.Equal(t, "Immediate Action", string(lead.MarketingCategory))
	assert.Equal(t, "Austin", lead.City)
	assert.True(t, lead.PaperlessBilling)
	assert.Equal(t, "s3://test-bucket/output/exec-9.csv", res.Provenance)
}

func TestLoadRenamesLegacyNameColumn(t *testing.T) {
	store := storeWithRawTables()
	store.objects["output/exec-3.csv"] = []byte(
		"borrower_id,name,current_interest_rate,market_rate_offer,monthly_savings_est,ltv_ratio,rate_spread\n" +
			"1,Ava Stone,7.5,5.25,310.5,62.5,2.25\n")
	store.listing = []cloud.Object{{Key: "output/exec-3.csv", LastModified: at(1)}}

	rec := New(store, "raw/", "output/", testLogger())
	res, err := rec.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)
	assert.Equal(t, "Ava Stone", res.Leads[0].FullName)
}

func TestLoadDropsRowsWithUnusableNumerics(t *testing.T) {
	store := storeWithRawTables()
	store.objects["output/exec-4.csv"] = []byte(
		"borrower_id,full_name,current_interest_rate,market_rate_offer,monthly_savings_est,ltv_ratio,rate_spread\n" +
			"1,Good Row,7.5,5.25,310.5,62.5,2.25\n" +
			"2,Bad Row,not-a-number,5.25,310.5,62.5,2.25\n" +
			"3,Other Bad Row,7.5,5.25,,62.5,2.25\n")
	store.listing = []cloud.Object{{Key: "output/exec-4.csv", LastModified: at(1)}}

	rec := New(store, "raw/", "output/", testLogger())
	res, err := rec.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)
	assert.Equal(t, "Good Row", res.Leads[0].FullName)
}

func TestLoadSortsByMonthlySavingsDescending(t *testing.T) {
	store := storeWithRawTables()
	store.objects["output/exec-5.csv"] = []byte(
		"borrower_id,full_name,current_interest_rate,market_rate_offer,monthly_savings_est,ltv_ratio,rate_spread\n" +
			"1,Low,7.5,5.25,100,62.5,2.25\n" +
			"2,High,7.5,5.25,300,62.5,2.25\n" +
			"3,Mid,7.5,5.25,200,62.5,2.25\n")
	store.listing = []cloud.Object{{Key: "output/exec-5.csv", LastModified: at(1)}}

	rec := New(store, "raw/", "output/", testLogger())
	res, err := rec.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Leads, 3)
	assert.Equal(t, "High", res.Leads[0].FullName)
	assert.Equal(t, "Mid", res.Leads[1].FullName)
	assert.Equal(t, "Low", res.Leads[2].FullName)
}

func TestLoadBackfillsMissingColumnsFromRawTables(t *testing.T) {
	store := storeWithRawTables()
	// Artifact carries only identifiers; everything else must come from the
	// raw-table re-join keyed by borrower_id.
	store.objects["output/exec-6.csv"] = []byte("borrower_id,full_name\n1,Ava Stone\n")
	store.listing = []cloud.Object{{Key: "output/exec-6.csv", LastModified: at(1)}}

	rec := New(store, "raw/", "output/", testLogger())
	res, err := rec.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)

	lead := res.Leads[0]
	assert.Equal(t, "Austin", lead.City)
	assert.InDelta(t, 7.5, lead.CurrentInterestRate, 1e-9)
	assert.InDelta(t, 2.25, lead.RateSpread, 1e-9)
	assert.Equal(t, "Immediate Action", string(lead.MarketingCategory))
	assert.True(t, lead.PaperlessBilling)
}

func TestLoadEmptyFallbackDerivesFromRaw(t *testing.T) {
	store := storeWithRawTables()
	store.objects["output/fallback-empty.csv"] = []byte("")
	store.listing = []cloud.Object{{Key: "output/fallback-empty.csv", LastModified: at(1)}}

	rec := New(store, "raw/", "output/", testLogger())
	res, err := rec.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)
	assert.Equal(t, "Ava Stone", res.Leads[0].FullName)
	assert.Equal(t, "s3://test-bucket/output/ (derived)", res.Provenance)
}

func TestLoadEmptyPrimaryIsServedAsIs(t *testing.T) {
	store := storeWithRawTables()
	store.objects["output/exec-7.csv"] = []byte("")
	store.listing = []cloud.Object{{Key: "output/exec-7.csv", LastModified: at(1)}}

	rec := New(store, "raw/", "output/", testLogger())
	res, err := rec.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Leads)
	assert.Equal(t, "s3://test-bucket/output/exec-7.csv", res.Provenance)
}
