package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidflow/internal/types"
)

func row(campaignID string, impressions, clicks int64, spend, sales float64, purchases int64) types.ReportRow {
	return types.ReportRow{
		CampaignID:   campaignID,
		CampaignName: "Campaign " + campaignID,
		Impressions:  impressions,
		Clicks:       clicks,
		Spend:        spend,
		Sales14d:     sales,
		Purchases14d: purchases,
	}
}

func TestAggregateCampaignRows_MergesDuplicateKeys(t *testing.T) {
	rows := []types.ReportRow{
		row("42", 100, 10, 5, 50, 2),
		row("42", 50, 5, 3, 0, 0),
	}

	staged := aggregateCampaignRows("cred-1", "snap-1", "Campaign-30 Days - ts", rows)
	require.Len(t, staged, 1)

	got := staged[0]
	assert.Equal(t, "cred-1", got.CredentialID)
	assert.Equal(t, "snap-1", got.SnapshotID)
	assert.Equal(t, "42", got.CampaignID)
	assert.Equal(t, "30_day", got.ReportType)
	assert.Equal(t, int64(150), got.Impressions)
	assert.Equal(t, int64(15), got.Clicks)
	assert.Equal(t, 8.0, got.Spend)
	assert.Equal(t, 50.0, got.Sales)
	assert.Equal(t, int64(2), got.Purchases)

	require.NotNil(t, got.CTR)
	assert.InDelta(t, 0.1, *got.CTR, 1e-9)
	require.NotNil(t, got.CPC)
	assert.InDelta(t, 8.0/15.0, *got.CPC, 1e-9)
	require.NotNil(t, got.ACOS)
	assert.InDelta(t, 16.0, *got.ACOS, 1e-9)
	require.NotNil(t, got.CVR)
	assert.InDelta(t, 2.0/15.0, *got.CVR, 1e-9)
}

func TestAggregateCampaignRows_DistinctCampaignsStaySeparate(t *testing.T) {
	rows := []types.ReportRow{
		row("1", 10, 1, 1, 1, 1),
		row("2", 20, 2, 2, 2, 2),
	}
	staged := aggregateCampaignRows("cred-1", "snap-1", "Campaign-7 Days - ts", rows)
	require.Len(t, staged, 2)
	assert.Equal(t, "7_day", staged[0].ReportType)
}

func TestAggregateCampaignRows_NilRatiosOnZeroDenominators(t *testing.T) {
	staged := aggregateCampaignRows("cred-1", "snap-1", "Campaign-Yesterday - ts", []types.ReportRow{
		row("1", 0, 0, 0, 0, 0),
	})
	require.Len(t, staged, 1)

	got := staged[0]
	assert.Nil(t, got.CTR, "zero impressions must yield nil CTR, not zero")
	assert.Nil(t, got.CPC)
	assert.Nil(t, got.ACOS)
	assert.Nil(t, got.CVR)
}

func TestAggregateCampaignRows_ZeroRateIsNotNil(t *testing.T) {
	// Impressions with no clicks: CTR is a true zero, CPC has no data.
	staged := aggregateCampaignRows("cred-1", "snap-1", "Campaign-Yesterday - ts", []types.ReportRow{
		row("1", 100, 0, 0, 10, 0),
	})
	require.Len(t, staged, 1)

	got := staged[0]
	require.NotNil(t, got.CTR)
	assert.Equal(t, 0.0, *got.CTR)
	assert.Nil(t, got.CPC)
	require.NotNil(t, got.ACOS)
	assert.Equal(t, 0.0, *got.ACOS)
}

func TestAggregateCampaignRows_OrderIndependent(t *testing.T) {
	a := []types.ReportRow{
		row("1", 100, 10, 5, 50, 2),
		row("1", 50, 5, 3, 0, 0),
		row("2", 7, 1, 1, 1, 1),
	}
	b := []types.ReportRow{a[2], a[1], a[0]}

	fromA := aggregateCampaignRows("c", "s", "Campaign-30 Days - ts", a)
	fromB := aggregateCampaignRows("c", "s", "Campaign-30 Days - ts", b)

	byID := func(staged []types.StagingCampaignReport) map[string]types.StagingCampaignReport {
		m := make(map[string]types.StagingCampaignReport)
		for _, r := range staged {
			m[r.CampaignID] = r
		}
		return m
	}
	assert.Equal(t, byID(fromA), byID(fromB))
}

func TestAggregatePlacementRows_KeyedByCampaignAndNormalizedPlacement(t *testing.T) {
	r1 := row("1", 100, 10, 5, 50, 2)
	r1.PlacementClassification = "PLACEMENT_TOP"
	r2 := row("1", 50, 5, 3, 0, 0)
	r2.PlacementClassification = "top_of_search"
	r3 := row("1", 30, 3, 2, 10, 1)
	r3.PlacementClassification = "Detail Page on-Amazon"

	staged := aggregatePlacementRows("cred-1", "snap-1", "Placement-30 Days - ts", []types.ReportRow{r1, r2, r3})
	require.Len(t, staged, 2, "two placement variants of TOP must merge")

	top := staged[0]
	assert.Equal(t, types.PlacementTopOfSearch, top.Placement)
	assert.Equal(t, int64(150), top.Impressions)
	assert.Equal(t, int64(15), top.Clicks)

	product := staged[1]
	assert.Equal(t, types.PlacementProductPages, product.Placement)
	assert.Equal(t, int64(30), product.Impressions)
}

func TestNormalizePlacement(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"PLACEMENT_TOP", types.PlacementTopOfSearch},
		{"top_of_search_placement", types.PlacementTopOfSearch},
		{"TOPSOMETHING", types.PlacementTopOfSearch},
		{"PLACEMENT_REST_OF_SEARCH", types.PlacementRestOfSearch},
		{"rest of search", types.PlacementRestOfSearch},
		{"PLACEMENT_PRODUCT_PAGE", types.PlacementProductPages},
		{"Detail Page on-Amazon", types.PlacementProductPages},
		{"Some Future Placement", "Some Future Placement"},
		{"", types.PlacementUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizePlacement(tc.in), "input %q", tc.in)
	}
}

func TestReportTypeFromName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Campaign-30 Days - 2025-06-15T03-00-00", "30_day"},
		{"Placement-30 Days - ts", "30_day"},
		{"Campaign-7 Days - ts", "7_day"},
		{"Placement-7 Days - ts", "7_day"},
		{"Campaign-Yesterday - ts", "yesterday"},
		{"Campaign-DayBefore - ts", "day_before"},
		{"Mystery Report", "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reportTypeFromName(tc.name), tc.name)
	}
}

func TestIsPlacementReport(t *testing.T) {
	assert.True(t, isPlacementReport("Placement-30 Days - ts"))
	assert.False(t, isPlacementReport("Campaign-7 Days - ts"))
}
