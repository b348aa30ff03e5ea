package amazon

import "bidflow/internal/types"

// ReportConfigs is the fixed set of reports requested for every tenant on
// every collection run: campaign and placement summaries over 30 and 7 day
// windows, plus two single-day campaign reports. The list's length drives
// how many ledger entries one run produces.
var ReportConfigs = []types.ReportConfig{
	{
		Name:         "Campaign-30 Days",
		ReportTypeID: "spCampaigns",
		GroupBy:      []string{"campaign"},
		TimeUnit:     "SUMMARY",
		LookBack:     30,
	},
	{
		Name:         "Campaign-7 Days",
		ReportTypeID: "spCampaigns",
		GroupBy:      []string{"campaign"},
		TimeUnit:     "SUMMARY",
		LookBack:     7,
	},
	{
		Name:         "Placement-30 Days",
		ReportTypeID: "spCampaigns",
		GroupBy:      []string{"campaign", "campaignPlacement"},
		TimeUnit:     "SUMMARY",
		LookBack:     30,
	},
	{
		Name:         "Placement-7 Days",
		ReportTypeID: "spCampaigns",
		GroupBy:      []string{"campaign", "campaignPlacement"},
		TimeUnit:     "SUMMARY",
		LookBack:     7,
	},
	{
		Name:         "Campaign-Yesterday",
		ReportTypeID: "spCampaigns",
		GroupBy:      []string{"campaign"},
		TimeUnit:     "DAILY",
		LookBack:     1,
	},
	{
		Name:         "Campaign-DayBefore",
		ReportTypeID: "spCampaigns",
		GroupBy:      []string{"campaign"},
		TimeUnit:     "DAILY",
		LookBack:     2,
	},
}

// reportColumns is the base column set for every report request. Placement
// reports additionally request the placement classification column.
var reportColumns = []string{
	"campaignId",
	"campaignName",
	"impressions",
	"clicks",
	"cost",
	"sales14d",
	"purchases14d",
}
