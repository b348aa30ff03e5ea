package processor

import (
	"strings"

	"bidflow/internal/types"
)

// Report type labels stored on staged rows, inferred from the report name.
const (
	reportType30Day     = "30_day"
	reportType7Day      = "7_day"
	reportTypeYesterday = "yesterday"
	reportTypeDayBefore = "day_before"
	reportTypeUnknown   = "unknown"
)

// reportTypeFromName maps a ledger report name to its staged report type.
func reportTypeFromName(reportName string) string {
	switch {
	case strings.Contains(reportName, "30 Days"):
		return reportType30Day
	case strings.Contains(reportName, "7 Days"):
		return reportType7Day
	case strings.Contains(reportName, "Yesterday"):
		return reportTypeYesterday
	case strings.Contains(reportName, "DayBefore"):
		return reportTypeDayBefore
	default:
		return reportTypeUnknown
	}
}

// isPlacementReport classifies a ledger entry by its report name.
func isPlacementReport(reportName string) bool {
	return strings.Contains(reportName, "Placement")
}

// normalizePlacement maps the upstream placement classification onto the
// canonical placement names. The upstream value varies in casing and shape
// across report versions, so matching is by case-insensitive substring. An
// unrecognized non-empty value passes through untouched rather than being
// silently bucketed.
func normalizePlacement(classification string) string {
	if classification == "" {
		return types.PlacementUnknown
	}
	upper := strings.ToUpper(classification)
	switch {
	case strings.Contains(upper, "TOP"):
		return types.PlacementTopOfSearch
	case strings.Contains(upper, "REST"):
		return types.PlacementRestOfSearch
	case strings.Contains(upper, "PRODUCT"), strings.Contains(upper, "DETAIL"):
		return types.PlacementProductPages
	default:
		return classification
	}
}

// metricAggregate accumulates the additive metrics for one key. The derived
// ratios are computed from these sums on demand, never carried between
// merges.
type metricAggregate struct {
	campaignID   string
	campaignName string
	placement    string
	impressions  int64
	clicks       int64
	spend        float64
	sales        float64
	purchases    int64
}

func (a *metricAggregate) add(row types.ReportRow) {
	a.impressions += row.Impressions
	a.clicks += row.Clicks
	a.spend += row.Spend
	a.sales += row.Sales14d
	a.purchases += row.Purchases14d
}

// ratio returns num/den, or nil when the denominator is zero. A nil ratio
// means "no data for this rate", which downstream consumers must not
// conflate with a true zero.
func ratio(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	v := num / den
	return &v
}

func (a *metricAggregate) ctr() *float64 {
	return ratio(float64(a.clicks), float64(a.impressions))
}

func (a *metricAggregate) cpc() *float64 {
	return ratio(a.spend, float64(a.clicks))
}

func (a *metricAggregate) acos() *float64 {
	return ratio(100*a.spend, a.sales)
}

func (a *metricAggregate) cvr() *float64 {
	return ratio(float64(a.purchases), float64(a.clicks))
}

// aggregateCampaignRows merges raw report rows by campaign id and produces
// staged campaign rows. Merge order does not affect the result: additive
// metrics are summed and ratios recomputed from the final sums.
func aggregateCampaignRows(credentialID, snapshotID, reportName string, rows []types.ReportRow) []types.StagingCampaignReport {
	byKey := make(map[string]*metricAggregate)
	var order []string

	for _, row := range rows {
		agg, ok := byKey[row.CampaignID]
		if !ok {
			agg = &metricAggregate{campaignID: row.CampaignID, campaignName: row.CampaignName}
			byKey[row.CampaignID] = agg
			order = append(order, row.CampaignID)
		}
		agg.add(row)
	}

	reportType := reportTypeFromName(reportName)
	staged := make([]types.StagingCampaignReport, 0, len(order))
	for _, key := range order {
		agg := byKey[key]
		staged = append(staged, types.StagingCampaignReport{
			CredentialID: credentialID,
			SnapshotID:   snapshotID,
			CampaignID:   agg.campaignID,
			CampaignName: agg.campaignName,
			ReportType:   reportType,
			Impressions:  agg.impressions,
			Clicks:       agg.clicks,
			Spend:        agg.spend,
			Sales:        agg.sales,
			Purchases:    agg.purchases,
			CTR:          agg.ctr(),
			CPC:          agg.cpc(),
			ACOS:         agg.acos(),
			CVR:          agg.cvr(),
		})
	}
	return staged
}

// aggregatePlacementRows merges raw report rows by campaign id plus
// normalized placement.
func aggregatePlacementRows(credentialID, snapshotID, reportName string, rows []types.ReportRow) []types.StagingPlacementReport {
	byKey := make(map[string]*metricAggregate)
	var order []string

	for _, row := range rows {
		placement := normalizePlacement(row.PlacementClassification)
		key := row.CampaignID + "|" + placement
		agg, ok := byKey[key]
		if !ok {
			agg = &metricAggregate{
				campaignID:   row.CampaignID,
				campaignName: row.CampaignName,
				placement:    placement,
			}
			byKey[key] = agg
			order = append(order, key)
		}
		agg.add(row)
	}

	reportType := reportTypeFromName(reportName)
	staged := make([]types.StagingPlacementReport, 0, len(order))
	for _, key := range order {
		agg := byKey[key]
		staged = append(staged, types.StagingPlacementReport{
			CredentialID: credentialID,
			SnapshotID:   snapshotID,
			CampaignID:   agg.campaignID,
			CampaignName: agg.campaignName,
			Placement:    agg.placement,
			ReportType:   reportType,
			Impressions:  agg.impressions,
			Clicks:       agg.clicks,
			Spend:        agg.spend,
			Sales:        agg.sales,
			Purchases:    agg.purchases,
			CTR:          agg.ctr(),
			CPC:          agg.cpc(),
			ACOS:         agg.acos(),
			CVR:          agg.cvr(),
		})
	}
	return staged
}
