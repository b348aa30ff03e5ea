package db

import (
	"context"

	"bidflow/internal/types"
)

// StagingReportRepository provides data access for the
// staging_campaign_reports and staging_placement_reports tables, where
// aggregated report metrics land before the staging-to-canonical sync
// promotes them.
type StagingReportRepository struct {
	db DBTX
}

// NewStagingReportRepository creates a new StagingReportRepository backed
// by the given database connection (pool or transaction).
func NewStagingReportRepository(db DBTX) *StagingReportRepository {
	return &StagingReportRepository{db: db}
}

// InsertCampaignRows stages aggregated campaign-level rows. Rows are keyed
// by (snapshot_id, campaign_id, report_type); re-processing the same report
// overwrites instead of duplicating.
func (r *StagingReportRepository) InsertCampaignRows(ctx context.Context, rows []types.StagingCampaignReport) error {
	for _, row := range rows {
		_, err := r.db.Exec(ctx,
			`INSERT INTO staging_campaign_reports
			   (credential_id, snapshot_id, campaign_id, campaign_name, report_type,
			    impressions, clicks, spend, sales, purchases,
			    ctr, cpc, acos, cvr, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
			 ON CONFLICT (snapshot_id, campaign_id, report_type) DO UPDATE
			   SET campaign_name = EXCLUDED.campaign_name,
			       impressions = EXCLUDED.impressions,
			       clicks = EXCLUDED.clicks,
			       spend = EXCLUDED.spend,
			       sales = EXCLUDED.sales,
			       purchases = EXCLUDED.purchases,
			       ctr = EXCLUDED.ctr,
			       cpc = EXCLUDED.cpc,
			       acos = EXCLUDED.acos,
			       cvr = EXCLUDED.cvr`,
			row.CredentialID,
			row.SnapshotID,
			row.CampaignID,
			row.CampaignName,
			row.ReportType,
			row.Impressions,
			row.Clicks,
			row.Spend,
			row.Sales,
			row.Purchases,
			row.CTR,
			row.CPC,
			row.ACOS,
			row.CVR,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to stage campaign report row", err)
		}
	}
	return nil
}

// InsertPlacementRows stages aggregated placement-level rows, keyed by
// (snapshot_id, campaign_id, placement, report_type).
func (r *StagingReportRepository) InsertPlacementRows(ctx context.Context, rows []types.StagingPlacementReport) error {
	for _, row := range rows {
		_, err := r.db.Exec(ctx,
			`INSERT INTO staging_placement_reports
			   (credential_id, snapshot_id, campaign_id, campaign_name, placement, report_type,
			    impressions, clicks, spend, sales, purchases,
			    ctr, cpc, acos, cvr, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
			 ON CONFLICT (snapshot_id, campaign_id, placement, report_type) DO UPDATE
			   SET campaign_name = EXCLUDED.campaign_name,
			       impressions = EXCLUDED.impressions,
			       clicks = EXCLUDED.clicks,
			       spend = EXCLUDED.spend,
			       sales = EXCLUDED.sales,
			       purchases = EXCLUDED.purchases,
			       ctr = EXCLUDED.ctr,
			       cpc = EXCLUDED.cpc,
			       acos = EXCLUDED.acos,
			       cvr = EXCLUDED.cvr`,
			row.CredentialID,
			row.SnapshotID,
			row.CampaignID,
			row.CampaignName,
			row.Placement,
			row.ReportType,
			row.Impressions,
			row.Clicks,
			row.Spend,
			row.Sales,
			row.Purchases,
			row.CTR,
			row.CPC,
			row.ACOS,
			row.CVR,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to stage placement report row", err)
		}
	}
	return nil
}
