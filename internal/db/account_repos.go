package db

import (
	"context"

	"bidflow/internal/types"
)

// PortfolioRepository provides data access for the staging_portfolios
// table, a current-state mirror of each tenant's portfolios.
type PortfolioRepository struct {
	db DBTX
}

// NewPortfolioRepository creates a new PortfolioRepository backed by the
// given database connection (pool or transaction).
func NewPortfolioRepository(db DBTX) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// Upsert replaces the stored state of the given portfolios for one
// credential. Rows are keyed by (credential_id, portfolio_id) so repeated
// runs converge on current upstream state instead of accumulating
// duplicates.
func (r *PortfolioRepository) Upsert(ctx context.Context, credentialID string, portfolios []types.Portfolio) error {
	for _, p := range portfolios {
		_, err := r.db.Exec(ctx,
			`INSERT INTO staging_portfolios
			   (credential_id, portfolio_id, name, budget_amount, budget_policy, state, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())
			 ON CONFLICT (credential_id, portfolio_id) DO UPDATE
			   SET name = EXCLUDED.name,
			       budget_amount = EXCLUDED.budget_amount,
			       budget_policy = EXCLUDED.budget_policy,
			       state = EXCLUDED.state,
			       updated_at = NOW()`,
			credentialID,
			p.PortfolioID,
			p.Name,
			p.BudgetAmount,
			p.BudgetPolicy,
			p.State,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert portfolio", err)
		}
	}
	return nil
}

// CampaignRepository provides data access for the staging_placement_bids
// table: one row per campaign carrying its budget, bidding strategy and
// per-placement bid adjustments.
type CampaignRepository struct {
	db DBTX
}

// NewCampaignRepository creates a new CampaignRepository backed by the given
// database connection (pool or transaction).
func NewCampaignRepository(db DBTX) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Upsert replaces the stored state of the given campaigns for one
// credential, keyed by (credential_id, campaign_id).
func (r *CampaignRepository) Upsert(ctx context.Context, credentialID string, campaigns []types.Campaign) error {
	for _, c := range campaigns {
		_, err := r.db.Exec(ctx,
			`INSERT INTO staging_placement_bids
			   (credential_id, campaign_id, portfolio_id, name, state,
			    budget, budget_type, bidding_strategy,
			    bid_top_of_search, bid_rest_of_search, bid_product_page, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
			 ON CONFLICT (credential_id, campaign_id) DO UPDATE
			   SET portfolio_id = EXCLUDED.portfolio_id,
			       name = EXCLUDED.name,
			       state = EXCLUDED.state,
			       budget = EXCLUDED.budget,
			       budget_type = EXCLUDED.budget_type,
			       bidding_strategy = EXCLUDED.bidding_strategy,
			       bid_top_of_search = EXCLUDED.bid_top_of_search,
			       bid_rest_of_search = EXCLUDED.bid_rest_of_search,
			       bid_product_page = EXCLUDED.bid_product_page,
			       updated_at = NOW()`,
			credentialID,
			c.CampaignID,
			c.PortfolioID,
			c.Name,
			c.State,
			c.Budget,
			c.BudgetType,
			c.BiddingStrategy,
			c.BidTopOfSearch,
			c.BidRestOfSearch,
			c.BidProductPage,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert campaign", err)
		}
	}
	return nil
}
