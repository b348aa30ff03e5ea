// Package types defines the shared domain model for the BidFlow engine:
// tenant credentials, collection snapshots, the report ledger, staged
// report metrics, and the error/secret/clock primitives used across
// packages. All entities are tenant-scoped; there are no cross-tenant
// references.
package types

import "time"

// TenantCredential identifies one connected advertising account. Secrets are
// referenced by opaque vault ids, never stored inline. Disconnecting a tenant
// soft-disables the row (Active=false); rows are never hard-deleted.
type TenantCredential struct {
	ID          string
	TenantID    string
	AccountName string
	ProfileID   string
	Marketplace string

	// Opaque vault references resolved via get_tenant_token.
	RefreshTokenVaultID string
	ClientIDVaultID     string
	ClientSecretVaultID string

	Active bool
	// ReportDay is the scheduled day-of-week (0=Sunday .. 6=Saturday).
	ReportDay  int
	ReportHour int

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// TenantSecrets holds the decrypted secret material for one tenant, resolved
// from the vault just before use. ClientID/ClientSecret may be empty, in
// which case the global OAuth app credentials are used.
type TenantSecrets struct {
	RefreshToken SecretString
	ClientID     SecretString
	ClientSecret SecretString
}

// Portfolio is an external campaign-grouping entity. Fully replaced on every
// collection run; no history is retained.
type Portfolio struct {
	PortfolioID  string
	Name         string
	BudgetAmount *float64
	BudgetPolicy *string
	State        string
}

// Campaign is a current-state snapshot of one sponsored-products campaign,
// including its per-placement bid adjustment percentages.
type Campaign struct {
	CampaignID      string
	PortfolioID     *string
	Name            string
	State           string
	Budget          float64
	BudgetType      string
	BiddingStrategy string
	BidTopOfSearch  float64
	BidRestOfSearch float64
	BidProductPage  float64
}

// ReportConfig describes one of the fixed report requests issued per
// collection run.
type ReportConfig struct {
	Name         string
	ReportTypeID string
	GroupBy      []string
	TimeUnit     string // SUMMARY or DAILY
	LookBack     int    // days before today for the window start
}

// PlacementGrouped reports whether the config groups rows by placement.
func (c ReportConfig) PlacementGrouped() bool {
	for _, g := range c.GroupBy {
		if g == "campaignPlacement" {
			return true
		}
	}
	return false
}

// ReportLedgerEntry records one requested report job against the external
// API. One row per request; retry cycles create new rows rather than
// re-requesting resolved ones.
type ReportLedgerEntry struct {
	ID              string
	CredentialID    string
	SnapshotID      string
	ReportName      string
	ReportRequestID string
	Status          ReportStatus
	DownloadURL     *string
	URLExpiresAt    *time.Time
	ErrorMessage    *string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// WeeklySnapshot tracks one tenant's collection cycle. Completion is only
// valid once every ledger entry belonging to the snapshot is terminal.
type WeeklySnapshot struct {
	ID               string
	CredentialID     string
	WeekLabel        string
	SnapshotDate     time.Time
	Status           SnapshotStatus
	PortfoliosCount  int
	CampaignsCount   int
	ReportsRequested int
	ReportsCompleted int
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// SnapshotCounts carries the observed counts written when a snapshot
// transitions status.
type SnapshotCounts struct {
	Portfolios       int
	Campaigns        int
	ReportsRequested int
	ReportsCompleted int
}

// ReportRow is the validated boundary type for one decompressed report row.
// PlacementClassification is empty for campaign-level reports.
type ReportRow struct {
	CampaignID              string
	CampaignName            string
	PlacementClassification string
	Impressions             int64
	Clicks                  int64
	Spend                   float64
	Sales14d                float64
	Purchases14d            int64
}

// StagingCampaignReport is one aggregated campaign-level metrics row staged
// for promotion to canonical tables. The derived ratios are nil when their
// denominator is zero, distinguishing "no data" from a true zero rate, and
// are always recomputed from the additive sums.
type StagingCampaignReport struct {
	CredentialID string
	SnapshotID   string
	CampaignID   string
	CampaignName string
	ReportType   string
	Impressions  int64
	Clicks       int64
	Spend        float64
	Sales        float64
	Purchases    int64
	CTR          *float64
	CPC          *float64
	ACOS         *float64
	CVR          *float64
}

// StagingPlacementReport is the placement-level analogue of
// StagingCampaignReport, additionally keyed by normalized placement.
type StagingPlacementReport struct {
	CredentialID string
	SnapshotID   string
	CampaignID   string
	CampaignName string
	Placement    string
	ReportType   string
	Impressions  int64
	Clicks       int64
	Spend        float64
	Sales        float64
	Purchases    int64
	CTR          *float64
	CPC          *float64
	ACOS         *float64
	CVR          *float64
}

// LedgerUpdate carries the optional columns written alongside a ledger
// status transition. Nil fields leave the stored value untouched.
type LedgerUpdate struct {
	DownloadURL  *string
	URLExpiresAt *time.Time
	ErrorMessage *string
}

// SchedulerLogEntry is the append-only audit record of one daily collection
// run.
type SchedulerLogEntry struct {
	ID           string
	RunDate      time.Time
	WorkerID     string
	TenantCount  int
	SuccessCount int
	FailureCount int
	DurationMs   int64
	Errors       []string
	CreatedAt    time.Time
}
