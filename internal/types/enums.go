package types

// ReportStatus is the lifecycle status of a report ledger entry.
//
// Transitions are monotonic forward: PENDING -> PROCESSING -> COMPLETED or
// FAILED. Both COMPLETED and FAILED are terminal; a resolved entry is never
// re-requested. A fresh collection cycle creates a new entry instead.
type ReportStatus string

const (
	ReportPending    ReportStatus = "PENDING"
	ReportProcessing ReportStatus = "PROCESSING"
	ReportCompleted  ReportStatus = "COMPLETED"
	ReportFailed     ReportStatus = "FAILED"
)

// Terminal reports whether the status allows no further transitions.
func (s ReportStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

// SnapshotStatus is the aggregate status of a weekly snapshot.
// COLLECTING while portfolios/campaigns/report requests are in flight,
// PROCESSING once all reports are requested, then COMPLETED or FAILED.
type SnapshotStatus string

const (
	SnapshotCollecting SnapshotStatus = "COLLECTING"
	SnapshotProcessing SnapshotStatus = "PROCESSING"
	SnapshotCompleted  SnapshotStatus = "COMPLETED"
	SnapshotFailed     SnapshotStatus = "FAILED"
)

// AlertSeverity distinguishes operator alert levels.
type AlertSeverity string

const (
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// Canonical placement names produced by placement normalization.
const (
	PlacementTopOfSearch  = "Top of Search"
	PlacementRestOfSearch = "Rest of Search"
	PlacementProductPages = "Product Pages"
	PlacementUnknown      = "Unknown"
)
