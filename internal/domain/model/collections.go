package model

import "time"

// ProjectImage is one media attachment owned by a Project.
type ProjectImage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	URL       string    `json:"url"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectSuggestion is an AI- or user-proposed change to a Project,
// surfaced alongside the project snapshot.
type ProjectSuggestion struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ContributionKind distinguishes funding contributions (counted in the
// contribution summary) from purely social ones.
type ContributionKind string

const (
	ContributionFunding ContributionKind = "funding"
	ContributionSocial  ContributionKind = "social"
)

// ProjectContribution is append-only and deduplicated by ID (spec §3, §8
// property 6).
type ProjectContribution struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	UserID        string           `json:"user_id"`
	Kind          ContributionKind `json:"kind"`
	AmountCents   *int64           `json:"amount_cents,omitempty"`
	Message       string           `json:"message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ContributionSummary is the deterministic, recomputed-on-read aggregate
// embedded in every projectData fan-out (spec §4.6).
type ContributionSummary struct {
	TotalAmountCents   int64                `json:"total_amount_cents"`
	ContributorCount   int                  `json:"contributor_count"`
	TopContributors    []ContributorTotal   `json:"top_contributors"`
	RecentContributions []ProjectContribution `json:"recent_contributions"`
}

// ContributorTotal is one row of the top_contributors ranking.
type ContributorTotal struct {
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
}
