// Package model holds the entities described in the data model: projects
// and their attached collections, sockets, rooms, and subscription/cleanup
// bookkeeping records.
package model

import "time"

// Status is the lifecycle state of a [Project].
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusFunded    Status = "funded"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// ViewParams are the optional camera parameters used to re-open a project's
// map view the way its creator framed it.
type ViewParams struct {
	Heading *float64 `json:"heading,omitempty"`
	Pitch   *float64 `json:"pitch,omitempty"`
	Zoom    *float64 `json:"zoom,omitempty"`
}

// CostBreakdown is an optional structured estimate attached by the async
// cost-estimate job (SPEC_FULL §3.11); the relay treats it as an opaque
// JSON document it stores and replays, never interprets.
type CostBreakdown map[string]any

// Project is the root entity fanned out to geohash and project rooms.
//
// Invariant: Geohash is fully determined by (Lat, Lng); the service layer
// recomputes it with geo.Encode on every setProject, never taking it from
// callers.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      Status        `json:"status"`
	Lat         float64       `json:"lat"`
	Lng         float64       `json:"lng"`
	Geohash     string        `json:"geohash"`
	View        *ViewParams   `json:"view,omitempty"`
	CreatorID   string        `json:"creator_id"`
	UpdaterID   string        `json:"updater_id"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CostBreakdown CostBreakdown `json:"cost_breakdown,omitempty"`
}

// CanDelete enforces the business rule that an active project may not be
// deleted; contributions remain permitted regardless of status (Open
// Question 1, DESIGN.md).
func (p *Project) CanDelete() bool {
	return p.Status != StatusActive
}
