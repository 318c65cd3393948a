package event

import "github.com/parkbeat/relay/internal/domain/model"

// --- C2S payloads ---

type SubscribePayload struct {
	Geohash         string `json:"geohash"`
	ShouldSubscribe bool   `json:"shouldSubscribe"`
}

type SubscribeProjectPayload struct {
	ProjectID       string `json:"projectId"`
	ShouldSubscribe bool   `json:"shouldSubscribe"`
}

// SetProjectPayload mirrors model.Project but without server-assigned
// timestamps (spec §4.1: "Project without timestamps").
type SetProjectPayload struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Status      model.Status       `json:"status"`
	Lat         float64            `json:"lat"`
	Lng         float64            `json:"lng"`
	View        *model.ViewParams  `json:"view,omitempty"`
}

type DeleteProjectPayload struct {
	ID string `json:"id"`
}

type AddContributionPayload struct {
	ID          string                  `json:"id"`
	ProjectID   string                  `json:"project_id"`
	UserID      string                  `json:"user_id"`
	Kind        model.ContributionKind  `json:"kind"`
	AmountCents *int64                  `json:"amount_cents,omitempty"`
	Message     string                  `json:"message,omitempty"`
}

type ValidateImagePayload struct {
	ProjectID    string `json:"projectId"`
	FundraiserID string `json:"fundraiserId"`
	RequestID    string `json:"requestId"`
	ImageSource  string `json:"imageSource"`
}

// --- S2C payloads ---

type ProvideSocketIDPayload struct {
	ID string `json:"id"`
}

type HeartbeatPayload struct {
	Room         string `json:"room"`
	LastPingTime int64  `json:"lastPingTime"`
}

type DeleteProjectAckPayload struct {
	ID string `json:"id"`
}

// SubscribeSnapshotPayload is the initial snapshot tuple emitted on a
// successful subscribe (spec §4.1: "subscribe([{geohash}, projects[],
// groups[]])").
type SubscribeSnapshotPayload struct {
	Geohash  string                `json:"geohash"`
	Projects []model.Project       `json:"projects"`
	Groups   []model.ClusterGroup  `json:"groups"`
}

type ProjectDataPayload struct {
	ProjectID string                `json:"projectId"`
	Data      model.ProjectSnapshot `json:"data"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ImageValidationPayload struct {
	ProjectID    string `json:"projectId"`
	FundraiserID string `json:"fundraiserId"`
	RequestID    string `json:"requestId"`
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason,omitempty"`
}

type ImageAnalysisPayload struct {
	ProjectID string         `json:"projectId"`
	RequestID string         `json:"requestId"`
	Result    map[string]any `json:"result"`
}

type ProjectVisionPayload struct {
	ProjectID string `json:"projectId"`
	RequestID string `json:"requestId"`
	ImageURL  string `json:"imageUrl"`
}

type CostEstimatePayload struct {
	ProjectID string               `json:"projectId"`
	RequestID string               `json:"requestId"`
	Breakdown model.CostBreakdown  `json:"breakdown"`
}
