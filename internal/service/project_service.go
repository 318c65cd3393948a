// Package service implements the Project Event Handlers (spec §4.5) and
// Contribution Summary (spec §4.6).
//
// Grounded on the teacher's internal/service/delivery.go constructor-
// injected, thin-service style; the parallel-fetch idiom for building a
// snapshot is carried over from the teacher's peer_enricher.go
// errgroup.WithContext usage (DESIGN.md).
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/domain/model"
	"github.com/parkbeat/relay/internal/fanout"
	"github.com/parkbeat/relay/internal/geo"
	"github.com/parkbeat/relay/internal/store/postgres"
)

// ErrCannotDeleteActive is the business error for spec §4.5's deleteProject
// rule.
var ErrCannotDeleteActive = errors.New("cannot-delete-active")

// ErrNotAuthorized is returned when the caller is neither the project's
// creator nor an admin (spec §3).
var ErrNotAuthorized = errors.New("not-authorized")

// Store is the external Project Store contract this service depends on
// (spec §1's "external collaborator", implemented concretely by
// internal/store/postgres.Store).
type Store interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	UpsertProject(ctx context.Context, p *model.Project) error
	DeleteProject(ctx context.Context, id string) error
	ListByGeohashPrefix(ctx context.Context, prefix string) ([]model.Project, error)
	ListImages(ctx context.Context, projectID string) ([]model.ProjectImage, error)
	ListSuggestions(ctx context.Context, projectID string) ([]model.ProjectSuggestion, error)
	ListContributions(ctx context.Context, projectID string) ([]model.ProjectContribution, error)
	InsertContributionIfAbsent(ctx context.Context, c model.ProjectContribution) (bool, error)
}

// SubscriptionRegistrar is the Subscription Registry contract this service
// depends on (spec §4.2).
type SubscriptionRegistrar interface {
	SubscribeGeohash(ctx context.Context, socketID, geohash string, now time.Time) error
	UnsubscribeGeohash(ctx context.Context, socketID, geohash string) error
	SubscribeProject(ctx context.Context, socketID, projectID string, now time.Time) error
	UnsubscribeProject(ctx context.Context, socketID, projectID string) error
}

// ProjectService implements the Project Event Handlers.
type ProjectService struct {
	store      Store
	registry   SubscriptionRegistrar
	broadcast  *Broadcaster
}

func NewProjectService(store Store, registry SubscriptionRegistrar, broadcast *Broadcaster) *ProjectService {
	return &ProjectService{store: store, registry: registry, broadcast: broadcast}
}

// SetProject implements spec §4.5's setProject: recompute geohash, upsert,
// read back, fan out newProject to geohash rooms and projectData to the
// project room.
func (s *ProjectService) SetProject(ctx context.Context, in event.SetProjectPayload, callerID string, isAdmin bool) (*model.Project, error) {
	existing, err := s.store.GetProject(ctx, in.ID)
	isNew := errors.Is(err, postgres.ErrNotFound)
	if err != nil && !isNew {
		return nil, fmt.Errorf("service: set project %s: %w", in.ID, err)
	}

	if !isNew && existing.CreatorID != callerID && !isAdmin {
		return nil, ErrNotAuthorized
	}

	p := &model.Project{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
		Lat:         in.Lat,
		Lng:         in.Lng,
		View:        in.View,
		CreatorID:   callerID,
		UpdaterID:   callerID,
	}
	if !isNew {
		p.CreatorID = existing.CreatorID
	}
	p.Geohash = geo.Encode(in.Lat, in.Lng, geo.DefaultPrecision)

	if err := s.store.UpsertProject(ctx, p); err != nil {
		return nil, fmt.Errorf("service: set project %s: %w", in.ID, err)
	}

	authoritative, err := s.store.GetProject(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("service: read back project %s: %w", in.ID, err)
	}

	if s.broadcast != nil {
		_ = s.broadcast.ToGeohashRooms(ctx, authoritative.Geohash, event.KindNewProject, authoritative, "")

		snap, err := s.Snapshot(ctx, authoritative.ID)
		if err == nil {
			_ = s.broadcast.ToProjectRoom(ctx, authoritative.ID, event.KindProjectData,
				event.ProjectDataPayload{ProjectID: authoritative.ID, Data: *snap}, "")
		}
	}

	return authoritative, nil
}

// DeleteProject implements spec §4.5's deleteProject: reject active
// projects, otherwise walk the previous geohash before deleting and fan
// out the delete.
func (s *ProjectService) DeleteProject(ctx context.Context, id, callerID string, isAdmin bool) error {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return fmt.Errorf("service: delete project %s: %w", id, err)
	}
	if p.CreatorID != callerID && !isAdmin {
		return ErrNotAuthorized
	}
	if !p.CanDelete() {
		return ErrCannotDeleteActive
	}

	previousGeohash := p.Geohash

	if err := s.store.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("service: delete project %s: %w", id, err)
	}

	if s.broadcast != nil {
		_ = s.broadcast.ToGeohashRooms(ctx, previousGeohash, event.KindDeleteProjectAck,
			event.DeleteProjectAckPayload{ID: id}, "")
		_ = s.broadcast.ToProjectRoom(ctx, id, event.KindDeleteProjectAck,
			event.DeleteProjectAckPayload{ID: id}, "")
	}
	return nil
}

// Subscribe implements spec §4.5's subscribe(geohash): register/unregister
// in the Subscription Registry and, on subscribe, return the snapshot
// tuple (projects + cluster groups).
func (s *ProjectService) Subscribe(ctx context.Context, socketID string, in event.SubscribePayload) (*event.SubscribeSnapshotPayload, error) {
	if !in.ShouldSubscribe {
		return nil, s.registry.UnsubscribeGeohash(ctx, socketID, in.Geohash)
	}

	if err := s.registry.SubscribeGeohash(ctx, socketID, in.Geohash, time.Now()); err != nil {
		return nil, fmt.Errorf("service: subscribe %s: %w", in.Geohash, err)
	}

	projects, err := s.store.ListByGeohashPrefix(ctx, in.Geohash)
	if err != nil {
		return nil, fmt.Errorf("service: snapshot query %s: %w", in.Geohash, err)
	}

	groups := fanout.ClusterGroups(in.Geohash, projects)
	return &event.SubscribeSnapshotPayload{Geohash: in.Geohash, Projects: projects, Groups: groups}, nil
}

// SubscribeProject implements spec §4.5's subscribeProject(id).
func (s *ProjectService) SubscribeProject(ctx context.Context, socketID string, in event.SubscribeProjectPayload) (*model.ProjectSnapshot, error) {
	if !in.ShouldSubscribe {
		return nil, s.registry.UnsubscribeProject(ctx, socketID, in.ProjectID)
	}
	if err := s.registry.SubscribeProject(ctx, socketID, in.ProjectID, time.Now()); err != nil {
		return nil, fmt.Errorf("service: subscribe project %s: %w", in.ProjectID, err)
	}
	return s.Snapshot(ctx, in.ProjectID)
}

// AddContribution implements spec §4.5's addContribution: dedup by id,
// then fan out the refreshed snapshot to the project room and every
// geohash room covering the project.
func (s *ProjectService) AddContribution(ctx context.Context, in event.AddContributionPayload) (*model.ProjectSnapshot, error) {
	_, err := s.store.InsertContributionIfAbsent(ctx, model.ProjectContribution{
		ID:          in.ID,
		ProjectID:   in.ProjectID,
		UserID:      in.UserID,
		Kind:        in.Kind,
		AmountCents: in.AmountCents,
		Message:     in.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("service: add contribution %s: %w", in.ID, err)
	}

	snap, err := s.Snapshot(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	if s.broadcast != nil {
		_ = s.broadcast.ToProjectRoom(ctx, in.ProjectID, event.KindProjectData,
			event.ProjectDataPayload{ProjectID: in.ProjectID, Data: *snap}, "")
		_ = s.broadcast.ToGeohashRooms(ctx, snap.Project.Geohash, event.KindProjectData,
			event.ProjectDataPayload{ProjectID: in.ProjectID, Data: *snap}, "")
	}
	return snap, nil
}

// Snapshot builds the full current state of one project (GLOSSARY
// "Snapshot"): project + images + suggestions + contribution summary,
// fetched in parallel the way the teacher's peer_enricher.go resolves
// from/to peers concurrently.
func (s *ProjectService) Snapshot(ctx context.Context, projectID string) (*model.ProjectSnapshot, error) {
	var p *model.Project
	var images []model.ProjectImage
	var suggestions []model.ProjectSuggestion
	var contributions []model.ProjectContribution

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p, err = s.store.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		images, err = s.store.ListImages(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		suggestions, err = s.store.ListSuggestions(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		contributions, err = s.store.ListContributions(gctx, projectID)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service: snapshot %s: %w", projectID, err)
	}

	return &model.ProjectSnapshot{
		Project:       *p,
		Images:        images,
		Suggestions:   suggestions,
		Contributions: summarize(contributions),
	}, nil
}

// summarize derives the deterministic contribution summary (spec §4.6).
// Recomputed on read; no cache.
func summarize(contributions []model.ProjectContribution) model.ContributionSummary {
	totals := make(map[string]int64)
	firstSeen := make(map[string]time.Time)
	var total int64

	for _, c := range contributions {
		if c.Kind != model.ContributionFunding || c.AmountCents == nil {
			continue
		}
		total += *c.AmountCents
		totals[c.UserID] += *c.AmountCents
		if first, ok := firstSeen[c.UserID]; !ok || c.CreatedAt.Before(first) {
			firstSeen[c.UserID] = c.CreatedAt
		}
	}

	top := make([]model.ContributorTotal, 0, len(totals))
	for userID, amount := range totals {
		top = append(top, model.ContributorTotal{UserID: userID, AmountCents: amount})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].AmountCents != top[j].AmountCents {
			return top[i].AmountCents > top[j].AmountCents
		}
		return firstSeen[top[i].UserID].Before(firstSeen[top[j].UserID])
	})

	recent := make([]model.ProjectContribution, len(contributions))
	copy(recent, contributions)
	sort.Slice(recent, func(i, j int) bool { return recent[i].CreatedAt.After(recent[j].CreatedAt) })
	if len(recent) > 10 {
		recent = recent[:10]
	}

	return model.ContributionSummary{
		TotalAmountCents:    total,
		ContributorCount:    len(totals),
		TopContributors:     top,
		RecentContributions: recent,
	}
}
