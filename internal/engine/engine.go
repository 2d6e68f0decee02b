// Package engine is the manifestation lifecycle controller. It is the sole
// writer of workflow state: every mutation validates the status machine,
// runs in one transaction, and appends its audit trail entries inside that
// same transaction, so a case and its history never diverge.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ouvidoria/internal/config"
	"ouvidoria/internal/deadline"
	"ouvidoria/internal/domain"
	"ouvidoria/internal/history"
	"ouvidoria/internal/protocol"
	"ouvidoria/internal/repo"
)

const (
	StatusNew         = "new"
	StatusUnderReview = "under_review"
	StatusResponded   = "responded"
	StatusClosed      = "closed"
	StatusCanceled    = "canceled"
)

// SystemActor marks trail entries produced by the engine itself rather than
// an operator.
const SystemActor = "system"

// InvalidIntakeError reports a missing or malformed field in a create or
// update request.
type InvalidIntakeError struct {
	Field  string
	Reason string
}

func (e InvalidIntakeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s is required", e.Field)
}

// IllegalTransitionError reports a status change the state machine forbids.
// To is empty when the violation is any mutation of a terminal case.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e IllegalTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("manifestation is %s and can no longer change", e.From)
	}
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	History   history.Writer
	Protocols *protocol.Generator
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		History:   history.Writer{DB: db},
		Protocols: protocol.NewGenerator(),
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func isTerminal(status string) bool {
	return status == StatusClosed || status == StatusCanceled
}

func ensureStatusTransition(from, to string) error {
	switch from {
	case StatusNew:
		if to == StatusUnderReview || to == StatusCanceled {
			return nil
		}
	case StatusUnderReview:
		if to == StatusResponded || to == StatusCanceled {
			return nil
		}
	case StatusResponded:
		if to == StatusClosed {
			return nil
		}
	}
	return IllegalTransitionError{From: from, To: to}
}

var priorities = map[string]bool{"low": true, "medium": true, "high": true}
var statuses = map[string]bool{
	StatusNew: true, StatusUnderReview: true, StatusResponded: true,
	StatusClosed: true, StatusCanceled: true,
}

// CreateOptions are the intake fields for a new manifestation.
type CreateOptions struct {
	Kind        string
	Category    string
	Subject     string
	Description string
	CitizenName string
	Email       string
	Phone       string
	Channel     string
	Priority    string
	// WindowDays overrides the configured legal response window when > 0.
	WindowDays int
}

// Create registers a new case: protocol assignment, status new, one
// "created" trail entry. A duplicate protocol is regenerated and retried
// once before the error surfaces.
func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Manifestation, error) {
	if e.Config == nil {
		return domain.Manifestation{}, errors.New("config not loaded")
	}
	for _, req := range []struct{ field, value string }{
		{"kind", opts.Kind},
		{"category", opts.Category},
		{"subject", opts.Subject},
		{"description", opts.Description},
		{"citizen_name", opts.CitizenName},
		{"channel", opts.Channel},
	} {
		if req.value == "" {
			return domain.Manifestation{}, InvalidIntakeError{Field: req.field}
		}
	}
	if !e.Config.ChannelAllowed(opts.Channel) {
		return domain.Manifestation{}, InvalidIntakeError{Field: "channel", Reason: "not an accepted submission channel"}
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.Service.DefaultPriority
	}
	if !priorities[opts.Priority] {
		return domain.Manifestation{}, InvalidIntakeError{Field: "priority", Reason: "must be low, medium or high"}
	}
	windowDays := opts.WindowDays
	if windowDays <= 0 {
		windowDays = e.Config.Service.LegalWindowDays
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	m := domain.Manifestation{
		Kind:            opts.Kind,
		Category:        opts.Category,
		Subject:         opts.Subject,
		Description:     opts.Description,
		CitizenName:     opts.CitizenName,
		Email:           optionalString(opts.Email),
		Phone:           optionalString(opts.Phone),
		Channel:         opts.Channel,
		Status:          StatusNew,
		Priority:        opts.Priority,
		LegalWindowDays: windowDays,
		CreatedAt:       nowStr,
		UpdatedAt:       nowStr,
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		m.Protocol = e.Protocols.Generate(now)
		m, err = e.insertWithTrail(ctx, m)
		if !errors.Is(err, repo.ErrDuplicateProtocol) {
			break
		}
	}
	if err != nil {
		return domain.Manifestation{}, err
	}
	m.RemainingDays = windowDays
	return m, nil
}

func (e Engine) insertWithTrail(ctx context.Context, m domain.Manifestation) (domain.Manifestation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertManifestation(ctx, tx, m)
	if err != nil {
		return m, err
	}
	m.ID = id
	if _, err := e.History.Append(ctx, tx, id, "created", SystemActor); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

// UpdateOptions is a partial patch over the mutable workflow fields. Nil
// pointers leave a field untouched; a pointer to the empty string clears
// the assignment.
type UpdateOptions struct {
	ID         int64
	Status     string
	Response   *string
	AssignedTo *string
	Priority   string
	Actor      string
}

// Update applies the patch atomically and appends one trail entry per
// semantically distinct change, in a fixed order independent of the request:
// explicit status change, response, the implicit status advance the response
// caused, reassignment, priority change. A patch that changes nothing is not
// a mutation: it writes no row and no trail entry.
func (e Engine) Update(ctx context.Context, opts UpdateOptions) (domain.Manifestation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Manifestation{}, err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetManifestationTx(ctx, tx, opts.ID)
	if err != nil {
		return m, err
	}
	actor := opts.Actor
	if actor == "" {
		actor = "operator"
	}
	hasChange := opts.Status != "" || opts.Response != nil || opts.AssignedTo != nil || opts.Priority != ""
	if isTerminal(m.Status) && hasChange {
		if opts.Status != "" && opts.Status != m.Status {
			return m, IllegalTransitionError{From: m.Status, To: opts.Status}
		}
		return m, IllegalTransitionError{From: m.Status}
	}

	type trailEntry struct {
		event string
		actor string
	}
	var trail []trailEntry

	if opts.Status != "" && opts.Status != m.Status {
		if !statuses[opts.Status] {
			return m, InvalidIntakeError{Field: "status", Reason: "unknown status"}
		}
		if err := ensureStatusTransition(m.Status, opts.Status); err != nil {
			return m, err
		}
		m.Status = opts.Status
		trail = append(trail, trailEntry{"status changed to " + m.Status, actor})
	}

	if opts.Response != nil {
		if *opts.Response == "" {
			return m, InvalidIntakeError{Field: "response", Reason: "must not be empty"}
		}
		event := "response recorded"
		if m.Response != nil {
			event = "response updated"
		}
		m.Response = opts.Response
		if m.RespondedAt == nil {
			ts := e.now().UTC().Format(time.RFC3339)
			m.RespondedAt = &ts
		}
		trail = append(trail, trailEntry{event, actor})
		// Recording a response on an unanswered case advances it in the
		// same transaction; no second round trip is required.
		if m.Status == StatusNew || m.Status == StatusUnderReview {
			m.Status = StatusResponded
			trail = append(trail, trailEntry{"status changed to " + StatusResponded, SystemActor})
		}
	}

	if opts.AssignedTo != nil {
		if *opts.AssignedTo == "" {
			m.AssignedTo = nil
			trail = append(trail, trailEntry{"assignment cleared", actor})
		} else {
			m.AssignedTo = opts.AssignedTo
			trail = append(trail, trailEntry{"forwarded to " + *opts.AssignedTo, actor})
			// Assignment is the triage act: it moves a fresh case into
			// review.
			if m.Status == StatusNew {
				m.Status = StatusUnderReview
				trail = append(trail, trailEntry{"status changed to " + StatusUnderReview, SystemActor})
			}
		}
	}

	if opts.Priority != "" && opts.Priority != m.Priority {
		if !priorities[opts.Priority] {
			return m, InvalidIntakeError{Field: "priority", Reason: "must be low, medium or high"}
		}
		m.Priority = opts.Priority
		trail = append(trail, trailEntry{"priority changed to " + m.Priority, actor})
	}

	if len(trail) == 0 {
		return e.project(m), nil
	}
	m.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateManifestation(ctx, tx, m); err != nil {
		return m, err
	}
	for _, entry := range trail {
		if _, err := e.History.Append(ctx, tx, m.ID, entry.event, entry.actor); err != nil {
			return m, err
		}
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return e.project(m), nil
}

// Delete removes a case and its entire trail as a unit.
func (e Engine) Delete(ctx context.Context, id int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteManifestation(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) Get(ctx context.Context, id int64) (domain.Manifestation, error) {
	m, err := e.Repo.GetManifestation(ctx, id)
	if err != nil {
		return m, err
	}
	return e.project(m), nil
}

func (e Engine) GetByProtocol(ctx context.Context, proto string) (domain.Manifestation, error) {
	m, err := e.Repo.GetByProtocol(ctx, proto)
	if err != nil {
		return m, err
	}
	return e.project(m), nil
}

func (e Engine) List(ctx context.Context, f repo.ManifestationFilters) ([]domain.Manifestation, error) {
	items, err := e.Repo.ListManifestations(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = e.project(items[i])
	}
	return items, nil
}

// HistoryOf returns the audit trail, oldest entry first.
func (e Engine) HistoryOf(ctx context.Context, id int64) ([]domain.HistoryEntry, error) {
	if _, err := e.Repo.GetManifestation(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.ListHistory(ctx, id)
}

// Stats aggregates grouped counts plus the overdue projection.
func (e Engine) Stats(ctx context.Context) (domain.Stats, error) {
	var s domain.Stats
	var err error
	if s.Total, err = e.Repo.CountManifestations(ctx); err != nil {
		return s, err
	}
	if s.ByStatus, err = e.Repo.CountBy(ctx, "status"); err != nil {
		return s, err
	}
	if s.ByKind, err = e.Repo.CountBy(ctx, "kind"); err != nil {
		return s, err
	}
	if s.ByCategory, err = e.Repo.CountBy(ctx, "category"); err != nil {
		return s, err
	}
	if s.ByChannel, err = e.Repo.CountBy(ctx, "channel"); err != nil {
		return s, err
	}
	deadlines, err := e.Repo.ListDeadlines(ctx)
	if err != nil {
		return s, err
	}
	now := e.now()
	for _, d := range deadlines {
		createdAt, err := time.Parse(time.RFC3339, d.CreatedAt)
		if err != nil {
			return s, fmt.Errorf("parse created_at: %w", err)
		}
		if deadline.RemainingDays(createdAt, d.WindowDays, now) < 0 {
			s.Overdue++
		}
	}
	return s, nil
}

// project fills the derived remaining-days field; it is never read from the
// store.
func (e Engine) project(m domain.Manifestation) domain.Manifestation {
	createdAt, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		return m
	}
	m.RemainingDays = deadline.RemainingDays(createdAt, m.LegalWindowDays, e.now())
	return m
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
