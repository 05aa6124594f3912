package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appdb "github.com/ezhao/courtqueue/internal/db"
)

// Court status values as exposed to callers. Status is always computed from
// the session record against the clock, never stored.
const (
	StatusOpen  = "open"
	StatusInUse = "in_use"
)

type Occupant struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

type QueueEntryView struct {
	ID       int64  `json:"id"`
	CourtID  int64  `json:"court_id"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	Position int64  `json:"position"`
}

type CourtStatusView struct {
	CourtID          int64            `json:"court_id"`
	Name             string           `json:"name"`
	Status           string           `json:"status"`
	RemainingSeconds int64            `json:"remaining_seconds,omitempty"`
	Occupant         *Occupant        `json:"occupant,omitempty"`
	Queue            []QueueEntryView `json:"queue"`
}

// PublicCourtStatus is the identity-free projection served without
// authentication.
type PublicCourtStatus struct {
	CourtID          int64  `json:"court_id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	RemainingSeconds int64  `json:"remaining_seconds,omitempty"`
	QueueLength      int64  `json:"queue_length"`
}

// CourtStatus returns the full projection for one court: derived status,
// ceil-rounded remaining time, occupant, and the ordered queue.
func (e *Engine) CourtStatus(ctx context.Context, courtID int64) (CourtStatusView, error) {
	now := e.clock.Now()
	var view CourtStatusView
	err := e.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		court, err := txdb.Queries.GetCourt(ctx, courtID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load court %d: %w", courtID, err)
		}
		view, err = e.courtStatusLocked(ctx, txdb.Queries, court, now)
		return err
	})
	return view, err
}

// Overview returns the status projection for every active court.
func (e *Engine) Overview(ctx context.Context) ([]CourtStatusView, error) {
	now := e.clock.Now()
	var views []CourtStatusView
	err := e.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		courts, err := txdb.Queries.ListCourts(ctx)
		if err != nil {
			return fmt.Errorf("list courts: %w", err)
		}
		views = make([]CourtStatusView, 0, len(courts))
		for _, court := range courts {
			view, err := e.courtStatusLocked(ctx, txdb.Queries, court, now)
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	return views, err
}

// Snapshot returns the per-court status without occupant or queue identity,
// suitable for unauthenticated callers.
func (e *Engine) Snapshot(ctx context.Context) ([]PublicCourtStatus, error) {
	views, err := e.Overview(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := make([]PublicCourtStatus, 0, len(views))
	for _, view := range views {
		snapshot = append(snapshot, PublicCourtStatus{
			CourtID:          view.CourtID,
			Name:             view.Name,
			Status:           view.Status,
			RemainingSeconds: view.RemainingSeconds,
			QueueLength:      int64(len(view.Queue)),
		})
	}
	return snapshot, nil
}

// QueueFor returns the court's queue in position order.
func (e *Engine) QueueFor(ctx context.Context, courtID int64) ([]QueueEntryView, error) {
	if _, err := e.db.Queries.GetCourt(ctx, courtID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load court %d: %w", courtID, err)
	}
	entries, err := e.db.Queries.ListQueue(ctx, courtID)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return queueViews(entries), nil
}

func (e *Engine) courtStatusLocked(ctx context.Context, q *appdb.Queries, court appdb.Court, now time.Time) (CourtStatusView, error) {
	view := CourtStatusView{
		CourtID: court.ID,
		Name:    court.Name,
		Status:  StatusOpen,
	}

	active, err := q.GetActiveSession(ctx, court.ID)
	if err == nil && active.ExpiresAt.After(now) {
		view.Status = StatusInUse
		view.RemainingSeconds = ceilSeconds(active.ExpiresAt.Sub(now))
		view.Occupant = &Occupant{UserID: active.UserID, Name: active.UserName}
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return CourtStatusView{}, fmt.Errorf("load active session: %w", err)
	}

	entries, err := q.ListQueue(ctx, court.ID)
	if err != nil {
		return CourtStatusView{}, fmt.Errorf("list queue: %w", err)
	}
	view.Queue = queueViews(entries)
	return view, nil
}

func queueViews(entries []appdb.QueueEntry) []QueueEntryView {
	views := make([]QueueEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, QueueEntryView{
			ID:       entry.ID,
			CourtID:  entry.CourtID,
			UserID:   entry.UserID,
			UserName: entry.UserName,
			Position: entry.Position,
		})
	}
	return views
}

// ceilSeconds rounds a remaining duration up to whole seconds, matching the
// poll-based countdown shown to clients.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
