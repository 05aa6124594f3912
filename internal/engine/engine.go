// Package engine owns the court state machine: fixed-duration sessions,
// per-court FIFO queues, and the single advance path used by both manual
// release and the expiry sweeper.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	appdb "github.com/ezhao/courtqueue/internal/db"
	"github.com/ezhao/courtqueue/internal/queue"
)

// Actor identifies the authenticated user on whose behalf an operation
// runs. Identity is opaque to the engine; group membership is resolved
// from the store when scope checks need it.
type Actor struct {
	ID   int64
	Name string
}

type Config struct {
	// SessionDuration is the fixed occupancy length granted by take and by
	// queue promotion.
	SessionDuration time.Duration

	// AllowReserveOpenCourt permits queueing on an open court with an empty
	// queue. Off by default: the caller should take the court instead.
	AllowReserveOpenCourt bool
}

// PromotionNotifier is told, best effort, when a queued user is promoted
// into a session. Implementations must not block for long; the engine calls
// it after the promoting transaction has committed and the court lock has
// been released.
type PromotionNotifier interface {
	SessionStarted(ctx context.Context, recipient, courtName string, expiresAt time.Time)
}

type Engine struct {
	db       *appdb.DB
	clock    clockwork.Clock
	cfg      Config
	notifier PromotionNotifier

	mu         sync.Mutex
	courtLocks map[int64]*sync.Mutex
}

func New(database *appdb.DB, clock clockwork.Clock, cfg Config) (*Engine, error) {
	if database == nil {
		return nil, errors.New("engine requires a database")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.SessionDuration <= 0 {
		return nil, errors.New("engine requires a positive session duration")
	}
	return &Engine{
		db:         database,
		clock:      clock,
		cfg:        cfg,
		courtLocks: make(map[int64]*sync.Mutex),
	}, nil
}

// SetNotifier installs the optional promotion notifier.
func (e *Engine) SetNotifier(n PromotionNotifier) {
	e.notifier = n
}

// lockCourt serializes state-changing operations per court. Operations on
// different courts proceed in parallel; no operation ever touches two
// courts, so there is no lock ordering to worry about.
func (e *Engine) lockCourt(courtID int64) func() {
	e.mu.Lock()
	lock, ok := e.courtLocks[courtID]
	if !ok {
		lock = &sync.Mutex{}
		e.courtLocks[courtID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// resolveScope returns the set of user ids whose reservations and sessions
// block the actor: just the actor when ungrouped, the whole group otherwise.
func resolveScope(ctx context.Context, q *appdb.Queries, userID int64) ([]int64, error) {
	group, err := q.GetGroupForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []int64{userID}, nil
		}
		return nil, fmt.Errorf("resolve group for user %d: %w", userID, err)
	}
	ids, err := q.ListGroupMemberIDs(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return ids, nil
}

// promotion carries what the notifier needs out of a committed transaction.
type promotion struct {
	Recipient string
	CourtName string
	ExpiresAt time.Time
}

// Take starts a session for the actor on an open court. If the actor was
// queued on this same court, that entry is consumed; a reservation anywhere
// else, or any active session within the actor's scope, blocks the take.
func (e *Engine) Take(ctx context.Context, courtID int64, actor Actor) (appdb.Session, error) {
	unlock := e.lockCourt(courtID)
	defer unlock()

	now := e.clock.Now()
	var created appdb.Session
	err := e.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		q := txdb.Queries
		if _, err := q.GetCourt(ctx, courtID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load court %d: %w", courtID, err)
		}

		// A session past its deadline no longer occupies the court; if the
		// sweeper has not reached it yet, complete it here so at most one
		// active session per court ever exists.
		active, err := q.GetActiveSession(ctx, courtID)
		switch {
		case err == nil:
			if active.ExpiresAt.After(now) {
				return ErrCourtOccupied
			}
			if _, err := q.CompleteSession(ctx, active.ID); err != nil {
				return fmt.Errorf("complete expired session %d: %w", active.ID, err)
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("load active session: %w", err)
		}

		scope, err := resolveScope(ctx, q, actor.ID)
		if err != nil {
			return err
		}

		if session, err := q.GetActiveSessionForUsers(ctx, scope); err == nil {
			if session.UserID == actor.ID {
				return ErrActorBusy
			}
			return ErrGroupBusy
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check active sessions: %w", err)
		}

		if entry, err := q.GetReservedEntryForUsers(ctx, scope); err == nil {
			switch {
			case entry.UserID == actor.ID && entry.CourtID == courtID:
				// Taking the court the actor was queued for cancels the wait.
				if err := queue.RemoveAndCompact(ctx, q, entry.ID); err != nil {
					return err
				}
			case entry.UserID == actor.ID:
				return ErrActorBusy
			default:
				return ErrGroupBusy
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check reservations: %w", err)
		}

		created, err = q.CreateSession(ctx, courtID, actor.ID, actor.Name, now, now.Add(e.cfg.SessionDuration))
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return appdb.Session{}, err
	}

	log.Ctx(ctx).Info().
		Int64("court_id", courtID).
		Int64("user_id", actor.ID).
		Time("expires_at", created.ExpiresAt).
		Msg("Court taken")
	return created, nil
}

// Release completes the actor's active session on the court and promotes
// the queue head, if any, through the same advance path the sweeper uses.
func (e *Engine) Release(ctx context.Context, courtID int64, actor Actor) error {
	return e.completeAndAdvance(ctx, courtID, actor)
}

// Advance is the manual skip-to-next operation: the occupying actor ends
// their session early and hands the court to the queue head.
func (e *Engine) Advance(ctx context.Context, courtID int64, actor Actor) error {
	return e.completeAndAdvance(ctx, courtID, actor)
}

func (e *Engine) completeAndAdvance(ctx context.Context, courtID int64, actor Actor) error {
	promo, err := e.endSession(ctx, courtID, actor)
	if err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Int64("court_id", courtID).
		Int64("user_id", actor.ID).
		Bool("promoted_next", promo != nil).
		Msg("Court released")
	// The notifier may make a network round trip; the court lock is already
	// released here.
	e.notify(ctx, promo)
	return nil
}

// endSession completes the actor's active session and advances the queue as
// one transaction under the court lock.
func (e *Engine) endSession(ctx context.Context, courtID int64, actor Actor) (*promotion, error) {
	unlock := e.lockCourt(courtID)
	defer unlock()

	now := e.clock.Now()
	var promo *promotion
	err := e.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		q := txdb.Queries

		active, err := q.GetActiveSession(ctx, courtID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoActiveSession
			}
			return fmt.Errorf("load active session: %w", err)
		}
		if active.UserID != actor.ID {
			return ErrNoActiveSession
		}

		completed, err := q.CompleteSession(ctx, active.ID)
		if err != nil {
			return fmt.Errorf("complete session %d: %w", active.ID, err)
		}
		if completed == 0 {
			// A concurrent sweep or release already completed it.
			return ErrNoActiveSession
		}

		promo, err = e.advanceLocked(ctx, q, courtID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return promo, nil
}

// advanceLocked is the single path by which a court that just became free
// is handed to its queue. It must run inside a transaction while holding
// the court lock. A nil promotion means the queue was empty and the court
// is now open.
func (e *Engine) advanceLocked(ctx context.Context, q *appdb.Queries, courtID int64, now time.Time) (*promotion, error) {
	entry, ok, err := queue.DequeueHead(ctx, q, courtID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	session, err := q.CreateSession(ctx, courtID, entry.UserID, entry.UserName, now, now.Add(e.cfg.SessionDuration))
	if err != nil {
		return nil, fmt.Errorf("create session for promoted user %d: %w", entry.UserID, err)
	}

	user, err := q.GetUser(ctx, entry.UserID)
	if err != nil {
		return nil, fmt.Errorf("load promoted user %d: %w", entry.UserID, err)
	}
	court, err := q.GetCourt(ctx, courtID)
	if err != nil {
		return nil, fmt.Errorf("load court %d: %w", courtID, err)
	}

	return &promotion{
		Recipient: user.Email,
		CourtName: court.Name,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Reserve appends the actor to the court's queue after re-checking the same
// busy preconditions as Take.
func (e *Engine) Reserve(ctx context.Context, courtID int64, actor Actor) (appdb.QueueEntry, error) {
	unlock := e.lockCourt(courtID)
	defer unlock()

	now := e.clock.Now()
	var entry appdb.QueueEntry
	err := e.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		q := txdb.Queries
		if _, err := q.GetCourt(ctx, courtID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load court %d: %w", courtID, err)
		}

		scope, err := resolveScope(ctx, q, actor.ID)
		if err != nil {
			return err
		}

		if session, err := q.GetActiveSessionForUsers(ctx, scope); err == nil {
			if session.UserID == actor.ID {
				return ErrActorBusy
			}
			return ErrGroupBusy
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check active sessions: %w", err)
		}

		// Busy preconditions come before the open-court policy: an actor
		// already queued somewhere gets the duplicate rejection even when
		// this court is open.
		if _, err := q.GetReservedEntryForUsers(ctx, scope); err == nil {
			return ErrDuplicateReservation
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check reservations: %w", err)
		}

		if !e.cfg.AllowReserveOpenCourt {
			occupied, err := e.courtOccupied(ctx, q, courtID, now)
			if err != nil {
				return err
			}
			if !occupied {
				waiting, err := q.CountQueue(ctx, courtID)
				if err != nil {
					return fmt.Errorf("count queue: %w", err)
				}
				if waiting == 0 {
					return ErrCourtNotBusy
				}
			}
		}

		entry, err = queue.Enqueue(ctx, q, courtID, actor.ID, actor.Name, scope)
		return err
	})
	if err != nil {
		return appdb.QueueEntry{}, err
	}

	log.Ctx(ctx).Info().
		Int64("court_id", courtID).
		Int64("user_id", actor.ID).
		Int64("position", entry.Position).
		Msg("Joined court queue")
	return entry, nil
}

// CancelReservation removes the actor's own queue entry and renumbers the
// entries behind it.
func (e *Engine) CancelReservation(ctx context.Context, entryID int64, actor Actor) error {
	// Resolve the court outside the lock; ownership is re-checked inside
	// the transaction once the lock is held.
	entry, err := e.db.Queries.GetQueueEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load queue entry %d: %w", entryID, err)
	}
	if entry.UserID != actor.ID {
		return ErrForbidden
	}

	unlock := e.lockCourt(entry.CourtID)
	defer unlock()

	err = e.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		q := txdb.Queries
		current, err := q.GetQueueEntry(ctx, entryID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Dequeued or cancelled while we waited for the lock.
				return ErrNotFound
			}
			return fmt.Errorf("load queue entry %d: %w", entryID, err)
		}
		if current.UserID != actor.ID {
			return ErrForbidden
		}
		return queue.RemoveAndCompact(ctx, q, entryID)
	})
	if err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Int64("entry_id", entryID).
		Int64("court_id", entry.CourtID).
		Int64("user_id", actor.ID).
		Msg("Reservation cancelled")
	return nil
}

// courtOccupied reports whether the court has an active session that has
// not passed its deadline.
func (e *Engine) courtOccupied(ctx context.Context, q *appdb.Queries, courtID int64, now time.Time) (bool, error) {
	active, err := q.GetActiveSession(ctx, courtID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load active session: %w", err)
	}
	return active.ExpiresAt.After(now), nil
}

func (e *Engine) notify(ctx context.Context, promo *promotion) {
	if promo == nil || e.notifier == nil {
		return
	}
	e.notifier.SessionStarted(ctx, promo.Recipient, promo.CourtName, promo.ExpiresAt)
}
