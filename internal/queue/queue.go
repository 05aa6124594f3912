// Package queue maintains the dense FIFO ordering of a court's waiting
// queue. All functions operate on a query handle supplied by the caller,
// which is expected to be bound to an open transaction so queue mutations
// commit atomically with the court transition that triggered them.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appdb "github.com/ezhao/courtqueue/internal/db"
)

// ErrDuplicateReservation is returned by Enqueue when the user, or a member
// of the user's group, already holds a reserved entry on any court.
var ErrDuplicateReservation = errors.New("user already holds a reservation")

// Enqueue appends a reserved entry for the user at position count+1. The
// scope slice holds the ids whose existing reservations block the enqueue:
// just the user for an ungrouped actor, the whole group otherwise.
func Enqueue(ctx context.Context, q *appdb.Queries, courtID, userID int64, userName string, scope []int64) (appdb.QueueEntry, error) {
	if _, err := q.GetReservedEntryForUsers(ctx, scope); err == nil {
		return appdb.QueueEntry{}, ErrDuplicateReservation
	} else if !errors.Is(err, sql.ErrNoRows) {
		return appdb.QueueEntry{}, fmt.Errorf("check existing reservations: %w", err)
	}

	position, err := q.NextQueuePosition(ctx, courtID)
	if err != nil {
		return appdb.QueueEntry{}, fmt.Errorf("next queue position: %w", err)
	}

	entry, err := q.CreateQueueEntry(ctx, courtID, userID, userName, position)
	if err != nil {
		return appdb.QueueEntry{}, fmt.Errorf("create queue entry: %w", err)
	}
	return entry, nil
}

// RemoveAndCompact deletes the entry and decrements the position of every
// reserved entry behind it on the same court, restoring the contiguous
// 1..N ordering. Removing an entry that is already gone is a no-op so that
// concurrent cancel and advance calls tolerate each other.
func RemoveAndCompact(ctx context.Context, q *appdb.Queries, entryID int64) error {
	entry, err := q.GetQueueEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load queue entry: %w", err)
	}

	deleted, err := q.DeleteQueueEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if deleted == 0 {
		return nil
	}

	// Shift trailing entries forward one at a time in ascending order; each
	// update moves an entry into the slot just vacated, which keeps the
	// (court_id, queue_position) uniqueness constraint satisfied throughout.
	trailing, err := q.ListQueueAfterPosition(ctx, entry.CourtID, entry.Position)
	if err != nil {
		return fmt.Errorf("list trailing entries: %w", err)
	}
	for _, t := range trailing {
		if err := q.SetQueuePosition(ctx, t.ID, t.Position-1); err != nil {
			return fmt.Errorf("renumber queue entry %d: %w", t.ID, err)
		}
	}
	return nil
}

// PeekHead returns the reserved entry with the lowest position, if any.
func PeekHead(ctx context.Context, q *appdb.Queries, courtID int64) (appdb.QueueEntry, bool, error) {
	entry, err := q.PeekQueueHead(ctx, courtID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appdb.QueueEntry{}, false, nil
		}
		return appdb.QueueEntry{}, false, fmt.Errorf("peek queue head: %w", err)
	}
	return entry, true, nil
}

// DequeueHead removes and returns the head of the court's queue. Within a
// transaction this is a single atomic step, so two callers can never
// dequeue the same head.
func DequeueHead(ctx context.Context, q *appdb.Queries, courtID int64) (appdb.QueueEntry, bool, error) {
	entry, ok, err := PeekHead(ctx, q, courtID)
	if err != nil || !ok {
		return appdb.QueueEntry{}, false, err
	}
	if err := RemoveAndCompact(ctx, q, entry.ID); err != nil {
		return appdb.QueueEntry{}, false, err
	}
	return entry, true, nil
}
