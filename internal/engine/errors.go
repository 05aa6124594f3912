package engine

import (
	"errors"

	"github.com/ezhao/courtqueue/internal/queue"
)

// Precondition failures returned as typed results. No engine operation
// partially applies: either the whole transition commits or none of it does.
var (
	// ErrCourtOccupied means the court has an active session that has not
	// passed its deadline.
	ErrCourtOccupied = errors.New("court is currently in use")

	// ErrActorBusy means the acting user already holds a reservation or is
	// occupying a court.
	ErrActorBusy = errors.New("you already hold a reservation or a court")

	// ErrGroupBusy means another member of the actor's group holds a
	// reservation or is occupying a court.
	ErrGroupBusy = errors.New("a member of your group already holds a reservation or a court")

	// ErrNoActiveSession means a release or advance found nothing to
	// release for the acting user on that court.
	ErrNoActiveSession = errors.New("no active session to release")

	// ErrNotFound means an unknown court or queue entry was referenced.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the actor tried to cancel someone else's entry.
	ErrForbidden = errors.New("forbidden")

	// ErrCourtNotBusy means the court is open with nobody waiting, so the
	// caller should take it instead of queueing behind no one. Overridable
	// via Config.AllowReserveOpenCourt.
	ErrCourtNotBusy = errors.New("court is open; take it instead of reserving")

	// ErrDuplicateReservation mirrors the queue manager's rejection of a
	// second reserved entry within the actor's allocation scope.
	ErrDuplicateReservation = queue.ErrDuplicateReservation
)
