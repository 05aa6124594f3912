package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	appdb "github.com/ezhao/courtqueue/internal/db"
	"github.com/ezhao/courtqueue/internal/testutil"
)

var testStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type notification struct {
	recipient string
	courtName string
	expiresAt time.Time
}

type recordingNotifier struct {
	sent []notification
}

func (n *recordingNotifier) SessionStarted(_ context.Context, recipient, courtName string, expiresAt time.Time) {
	n.sent = append(n.sent, notification{recipient: recipient, courtName: courtName, expiresAt: expiresAt})
}

func newTestEngine(t *testing.T) (*Engine, *appdb.DB, clockwork.FakeClock, *recordingNotifier) {
	t.Helper()

	database := testutil.NewTestDBWithCourts(t)
	clock := clockwork.NewFakeClockAt(testStart)
	eng, err := New(database, clock, Config{SessionDuration: 30 * time.Minute})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	notifier := &recordingNotifier{}
	eng.SetNotifier(notifier)
	return eng, database, clock, notifier
}

func newActor(t *testing.T, database *appdb.DB, name, email string) Actor {
	t.Helper()
	user, err := database.Queries.UpsertUser(context.Background(), name, email)
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return Actor{ID: user.ID, Name: user.Name}
}

func joinGroup(t *testing.T, database *appdb.DB, userIDs ...int64) {
	t.Helper()
	ctx := context.Background()
	group, err := database.Queries.CreateGroup(ctx, "test-group-01")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	for _, id := range userIDs {
		if err := database.Queries.AddGroupMember(ctx, group.ID, id); err != nil {
			t.Fatalf("add group member %d: %v", id, err)
		}
	}
}

func TestTakeAndReleaseRoundTrip(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")

	session, err := eng.Take(ctx, 1, alice)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got, want := session.ExpiresAt, testStart.Add(30*time.Minute); !got.Equal(want) {
		t.Errorf("session expires at %v, want %v", got, want)
	}

	view, err := eng.CourtStatus(ctx, 1)
	if err != nil {
		t.Fatalf("court status: %v", err)
	}
	if view.Status != StatusInUse {
		t.Errorf("status = %q, want %q", view.Status, StatusInUse)
	}
	if view.RemainingSeconds != 1800 {
		t.Errorf("remaining seconds = %d, want 1800", view.RemainingSeconds)
	}
	if view.Occupant == nil || view.Occupant.UserID != alice.ID {
		t.Errorf("occupant = %+v, want user %d", view.Occupant, alice.ID)
	}

	if err := eng.Release(ctx, 1, alice); err != nil {
		t.Fatalf("release: %v", err)
	}
	view, err = eng.CourtStatus(ctx, 1)
	if err != nil {
		t.Fatalf("court status after release: %v", err)
	}
	if view.Status != StatusOpen {
		t.Errorf("status after release = %q, want %q", view.Status, StatusOpen)
	}
	if view.Occupant != nil {
		t.Errorf("occupant after release = %+v, want nil", view.Occupant)
	}
}

func TestTakeOccupiedCourt(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Take(ctx, 1, bob); !errors.Is(err, ErrCourtOccupied) {
		t.Errorf("take occupied court error = %v, want ErrCourtOccupied", err)
	}
}

func TestTakeWhileHoldingSessionElsewhere(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Take(ctx, 2, alice); !errors.Is(err, ErrActorBusy) {
		t.Errorf("second take error = %v, want ErrActorBusy", err)
	}
}

func TestTakeUnknownCourt(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	alice := newActor(t, database, "Alice", "alice@example.com")

	if _, err := eng.Take(context.Background(), 99, alice); !errors.Is(err, ErrNotFound) {
		t.Errorf("take unknown court error = %v, want ErrNotFound", err)
	}
}

func TestTakeExpiredCourtSucceeds(t *testing.T) {
	eng, database, clock, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	clock.Advance(31 * time.Minute)

	// The sweeper has not run, but the expired session no longer blocks.
	if _, err := eng.Take(ctx, 1, bob); err != nil {
		t.Fatalf("take after expiry: %v", err)
	}

	view, err := eng.CourtStatus(ctx, 1)
	if err != nil {
		t.Fatalf("court status: %v", err)
	}
	if view.Occupant == nil || view.Occupant.UserID != bob.ID {
		t.Errorf("occupant = %+v, want user %d", view.Occupant, bob.ID)
	}
}

func TestReleasePromotesQueueHead(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Reserve(ctx, 1, bob); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := eng.Release(ctx, 1, alice); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Bob was promoted by the release, so his queue entry is gone.
	queue, err := eng.QueueFor(ctx, 1)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(queue))
	}

	view, err := eng.CourtStatus(ctx, 1)
	if err != nil {
		t.Fatalf("court status: %v", err)
	}
	if view.Occupant == nil || view.Occupant.UserID != bob.ID {
		t.Errorf("occupant = %+v, want user %d", view.Occupant, bob.ID)
	}
}

func TestTakeOwnReservedCourtConsumesEntry(t *testing.T) {
	eng, database, clock, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Reserve(ctx, 1, bob); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Alice's session expires without a sweep; Bob takes the court he was
	// queued for directly, which must consume his own queue entry.
	clock.Advance(31 * time.Minute)
	if _, err := eng.Take(ctx, 1, bob); err != nil {
		t.Fatalf("take reserved court: %v", err)
	}

	queue, err := eng.QueueFor(ctx, 1)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(queue))
	}
}

func TestReserveOpenCourtRejectedByDefault(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	alice := newActor(t, database, "Alice", "alice@example.com")

	if _, err := eng.Reserve(context.Background(), 2, alice); !errors.Is(err, ErrCourtNotBusy) {
		t.Errorf("reserve open court error = %v, want ErrCourtNotBusy", err)
	}
}

func TestReserveQueuesInOrder(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")
	carol := newActor(t, database, "Carol", "carol@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}

	first, err := eng.Reserve(ctx, 1, bob)
	if err != nil {
		t.Fatalf("reserve bob: %v", err)
	}
	second, err := eng.Reserve(ctx, 1, carol)
	if err != nil {
		t.Fatalf("reserve carol: %v", err)
	}
	if first.Position != 1 || second.Position != 2 {
		t.Errorf("positions = %d, %d, want 1, 2", first.Position, second.Position)
	}

	if _, err := eng.Reserve(ctx, 2, bob); !errors.Is(err, ErrDuplicateReservation) {
		t.Errorf("duplicate reserve error = %v, want ErrDuplicateReservation", err)
	}
}

// reentrantNotifier runs another engine operation on the same court from
// inside SessionStarted. It only completes if the court lock has been
// released by the time the notifier is called.
type reentrantNotifier struct {
	eng     *Engine
	courtID int64
	actor   Actor
	result  chan error
}

func (n *reentrantNotifier) SessionStarted(ctx context.Context, _, _ string, _ time.Time) {
	done := make(chan error, 1)
	go func() {
		_, err := n.eng.Reserve(ctx, n.courtID, n.actor)
		done <- err
	}()
	select {
	case err := <-done:
		n.result <- err
	case <-time.After(2 * time.Second):
		n.result <- errors.New("reserve blocked during notification")
	}
}

func TestReleaseNotifiesAfterCourtLockReleased(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")
	carol := newActor(t, database, "Carol", "carol@example.com")

	notifier := &reentrantNotifier{eng: eng, courtID: 1, actor: carol, result: make(chan error, 1)}
	eng.SetNotifier(notifier)

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Reserve(ctx, 1, bob); err != nil {
		t.Fatalf("reserve bob: %v", err)
	}

	// Releasing promotes bob and fires the notifier, which reserves court 1
	// for carol while the promotion notification is in flight.
	if err := eng.Release(ctx, 1, alice); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case err := <-notifier.result:
		if err != nil {
			t.Fatalf("reserve during notification: %v", err)
		}
	default:
		t.Fatal("notifier was not called")
	}

	queue, err := eng.QueueFor(ctx, 1)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 1 || queue[0].UserID != carol.ID {
		t.Errorf("queue = %+v, want carol at the head", queue)
	}
}

func TestReserveWhileHoldingSession(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Take(ctx, 2, bob); err != nil {
		t.Fatalf("take court 2: %v", err)
	}
	if _, err := eng.Reserve(ctx, 1, bob); !errors.Is(err, ErrActorBusy) {
		t.Errorf("reserve while playing error = %v, want ErrActorBusy", err)
	}
}

func TestReserveOpenCourtAllowedByConfig(t *testing.T) {
	database := testutil.NewTestDBWithCourts(t)
	clock := clockwork.NewFakeClockAt(testStart)
	eng, err := New(database, clock, Config{
		SessionDuration:       30 * time.Minute,
		AllowReserveOpenCourt: true,
	})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	alice := newActor(t, database, "Alice", "alice@example.com")

	if _, err := eng.Reserve(context.Background(), 1, alice); err != nil {
		t.Errorf("reserve open court with override: %v", err)
	}
}

func TestGroupScopeBlocksTakeAndReserve(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")
	joinGroup(t, database, alice.ID, bob.ID)

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Take(ctx, 2, bob); !errors.Is(err, ErrGroupBusy) {
		t.Errorf("group member take error = %v, want ErrGroupBusy", err)
	}
	if _, err := eng.Reserve(ctx, 1, bob); !errors.Is(err, ErrGroupBusy) {
		t.Errorf("group member reserve error = %v, want ErrGroupBusy", err)
	}
}

func TestReleaseRequiresOwnActiveSession(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	if err := eng.Release(ctx, 1, alice); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("release open court error = %v, want ErrNoActiveSession", err)
	}

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := eng.Release(ctx, 1, bob); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("release someone else's session error = %v, want ErrNoActiveSession", err)
	}
}

func TestCancelReservation(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")
	carol := newActor(t, database, "Carol", "carol@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	bobEntry, err := eng.Reserve(ctx, 1, bob)
	if err != nil {
		t.Fatalf("reserve bob: %v", err)
	}
	if _, err := eng.Reserve(ctx, 1, carol); err != nil {
		t.Fatalf("reserve carol: %v", err)
	}

	if err := eng.CancelReservation(ctx, bobEntry.ID, carol); !errors.Is(err, ErrForbidden) {
		t.Errorf("cancel another user's entry error = %v, want ErrForbidden", err)
	}
	if err := eng.CancelReservation(ctx, bobEntry.ID, bob); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := eng.CancelReservation(ctx, bobEntry.ID, bob); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel twice error = %v, want ErrNotFound", err)
	}

	queue, err := eng.QueueFor(ctx, 1)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 1 || queue[0].UserID != carol.ID || queue[0].Position != 1 {
		t.Errorf("queue after cancel = %+v, want carol at position 1", queue)
	}
}

func TestExpirePromotesQueueHead(t *testing.T) {
	eng, database, clock, notifier := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Reserve(ctx, 1, bob); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	clock.Advance(31 * time.Minute)
	if err := eng.ExpireSessions(ctx); err != nil {
		t.Fatalf("expire sessions: %v", err)
	}

	view, err := eng.CourtStatus(ctx, 1)
	if err != nil {
		t.Fatalf("court status: %v", err)
	}
	if view.Status != StatusInUse {
		t.Errorf("status = %q, want %q", view.Status, StatusInUse)
	}
	if view.Occupant == nil || view.Occupant.UserID != bob.ID {
		t.Errorf("occupant = %+v, want user %d", view.Occupant, bob.ID)
	}
	if len(view.Queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(view.Queue))
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("notifications sent = %d, want 1", len(notifier.sent))
	}
	sent := notifier.sent[0]
	if sent.recipient != "bob@example.com" || sent.courtName != "Court 1" {
		t.Errorf("notification = %+v, want bob@example.com on Court 1", sent)
	}
	if want := testStart.Add(31 * time.Minute).Add(30 * time.Minute); !sent.expiresAt.Equal(want) {
		t.Errorf("promoted session expires at %v, want %v", sent.expiresAt, want)
	}
}

func TestExpireWithEmptyQueueOpensCourt(t *testing.T) {
	eng, database, clock, notifier := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	clock.Advance(31 * time.Minute)
	if err := eng.ExpireSessions(ctx); err != nil {
		t.Fatalf("expire sessions: %v", err)
	}

	view, err := eng.CourtStatus(ctx, 1)
	if err != nil {
		t.Fatalf("court status: %v", err)
	}
	if view.Status != StatusOpen {
		t.Errorf("status = %q, want %q", view.Status, StatusOpen)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("notifications sent = %d, want 0", len(notifier.sent))
	}
}

func TestExpireSkipsAlreadyCompletedSession(t *testing.T) {
	eng, database, clock, notifier := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	session, err := eng.Take(ctx, 1, alice)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Reserve(ctx, 1, bob); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	clock.Advance(31 * time.Minute)

	// Manual release races the sweep and wins: it completes the session and
	// promotes Bob. The sweep must then see the completion and do nothing,
	// or Bob's fresh session would be double-advanced.
	if err := eng.Release(ctx, 1, alice); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := eng.ExpireSessions(ctx); err != nil {
		t.Fatalf("expire sessions: %v", err)
	}

	view, err := eng.CourtStatus(ctx, 1)
	if err != nil {
		t.Fatalf("court status: %v", err)
	}
	if view.Occupant == nil || view.Occupant.UserID != bob.ID {
		t.Errorf("occupant = %+v, want user %d", view.Occupant, bob.ID)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("notifications sent = %d, want exactly 1", len(notifier.sent))
	}

	completed, err := database.Queries.CompleteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("re-complete session: %v", err)
	}
	if completed != 0 {
		t.Errorf("session %d completed again, conditional update should not match", session.ID)
	}
}

func TestSnapshotHidesIdentity(t *testing.T) {
	eng, database, _, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newActor(t, database, "Alice", "alice@example.com")
	bob := newActor(t, database, "Bob", "bob@example.com")

	if _, err := eng.Take(ctx, 1, alice); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := eng.Reserve(ctx, 1, bob); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	snapshot, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(snapshot))
	}
	if snapshot[0].Status != StatusInUse || snapshot[0].QueueLength != 1 {
		t.Errorf("court 1 snapshot = %+v, want in_use with queue length 1", snapshot[0])
	}
	if snapshot[1].Status != StatusOpen || snapshot[1].QueueLength != 0 {
		t.Errorf("court 2 snapshot = %+v, want open with empty queue", snapshot[1])
	}
}

func TestCeilSeconds(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int64
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{time.Second + time.Millisecond, 2},
		{30 * time.Minute, 1800},
	}
	for _, tc := range cases {
		if got := ceilSeconds(tc.d); got != tc.want {
			t.Errorf("ceilSeconds(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}
