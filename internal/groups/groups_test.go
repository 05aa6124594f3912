package groups

import (
	"context"
	"errors"
	"regexp"
	"testing"

	appdb "github.com/ezhao/courtqueue/internal/db"
	"github.com/ezhao/courtqueue/internal/testutil"
)

func newService(t *testing.T) (*Service, *appdb.DB) {
	t.Helper()
	database := testutil.NewTestDB(t)
	service, err := NewService(database)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return service, database
}

func newUser(t *testing.T, database *appdb.DB, name, email string) appdb.User {
	t.Helper()
	user, err := database.Queries.UpsertUser(context.Background(), name, email)
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return user
}

func TestCreateAndJoinGroup(t *testing.T) {
	service, database := newService(t)
	ctx := context.Background()
	alice := newUser(t, database, "Alice", "alice@example.com")
	bob := newUser(t, database, "Bob", "bob@example.com")

	created, err := service.Create(ctx, alice.ID)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if created.Group.JoinCode == "" {
		t.Fatal("created group has empty join code")
	}
	if len(created.Members) != 1 || created.Members[0].UserID != alice.ID {
		t.Errorf("members = %+v, want just alice", created.Members)
	}

	joined, err := service.Join(ctx, bob.ID, created.Group.JoinCode)
	if err != nil {
		t.Fatalf("join group: %v", err)
	}
	if joined.Group.ID != created.Group.ID {
		t.Errorf("joined group %d, want %d", joined.Group.ID, created.Group.ID)
	}
	if len(joined.Members) != 2 {
		t.Errorf("member count = %d, want 2", len(joined.Members))
	}
}

func TestJoinNormalizesCode(t *testing.T) {
	service, database := newService(t)
	ctx := context.Background()
	alice := newUser(t, database, "Alice", "alice@example.com")
	bob := newUser(t, database, "Bob", "bob@example.com")

	created, err := service.Create(ctx, alice.ID)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	shouted := "  " + regexp.MustCompile(`[a-z]`).ReplaceAllStringFunc(created.Group.JoinCode, func(s string) string {
		return string(s[0] - 'a' + 'A')
	}) + "  "
	if _, err := service.Join(ctx, bob.ID, shouted); err != nil {
		t.Errorf("join with uppercased padded code: %v", err)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	service, database := newService(t)
	alice := newUser(t, database, "Alice", "alice@example.com")

	if _, err := service.Join(context.Background(), alice.ID, "no-such-00"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("join unknown code error = %v, want ErrGroupNotFound", err)
	}
}

func TestOneGroupPerUser(t *testing.T) {
	service, database := newService(t)
	ctx := context.Background()
	alice := newUser(t, database, "Alice", "alice@example.com")
	bob := newUser(t, database, "Bob", "bob@example.com")

	first, err := service.Create(ctx, alice.ID)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := service.Create(ctx, alice.ID); !errors.Is(err, ErrAlreadyInGroup) {
		t.Errorf("second create error = %v, want ErrAlreadyInGroup", err)
	}

	if _, err := service.Create(ctx, bob.ID); err != nil {
		t.Fatalf("create bob's group: %v", err)
	}
	if _, err := service.Join(ctx, bob.ID, first.Group.JoinCode); !errors.Is(err, ErrAlreadyInGroup) {
		t.Errorf("join while grouped error = %v, want ErrAlreadyInGroup", err)
	}
}

func TestLeaveDeletesEmptyGroup(t *testing.T) {
	service, database := newService(t)
	ctx := context.Background()
	alice := newUser(t, database, "Alice", "alice@example.com")
	bob := newUser(t, database, "Bob", "bob@example.com")

	created, err := service.Create(ctx, alice.ID)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := service.Join(ctx, bob.ID, created.Group.JoinCode); err != nil {
		t.Fatalf("join group: %v", err)
	}

	if err := service.Leave(ctx, alice.ID); err != nil {
		t.Fatalf("alice leave: %v", err)
	}
	// Bob remains, so the group survives and the code stays claimable.
	if _, found, err := service.MyGroup(ctx, bob.ID); err != nil || !found {
		t.Fatalf("bob's group after alice leaves = (%v, %v), want found", found, err)
	}

	if err := service.Leave(ctx, bob.ID); err != nil {
		t.Fatalf("bob leave: %v", err)
	}
	if _, err := database.Queries.GetGroupByCode(ctx, created.Group.JoinCode); err == nil {
		t.Error("group still exists after last member left")
	}

	if err := service.Leave(ctx, bob.ID); !errors.Is(err, ErrNotInGroup) {
		t.Errorf("leave twice error = %v, want ErrNotInGroup", err)
	}
}

func TestMyGroupWhenUngrouped(t *testing.T) {
	service, database := newService(t)
	alice := newUser(t, database, "Alice", "alice@example.com")

	_, found, err := service.MyGroup(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("my group: %v", err)
	}
	if found {
		t.Error("found = true for ungrouped user")
	}
}

func TestUniqueViolationClassification(t *testing.T) {
	_, database := newService(t)
	ctx := context.Background()
	q := database.Queries
	alice := newUser(t, database, "Alice", "alice@example.com")

	first, err := q.CreateGroup(ctx, "taken-code-11")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	_, err = q.CreateGroup(ctx, "taken-code-11")
	if err == nil {
		t.Fatal("duplicate join code accepted")
	}
	if !isJoinCodeCollision(err) {
		t.Errorf("duplicate code error %v not classified as code collision", err)
	}
	if isMembershipCollision(err) {
		t.Errorf("duplicate code error %v misclassified as membership collision", err)
	}

	if err := q.AddGroupMember(ctx, first.ID, alice.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	second, err := q.CreateGroup(ctx, "other-code-22")
	if err != nil {
		t.Fatalf("create second group: %v", err)
	}
	err = q.AddGroupMember(ctx, second.ID, alice.ID)
	if err == nil {
		t.Fatal("second membership accepted")
	}
	if !isMembershipCollision(err) {
		t.Errorf("second membership error %v not classified as membership collision", err)
	}
	if isJoinCodeCollision(err) {
		t.Errorf("second membership error %v misclassified as code collision", err)
	}
}

func TestGenerateJoinCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{2}$`)
	for i := 0; i < 50; i++ {
		code := GenerateJoinCode()
		if !pattern.MatchString(code) {
			t.Fatalf("join code %q does not match expected shape", code)
		}
		if NormalizeJoinCode("  "+code+"\n") != code {
			t.Fatalf("normalize round trip failed for %q", code)
		}
	}
}
