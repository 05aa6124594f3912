// Package groups manages shared allocation groups: a set of users who
// split one reservation slot between them. Membership is consulted by the
// allocation engine when it resolves an actor's scope.
package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	appdb "github.com/ezhao/courtqueue/internal/db"
)

var (
	ErrAlreadyInGroup = errors.New("user already belongs to a group")
	ErrNotInGroup     = errors.New("user does not belong to a group")
	ErrGroupNotFound  = errors.New("group not found")
)

// maxCodeAttempts bounds retries when a generated join code collides with
// an existing group.
const maxCodeAttempts = 5

type Service struct {
	db *appdb.DB
}

func NewService(database *appdb.DB) (*Service, error) {
	if database == nil {
		return nil, errors.New("groups service requires a database")
	}
	return &Service{db: database}, nil
}

// Info is a group together with its member listing.
type Info struct {
	Group   appdb.Group
	Members []appdb.GroupMemberDetail
}

// Create starts a new group with a fresh join code and the user as its
// first member.
func (s *Service) Create(ctx context.Context, userID int64) (Info, error) {
	var info Info
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code := GenerateJoinCode()
		err := s.db.RunInTx(ctx, func(txdb *appdb.DB) error {
			q := txdb.Queries
			if _, err := q.GetGroupForUser(ctx, userID); err == nil {
				return ErrAlreadyInGroup
			} else if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check existing group: %w", err)
			}

			group, err := q.CreateGroup(ctx, code)
			if err != nil {
				return fmt.Errorf("create group: %w", err)
			}
			if err := q.AddGroupMember(ctx, group.ID, userID); err != nil {
				return fmt.Errorf("add founding member: %w", err)
			}

			info.Group = group
			info.Members, err = q.ListGroupMembers(ctx, group.ID)
			return err
		})
		if err == nil {
			log.Ctx(ctx).Info().
				Int64("group_id", info.Group.ID).
				Int64("user_id", userID).
				Msg("Group created")
			return info, nil
		}
		// A lost race against a concurrent create or join for the same user
		// surfaces as a membership collision, not a code collision.
		if isMembershipCollision(err) {
			return Info{}, ErrAlreadyInGroup
		}
		if isJoinCodeCollision(err) && attempt < maxCodeAttempts {
			continue
		}
		return Info{}, err
	}
	return Info{}, fmt.Errorf("could not generate a unique join code")
}

// Join adds the user to the group identified by the join code.
func (s *Service) Join(ctx context.Context, userID int64, joinCode string) (Info, error) {
	var info Info
	err := s.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		q := txdb.Queries
		if _, err := q.GetGroupForUser(ctx, userID); err == nil {
			return ErrAlreadyInGroup
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check existing group: %w", err)
		}

		group, err := q.GetGroupByCode(ctx, NormalizeJoinCode(joinCode))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrGroupNotFound
			}
			return fmt.Errorf("load group by code: %w", err)
		}
		if err := q.AddGroupMember(ctx, group.ID, userID); err != nil {
			return fmt.Errorf("add group member: %w", err)
		}

		info.Group = group
		info.Members, err = q.ListGroupMembers(ctx, group.ID)
		return err
	})
	if err != nil {
		if isMembershipCollision(err) {
			return Info{}, ErrAlreadyInGroup
		}
		return Info{}, err
	}

	log.Ctx(ctx).Info().
		Int64("group_id", info.Group.ID).
		Int64("user_id", userID).
		Msg("Joined group")
	return info, nil
}

// Leave removes the user from their group, deleting the group entirely when
// the last member leaves.
func (s *Service) Leave(ctx context.Context, userID int64) error {
	var groupID int64
	var deleted bool
	err := s.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		q := txdb.Queries
		group, err := q.GetGroupForUser(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotInGroup
			}
			return fmt.Errorf("load group for user: %w", err)
		}
		groupID = group.ID

		removed, err := q.RemoveGroupMember(ctx, group.ID, userID)
		if err != nil {
			return fmt.Errorf("remove group member: %w", err)
		}
		if removed == 0 {
			return ErrNotInGroup
		}

		remaining, err := q.CountGroupMembers(ctx, group.ID)
		if err != nil {
			return fmt.Errorf("count group members: %w", err)
		}
		if remaining == 0 {
			deleted = true
			return q.DeleteGroup(ctx, group.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Int64("group_id", groupID).
		Int64("user_id", userID).
		Bool("group_deleted", deleted).
		Msg("Left group")
	return nil
}

// MyGroup returns the user's group and members, or ok=false when the user
// is not in a group.
func (s *Service) MyGroup(ctx context.Context, userID int64) (Info, bool, error) {
	group, err := s.db.Queries.GetGroupForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("load group for user: %w", err)
	}
	members, err := s.db.Queries.ListGroupMembers(ctx, group.ID)
	if err != nil {
		return Info{}, false, fmt.Errorf("list group members: %w", err)
	}
	return Info{Group: group, Members: members}, true, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isJoinCodeCollision reports a uniqueness failure on the group join code.
// The driver names the violated column in the error message.
func isJoinCodeCollision(err error) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), "groups.join_code")
}

// isMembershipCollision reports a uniqueness failure on the one-group-per-user
// constraint.
func isMembershipCollision(err error) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), "group_members.user_id")
}
