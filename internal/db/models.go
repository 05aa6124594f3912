package db

import (
	"database/sql"
	"time"
)

// Session status values. A session is created active and is only ever
// mutated to completed; it is never deleted or re-activated.
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// Queue entry status values.
const (
	QueueStatusReserved = "reserved"
)

type User struct {
	ID        int64
	Name      string
	Email     string
	Avatar    sql.NullString
	CreatedAt time.Time
}

type Court struct {
	ID        int64
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

type Session struct {
	ID        int64
	CourtID   int64
	UserID    int64
	UserName  string
	StartedAt time.Time
	ExpiresAt time.Time
	Status    string
}

type QueueEntry struct {
	ID        int64
	CourtID   int64
	UserID    int64
	UserName  string
	Position  int64
	Status    string
	CreatedAt time.Time
}

type Group struct {
	ID        int64
	JoinCode  string
	CreatedAt time.Time
}

type GroupMember struct {
	ID       int64
	GroupID  int64
	UserID   int64
	JoinedAt time.Time
}

// GroupMemberDetail is a group member joined with the member's user record.
type GroupMemberDetail struct {
	UserID   int64
	Name     string
	Email    string
	Avatar   sql.NullString
	JoinedAt time.Time
}
