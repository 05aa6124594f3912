package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	appdb "github.com/ezhao/courtqueue/internal/db"
)

// ExpireSessions is the sweep body: it finds active sessions past their
// deadline and, one court at a time, completes each and advances that
// court's queue. A session already completed by a concurrent release or
// advance is skipped silently; the conditional completion inside the
// transaction guarantees exactly one caller wins and exactly one advance
// fires per completion.
func (e *Engine) ExpireSessions(ctx context.Context) error {
	now := e.clock.Now()
	expired, err := e.db.Queries.ListExpiredSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired sessions: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	logger := log.Ctx(ctx).With().Str("component", "expiry_sweeper").Logger()
	for _, session := range expired {
		promo, swept, err := e.expireOne(ctx, session.ID, session.CourtID)
		if err != nil {
			logger.Error().Err(err).
				Int64("session_id", session.ID).
				Int64("court_id", session.CourtID).
				Msg("Failed to expire session")
			continue
		}
		if !swept {
			logger.Debug().
				Int64("session_id", session.ID).
				Int64("court_id", session.CourtID).
				Msg("Session already completed, skipping")
			continue
		}

		logger.Info().
			Int64("session_id", session.ID).
			Int64("court_id", session.CourtID).
			Int64("user_id", session.UserID).
			Bool("promoted_next", promo != nil).
			Msg("Expired session")
		e.notify(ctx, promo)
	}
	return nil
}

// expireOne completes one expired session and advances its court's queue as
// a single transaction under the court lock. swept is false when a
// concurrent manual release or advance completed the session first.
func (e *Engine) expireOne(ctx context.Context, sessionID, courtID int64) (*promotion, bool, error) {
	unlock := e.lockCourt(courtID)
	defer unlock()

	now := e.clock.Now()
	var promo *promotion
	var swept bool
	err := e.db.RunInTx(ctx, func(txdb *appdb.DB) error {
		completed, err := txdb.Queries.CompleteSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("complete session %d: %w", sessionID, err)
		}
		if completed == 0 {
			return nil
		}
		swept = true
		promo, err = e.advanceLocked(ctx, txdb.Queries, courtID, now)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return promo, swept, nil
}
