package email

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// PromotionNotifier emails a queued player when a court becomes theirs.
// Delivery is best effort: failures are logged, never propagated, so a
// bounced email can never roll back a promotion.
type PromotionNotifier struct {
	sender EmailSender
}

func NewPromotionNotifier(sender EmailSender) *PromotionNotifier {
	return &PromotionNotifier{sender: sender}
}

// SessionStarted tells the promoted player their session has begun.
func (n *PromotionNotifier) SessionStarted(ctx context.Context, recipient, courtName string, expiresAt time.Time) {
	if n == nil || n.sender == nil || recipient == "" {
		return
	}

	subject := fmt.Sprintf("%s is yours", courtName)
	body := fmt.Sprintf(
		"You're up! %s is now yours. Your session ends at %s.",
		courtName,
		expiresAt.Local().Format("3:04 PM"),
	)
	if err := n.sender.Send(ctx, recipient, subject, body); err != nil {
		log.Ctx(ctx).Warn().
			Err(err).
			Str("court", courtName).
			Msg("Failed to send promotion email")
	}
}
