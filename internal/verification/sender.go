package verification

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes codes to the log instead of delivering them.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendOTP(_ context.Context, d Delivery) error {
	s.log.Debug("otp delivery",
		zap.String("lock_id", d.LockID),
		zap.String("owner_id", d.OwnerID),
		zap.String("code", d.Code),
		zap.Time("expires_at", d.ExpiresAt),
	)
	return nil
}
