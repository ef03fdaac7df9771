package auth

import (
	"context"
	"time"
)

const DefaultTokenSweepInterval = time.Hour

// StartTokenSweeper purges expired tokens every interval until ctx is done.
func (s *Service) StartTokenSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTokenSweepInterval
	}
	go s.sweepLoop(ctx, interval)
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sweepExpiredTokens(ctx)
			if err != nil {
				s.logger.Error("sweep expired tokens failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("swept expired tokens", "count", n)
			}
		}
	}
}

func (s *Service) sweepExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
