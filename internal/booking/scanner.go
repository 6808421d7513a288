package booking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Scanner reclaims pending reservations that outlived the hold window.
// A tick tolerates per-item failures and is safe to run concurrently with
// itself or with other scanner instances: every transition it triggers is
// a conditional update, so the overlap degenerates to no-ops.
type Scanner struct {
	coord  *Coordinator
	store  Store
	clock  Clock
	logger *zap.Logger
}

func NewScanner(coord *Coordinator, store Store, clock Clock, logger *zap.Logger) *Scanner {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		coord:  coord,
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// Tick runs one sweep. Returns how many reservations were expired; an
// error is returned only when the candidate scan itself fails.
func (s *Scanner) Tick(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.coord.HoldWindow())

	candidates, err := s.store.FindExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find expired pending reservations: %w", err)
	}

	expired := 0
	for _, res := range candidates {
		updated, err := s.coord.Expire(ctx, res.ID)
		if err != nil {
			s.logger.Error("expire reservation",
				zap.String("reservation_id", res.ID.String()),
				zap.Error(err))
			continue
		}
		if updated.Status == ReservationExpired {
			expired++
		}
	}

	s.reclaimDanglingClaims(ctx, cutoff)

	if len(candidates) > 0 {
		s.logger.Info("expiry sweep complete",
			zap.Int("candidates", len(candidates)),
			zap.Int("expired", expired))
	}

	return expired, nil
}

// reclaimDanglingClaims frees slots stuck in reserved with no reservation
// row, left behind by a crash between the claim and the insert.
func (s *Scanner) reclaimDanglingClaims(ctx context.Context, cutoff time.Time) {
	slots, err := s.store.FindDanglingReserved(ctx, cutoff)
	if err != nil {
		s.logger.Error("find dangling reserved slots", zap.Error(err))
		return
	}
	for _, slot := range slots {
		if err := s.coord.ReleaseDanglingClaim(ctx, slot); err != nil {
			s.logger.Error("release dangling claim",
				zap.String("slot_id", slot.ID.String()),
				zap.Error(err))
		}
	}
}
