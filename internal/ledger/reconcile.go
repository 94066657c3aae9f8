package ledger

import (
	"context"

	"dompet/internal/core"
	"dompet/internal/log"
)

// lockAllMethods locks every payment method of user. Methods created while
// waiting trigger another attempt.
func (s *Service) lockAllMethods(ctx context.Context, user core.UserID) ([]string, func(), error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		ids, err := s.methodIDs(ctx, user)
		if err != nil {
			return nil, nil, err
		}
		release, err := s.guard.Acquire(ctx, s.methodKeys(user, ids)...)
		if err != nil {
			return nil, nil, err
		}
		now, err := s.methodIDs(ctx, user)
		if err != nil {
			release()
			return nil, nil, err
		}
		if subset(now, ids) {
			return ids, release, nil
		}
		release()
	}
	return nil, nil, core.Timeout(errMethodsMoving)
}

func (s *Service) methodIDs(ctx context.Context, user core.UserID) ([]string, error) {
	methods, err := s.store.ListPaymentMethods(ctx, user)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(methods))
	for i, m := range methods {
		ids[i] = m.ID
	}
	return ids, nil
}

// Reconcile recomputes every balance of user from its base balance and the
// existing events, and writes back the ones that drifted.
func (s *Service) Reconcile(ctx context.Context, user core.UserID) (Report, error) {
	ids, release, err := s.lockAllMethods(ctx, user)
	if err != nil {
		return Report{}, s.failed(ctx, user, core.EntityLedger, core.OpReconcile, err)
	}
	defer release()

	report, err := s.projector.Reconcile(ctx, user)
	if err != nil {
		return report, s.failed(ctx, user, core.EntityLedger, core.OpReconcile, err)
	}
	release()

	for _, m := range report.Drifted() {
		s.logger.WarnContext(ctx, "Balance drift corrected",
			log.FieldUserID, user, log.FieldPaymentMethod, m.PaymentMethodID, log.FieldDrift, m.Drift.String())
	}
	if report.Applied {
		s.committed(ctx, user, core.EntityLedger, core.OpReconcile, "", ids)
	}
	return report, nil
}

// Verify replays user's history under the guard without writing.
func (s *Service) Verify(ctx context.Context, user core.UserID) (Report, error) {
	_, release, err := s.lockAllMethods(ctx, user)
	if err != nil {
		return Report{}, err
	}
	defer release()
	return s.projector.Verify(ctx, user)
}

// Users lists every user that owns a payment method.
func (s *Service) Users(ctx context.Context) ([]core.UserID, error) {
	return s.store.ListUsers(ctx)
}
