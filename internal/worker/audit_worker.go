// Package worker audits committed ledger changes off the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dompet/internal/amqp"
	"dompet/internal/core"
	"dompet/internal/journal"
	"dompet/internal/ledger"
	"dompet/internal/log"
)

type Config struct {
	// Autofix runs Reconcile when an audit finds drift.
	Autofix bool
	// Journal is optional. When set every handled change is appended to it.
	Journal journal.Writer
	Logger  *log.Logger
}

// AuditWorker verifies balances after each ledger change and mirrors the
// change to the journal.
type AuditWorker struct {
	svc     *ledger.Service
	journal journal.Writer
	autofix bool
	logger  *log.Logger
}

func NewAuditWorker(svc *ledger.Service, cfg Config) *AuditWorker {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}
	return &AuditWorker{
		svc:     svc,
		journal: cfg.Journal,
		autofix: cfg.Autofix,
		logger:  cfg.Logger.WithComponent(log.ComponentWorker),
	}
}

// HandleChange processes a single ledger change message from AMQP.
func (w *AuditWorker) HandleChange(ctx context.Context, msg *amqp.LedgerChangeMessage) error {
	if msg == nil {
		return errors.New("nil ledger change message")
	}
	change := msg.Change()
	w.logger.DebugContext(ctx, "Processing ledger change",
		log.FieldUserID, change.UserID, log.FieldEntity, change.Entity,
		log.FieldOperation, change.Op, log.FieldEntityID, change.ID)

	// A reconcile event is the outcome of an audit; auditing it again only
	// repeats the same replay.
	if change.Entity != core.EntityLedger {
		if _, err := w.Audit(ctx, change.UserID); err != nil {
			return fmt.Errorf("audit %s: %w", change.UserID, err)
		}
	}

	if w.journal == nil {
		return nil
	}
	entry := w.enrich(ctx, journal.FromChange(change))
	ref, err := w.journal.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	w.logger.InfoContext(ctx, "Ledger change journaled",
		log.FieldUserID, change.UserID, log.FieldEntity, change.Entity,
		log.FieldEntityID, change.ID, log.FieldJournalRef, ref)
	return nil
}

// Audit verifies user's balances, logs every drifted method, and reconciles
// when autofix is on. The returned report is the one that was acted on.
func (w *AuditWorker) Audit(ctx context.Context, user core.UserID) (ledger.Report, error) {
	report, err := w.svc.Verify(ctx, user)
	if err != nil {
		return report, err
	}
	drifted := report.Drifted()
	if len(drifted) == 0 {
		return report, nil
	}
	for _, m := range drifted {
		w.logger.WarnContext(ctx, "Balance drift detected",
			log.FieldUserID, user, log.FieldPaymentMethod, m.PaymentMethodID,
			log.FieldDrift, m.Drift.String(), "autofix", w.autofix)
	}
	if !w.autofix {
		return report, nil
	}
	return w.svc.Reconcile(ctx, user)
}

// Sweep audits every user. Failures for one user are logged and do not stop
// the sweep; the first one is returned.
func (w *AuditWorker) Sweep(ctx context.Context) error {
	users, err := w.svc.Users(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	var (
		firstErr error
		drifted  int
	)
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := w.Audit(ctx, user)
		if err != nil {
			w.logger.ErrorContext(ctx, "Audit failed", log.FieldUserID, user, log.FieldError, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		drifted += len(report.Drifted())
	}
	w.logger.InfoContext(ctx, "Audit sweep completed", "users", len(users), "drifted_methods", drifted)
	return firstErr
}

// Run sweeps once immediately and then every interval until ctx is done.
func (w *AuditWorker) Run(ctx context.Context, interval time.Duration) {
	if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "Startup audit sweep failed", log.FieldError, err)
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic audit sweep failed", log.FieldError, err)
			}
		}
	}
}

// enrich fills amount and description from the record when it still exists.
func (w *AuditWorker) enrich(ctx context.Context, e journal.Entry) journal.Entry {
	if e.ID == "" || e.Op == core.OpDelete {
		return e
	}
	switch e.Entity {
	case core.EntityTransaction:
		tx, err := w.svc.GetTransaction(ctx, e.UserID, e.ID)
		if err != nil {
			return e
		}
		e.Amount = tx.Amount.StringFixed(core.AmountPlaces)
		e.Description = tx.Description
	case core.EntityTransfer:
		tr, err := w.svc.GetTransfer(ctx, e.UserID, e.ID)
		if err != nil {
			return e
		}
		e.Amount = tr.Amount.StringFixed(core.AmountPlaces)
		e.Description = tr.Description
	}
	return e
}
