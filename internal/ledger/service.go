// Package ledger is the write path of the engine. It validates requests,
// serializes them per payment method and commits each event together with
// its balance deltas.
package ledger

import (
	"context"
	"time"

	"dompet/internal/budget"
	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/overview"
	"dompet/internal/storage"
)

// maxLockAttempts bounds retries when a record's payment methods change
// between the unguarded read and lock acquisition.
const maxLockAttempts = 3

// Publisher receives a Change after each committed write.
type Publisher interface {
	PublishLedgerChange(ctx context.Context, change core.Change) error
}

type Config struct {
	LockTimeout time.Duration
	// Publisher is optional. Publish failures are logged and never fail the
	// write.
	Publisher Publisher
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *log.Logger
}

func DefaultConfig() Config {
	return Config{
		LockTimeout: DefaultLockTimeout,
		Clock:       time.Now,
	}
}

type Service struct {
	store     storage.Store
	guard     *Guard
	projector *Projector
	budgets   *budget.Aggregator
	composer  *overview.Composer
	publisher Publisher
	now       func() time.Time
	logger    *log.Logger
	events    *log.StructuredLogger
}

func NewService(store storage.Store, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}
	logger := cfg.Logger.WithComponent(log.ComponentLedger)
	return &Service{
		store:     store,
		guard:     NewGuard(cfg.LockTimeout),
		projector: NewProjector(store),
		budgets:   budget.NewAggregator(store),
		composer:  overview.NewComposer(store, cfg.Clock),
		publisher: cfg.Publisher,
		now:       cfg.Clock,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
	}
}

// Store exposes the underlying store for read-only collaborators.
func (s *Service) Store() storage.Reader {
	return s.store
}

func (s *Service) methodKeys(user core.UserID, ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = MethodKey(user, id)
	}
	return keys
}

// committed logs and publishes a successful write.
func (s *Service) committed(ctx context.Context, user core.UserID, entity, op, id string, methods []string) {
	s.events.LogLedgerWrite(ctx, op, string(user), entity, id, methods)
	if s.publisher == nil {
		return
	}
	change := core.Change{UserID: user, Entity: entity, Op: op, ID: id, Methods: methods, At: s.now().UTC()}
	if err := s.publisher.PublishLedgerChange(ctx, change); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger change",
			log.FieldUserID, user, log.FieldEntity, entity, log.FieldEntityID, id, log.FieldError, err)
	}
}

// failed logs a rejected write and returns err unchanged.
func (s *Service) failed(ctx context.Context, user core.UserID, entity, op string, err error) error {
	s.events.LogLedgerFailure(ctx, op, string(user), entity, err, string(core.KindOf(err)))
	return err
}

func subset(ids []string, of []string) bool {
	set := make(map[string]struct{}, len(of))
	for _, id := range of {
		set[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func union(a, b []string) []string {
	return uniqueSorted(append(append([]string{}, a...), b...))
}
