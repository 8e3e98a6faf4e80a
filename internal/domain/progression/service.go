package progression

import (
	"context"
	"io"
	"log/slog"
	"time"

	"prospectcrm/internal/domain/auth"
)

// FileStore keeps uploaded evidence outside the database.
type FileStore interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// AuditSink records who changed what. Failures are logged, never returned.
type AuditSink interface {
	Record(ctx context.Context, actorID, action, entityType, entityID string, before, after any) error
}

type Counter interface {
	Inc(name string)
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

type Config struct {
	Policy                     AdvancePolicy
	DeveloperMode              bool
	LegacyZeroAssignedComplete bool
}

type Service struct {
	store     StoreAPI
	validator *Validator
	resolver  *Resolver
	files     FileStore
	audit     AuditSink
	counter   Counter
	clock     Clock
	logger    *slog.Logger
	cfg       Config
}

type Option func(*Service)

func WithFileStore(f FileStore) Option  { return func(s *Service) { s.files = f } }
func WithAudit(a AuditSink) Option      { return func(s *Service) { s.audit = a } }
func WithCounter(c Counter) Option      { return func(s *Service) { s.counter = c } }
func WithClock(c Clock) Option          { return func(s *Service) { s.clock = c } }
func WithLogger(l *slog.Logger) Option  { return func(s *Service) { s.logger = l } }
func WithValidator(v *Validator) Option { return func(s *Service) { s.validator = v } }

func NewService(store StoreAPI, resolver *Resolver, cfg Config, opts ...Option) *Service {
	if cfg.Policy == "" {
		cfg.Policy = AdvanceAuto
	}
	s := &Service{
		store:     store,
		validator: NewValidator(),
		resolver:  resolver,
		clock:     SystemClock,
		logger:    slog.Default(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() AdvancePolicy {
	return s.cfg.Policy
}

func (s *Service) inc(name string) {
	if s.counter != nil {
		s.counter.Inc(name)
	}
}

func (s *Service) record(ctx context.Context, actor Actor, action, entityType, entityID string, before, after any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, actor.UserID, action, entityType, entityID, before, after); err != nil {
		s.logger.Warn("audit record failed", "action", action, "err", err)
	}
}

func isSupervisor(actor Actor) bool {
	return actor.Role == auth.RoleAdministrator || actor.Role == auth.RoleSalesManager
}

func canActFor(actor Actor, customer Customer) bool {
	return customer.OwnerID == actor.UserID || isSupervisor(actor)
}

func isAdmin(actor Actor) bool {
	return actor.Role == auth.RoleAdministrator
}
