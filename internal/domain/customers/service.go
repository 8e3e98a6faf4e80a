package customers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"prospectcrm/internal/domain/auth"
	"prospectcrm/internal/domain/progression"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Service struct {
	store  StoreAPI
	audit  progression.AuditSink
	clock  progression.Clock
	logger *slog.Logger
}

type Option func(*Service)

func WithAudit(a progression.AuditSink) Option { return func(s *Service) { s.audit = a } }
func WithClock(c progression.Clock) Option     { return func(s *Service) { s.clock = c } }
func WithLogger(l *slog.Logger) Option         { return func(s *Service) { s.logger = l } }

func NewService(store StoreAPI, opts ...Option) *Service {
	s := &Service{store: store, clock: progression.SystemClock, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func supervisor(actor progression.Actor) bool {
	return actor.Role == auth.RoleAdministrator || actor.Role == auth.RoleSalesManager
}

// ownerScope returns the owner a listing is restricted to. Reps always see
// their own customers; supervisors see everyone unless they ask for one rep.
func ownerScope(actor progression.Actor, requested string) string {
	if supervisor(actor) {
		return requested
	}
	return actor.UserID
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Create registers a customer. Unless it is a plain lead it starts on the
// first cycle stage with status New.
func (s *Service) Create(ctx context.Context, actor progression.Actor, in CreateInput) (Customer, error) {
	c := Customer{}
	c.OwnerID = strings.TrimSpace(in.OwnerID)
	if c.OwnerID == "" {
		c.OwnerID = actor.UserID
	}
	if c.OwnerID != actor.UserID && !supervisor(actor) {
		return Customer{}, fmt.Errorf("%w: cannot create customers for another rep", ErrForbidden)
	}
	c.Category = strings.TrimSpace(in.Category)
	c.PIC = strings.TrimSpace(in.PIC)
	c.Institution = strings.TrimSpace(in.Institution)
	if c.Category == "" || c.PIC == "" || c.Institution == "" {
		return Customer{}, fmt.Errorf("%w: category, pic and institution are required", ErrValidation)
	}
	if in.SubCategory != nil {
		if sub := strings.TrimSpace(*in.SubCategory); sub != "" {
			c.SubCategory = &sub
		}
	}
	c.Phone = strings.TrimSpace(in.Phone)
	c.Email = strings.TrimSpace(in.Email)
	c.Address = strings.TrimSpace(in.Address)

	if !in.Lead {
		stageID, ok, err := s.store.FirstCycleStage(ctx)
		if err != nil {
			return Customer{}, err
		}
		if !ok {
			return Customer{}, fmt.Errorf("%w: no cycle stages defined", ErrNotFound)
		}
		now := s.clock.Now()
		c.CurrentStageID = &stageID
		c.Status = progression.StatusNew
		c.StatusChangedAt = &now
	}

	created, err := s.store.Create(ctx, c)
	if err != nil {
		return Customer{}, err
	}
	s.logger.Info("customer created", "customerId", created.ID, "ownerId", created.OwnerID, "lead", in.Lead)
	s.record(ctx, actor, "customer.create", created.ID, created)
	return created, nil
}

func (s *Service) Get(ctx context.Context, actor progression.Actor, customerID int64) (Customer, error) {
	c, err := s.store.Get(ctx, customerID)
	if err != nil {
		return Customer{}, err
	}
	if c.OwnerID != actor.UserID && !supervisor(actor) {
		return Customer{}, fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, actor progression.Actor, filter ListFilter) ([]Customer, int, error) {
	filter.OwnerID = ownerScope(actor, filter.OwnerID)
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	return s.store.List(ctx, filter)
}

// SalesHistory lists completed customers, most recently completed first.
func (s *Service) SalesHistory(ctx context.Context, actor progression.Actor, ownerID string, limit, offset int) ([]Customer, int, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.SalesHistory(ctx, ownerScope(actor, ownerID), limit, offset)
}

// AvailableForProspect lists customers that can be converted into a prospect.
func (s *Service) AvailableForProspect(ctx context.Context, actor progression.Actor, ownerID string, limit, offset int) ([]Customer, int, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.AvailableForProspect(ctx, ownerScope(actor, ownerID), limit, offset)
}

func (s *Service) AttachProduct(ctx context.Context, actor progression.Actor, customerID int64, in ProductInput) ([]CustomerProduct, error) {
	if in.ProductID <= 0 {
		return nil, fmt.Errorf("%w: productId is required", ErrValidation)
	}
	if in.NegotiatedPrice != nil && *in.NegotiatedPrice < 0 {
		return nil, fmt.Errorf("%w: negotiated price must not be negative", ErrValidation)
	}
	if _, err := s.Get(ctx, actor, customerID); err != nil {
		return nil, err
	}
	exists, err := s.store.ProductExists(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, in.ProductID)
	}
	in.Notes = strings.TrimSpace(in.Notes)
	if err := s.store.AttachProduct(ctx, customerID, in); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "customer.product.attach", customerID, in)
	return s.store.ListProducts(ctx, customerID)
}

func (s *Service) DetachProduct(ctx context.Context, actor progression.Actor, customerID, productID int64) error {
	if _, err := s.Get(ctx, actor, customerID); err != nil {
		return err
	}
	removed, err := s.store.DetachProduct(ctx, customerID, productID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: product %d is not attached", ErrNotFound, productID)
	}
	s.record(ctx, actor, "customer.product.detach", customerID, map[string]int64{"productId": productID})
	return nil
}

func (s *Service) ListProducts(ctx context.Context, actor progression.Actor, customerID int64) ([]CustomerProduct, error) {
	if _, err := s.Get(ctx, actor, customerID); err != nil {
		return nil, err
	}
	return s.store.ListProducts(ctx, customerID)
}

func (s *Service) record(ctx context.Context, actor progression.Actor, action string, customerID int64, after any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, actor.UserID, action, "customer", strconv.FormatInt(customerID, 10), nil, after); err != nil {
		s.logger.Warn("audit record failed", "action", action, "err", err)
	}
}

