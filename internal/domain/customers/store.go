package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"prospectcrm/internal/domain/progression"
)

var _ StoreAPI = (*Store)(nil)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", progression.ErrTransientStore, err)
}

const customerColumns = `id, owner_id, category, sub_category, pic, institution, current_stage_id, COALESCE(status, ''),
    status_changed_at, earned_points, max_points, score_percentage, summary_required,
    COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, ''), created_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.OwnerID, &c.Category, &c.SubCategory, &c.PIC, &c.Institution, &c.CurrentStageID,
		&c.Status, &c.StatusChangedAt, &c.EarnedPoints, &c.MaxPoints, &c.ScorePercentage, &c.SummaryRequired,
		&c.Phone, &c.Email, &c.Address, &c.CreatedAt)
	return c, err
}

func (s *Store) FirstCycleStage(ctx context.Context) (int64, bool, error) {
	var id int64
	err := s.DB.QueryRow(ctx, `
    SELECT id
    FROM stages
    WHERE kind = $1
    ORDER BY sequence, id
    LIMIT 1
  `, progression.StageKindCycle).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr(err)
	}
	return id, true, nil
}

func (s *Store) Create(ctx context.Context, c Customer) (Customer, error) {
	err := s.DB.QueryRow(ctx, `
    INSERT INTO customers (owner_id, category, sub_category, pic, institution, phone, email, address,
                           current_stage_id, status, status_changed_at)
    VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), $11)
    RETURNING id, created_at
  `, c.OwnerID, c.Category, c.SubCategory, c.PIC, c.Institution, c.Phone, c.Email, c.Address,
		c.CurrentStageID, c.Status, c.StatusChangedAt).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Customer{}, storeErr(err)
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, customerID int64) (Customer, error) {
	c, err := scanCustomer(s.DB.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, customerID))
	if err != nil {
		return Customer{}, storeErr(err)
	}
	return c, nil
}

// page runs a filtered customer query and its count. where may reference the
// args by position; limit and offset are appended after them.
func (s *Store) page(ctx context.Context, where, order string, limit, offset int, args ...any) ([]Customer, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(1) FROM customers WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr(err)
	}

	n := len(args)
	query := fmt.Sprintf(`
    SELECT %s
    FROM customers
    WHERE %s
    ORDER BY %s
    LIMIT $%d OFFSET $%d
  `, customerColumns, where, order, n+1, n+2)
	rows, err := s.DB.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer rows.Close()

	out := []Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, storeErr(err)
		}
		out = append(out, c)
	}
	return out, total, storeErr(rows.Err())
}

func (s *Store) List(ctx context.Context, filter ListFilter) ([]Customer, int, error) {
	return s.page(ctx,
		`($1 = '' OR owner_id::text = $1) AND ($2 = '' OR COALESCE(status, '') = $2)`,
		`id DESC`, filter.Limit, filter.Offset, filter.OwnerID, filter.Status)
}

func (s *Store) SalesHistory(ctx context.Context, ownerID string, limit, offset int) ([]Customer, int, error) {
	return s.page(ctx,
		`($1 = '' OR owner_id::text = $1) AND status = $2`,
		`status_changed_at DESC NULLS LAST, id DESC`, limit, offset, ownerID, progression.StatusCompleted)
}

func (s *Store) AvailableForProspect(ctx context.Context, ownerID string, limit, offset int) ([]Customer, int, error) {
	return s.page(ctx,
		`($1 = '' OR owner_id::text = $1) AND (current_stage_id IS NULL OR status IS NULL OR status NOT IN ($2, $3, $4))`,
		`institution, id`, limit, offset, ownerID,
		progression.StatusNew, progression.StatusWarmProspect, progression.StatusHotProspect)
}

func (s *Store) ProductExists(ctx context.Context, productID int64) (bool, error) {
	var count int
	err := s.DB.QueryRow(ctx, `SELECT COUNT(1) FROM products WHERE id = $1`, productID).Scan(&count)
	if err != nil {
		return false, storeErr(err)
	}
	return count > 0, nil
}

func (s *Store) AttachProduct(ctx context.Context, customerID int64, in ProductInput) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO customer_products (customer_id, product_id, negotiated_price, notes)
    VALUES ($1, $2, $3, NULLIF($4, ''))
    ON CONFLICT (customer_id, product_id)
    DO UPDATE SET negotiated_price = EXCLUDED.negotiated_price, notes = EXCLUDED.notes, updated_at = now()
  `, customerID, in.ProductID, in.NegotiatedPrice, in.Notes)
	return storeErr(err)
}

func (s *Store) DetachProduct(ctx context.Context, customerID, productID int64) (bool, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM customer_products WHERE customer_id = $1 AND product_id = $2`, customerID, productID)
	if err != nil {
		return false, storeErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListProducts(ctx context.Context, customerID int64) ([]CustomerProduct, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT cp.customer_id, cp.product_id, p.name, p.price, cp.negotiated_price, COALESCE(cp.notes, ''), cp.created_at
    FROM customer_products cp
    JOIN products p ON p.id = cp.product_id
    WHERE cp.customer_id = $1
    ORDER BY p.name
  `, customerID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := []CustomerProduct{}
	for rows.Next() {
		var cp CustomerProduct
		if err := rows.Scan(&cp.CustomerID, &cp.ProductID, &cp.ProductName, &cp.ListPrice, &cp.NegotiatedPrice, &cp.Notes, &cp.AttachedAt); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, cp)
	}
	return out, storeErr(rows.Err())
}
