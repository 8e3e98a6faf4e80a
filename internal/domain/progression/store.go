package progression

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"prospectcrm/internal/platform/querier"
)

var _ StoreAPI = (*Store)(nil)

type Store struct {
	DB *pgxpool.Pool
	q  querier.Querier
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db, q: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{DB: s.DB, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}

// storeErr maps driver errors onto the package sentinels.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrTransientStore, err)
}
