package customers

import "context"

type StoreAPI interface {
	FirstCycleStage(ctx context.Context) (int64, bool, error)
	Create(ctx context.Context, c Customer) (Customer, error)
	Get(ctx context.Context, customerID int64) (Customer, error)
	List(ctx context.Context, filter ListFilter) ([]Customer, int, error)
	SalesHistory(ctx context.Context, ownerID string, limit, offset int) ([]Customer, int, error)
	AvailableForProspect(ctx context.Context, ownerID string, limit, offset int) ([]Customer, int, error)
	ProductExists(ctx context.Context, productID int64) (bool, error)
	AttachProduct(ctx context.Context, customerID int64, in ProductInput) error
	DetachProduct(ctx context.Context, customerID, productID int64) (bool, error)
	ListProducts(ctx context.Context, customerID int64) ([]CustomerProduct, error)
}
