package customers

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospectcrm/internal/domain/auth"
	"prospectcrm/internal/domain/progression"
)

type fakeStore struct {
	firstStage int64
	nextID     int64
	customers  map[int64]Customer
	products   map[int64]Product
	attached   map[int64]map[int64]CustomerProduct
	lastFilter ListFilter
	lastOwner  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		firstStage: 7,
		customers:  map[int64]Customer{},
		products:   map[int64]Product{1: {ID: 1, Name: "Smart Board", Price: 15000000}},
		attached:   map[int64]map[int64]CustomerProduct{},
	}
}

func (f *fakeStore) FirstCycleStage(ctx context.Context) (int64, bool, error) {
	return f.firstStage, f.firstStage != 0, nil
}

func (f *fakeStore) Create(ctx context.Context, c Customer) (Customer, error) {
	f.nextID++
	c.ID = f.nextID
	c.CreatedAt = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	f.customers[c.ID] = c
	return c, nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) List(ctx context.Context, filter ListFilter) ([]Customer, int, error) {
	f.lastFilter = filter
	var out []Customer
	for _, c := range f.customers {
		if filter.OwnerID == "" || c.OwnerID == filter.OwnerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f *fakeStore) SalesHistory(ctx context.Context, ownerID string, limit, offset int) ([]Customer, int, error) {
	f.lastOwner = ownerID
	return nil, 0, nil
}

func (f *fakeStore) AvailableForProspect(ctx context.Context, ownerID string, limit, offset int) ([]Customer, int, error) {
	f.lastOwner = ownerID
	return nil, 0, nil
}

func (f *fakeStore) ProductExists(ctx context.Context, productID int64) (bool, error) {
	_, ok := f.products[productID]
	return ok, nil
}

func (f *fakeStore) AttachProduct(ctx context.Context, customerID int64, in ProductInput) error {
	if f.attached[customerID] == nil {
		f.attached[customerID] = map[int64]CustomerProduct{}
	}
	p := f.products[in.ProductID]
	f.attached[customerID][in.ProductID] = CustomerProduct{
		CustomerID: customerID, ProductID: p.ID, ProductName: p.Name, ListPrice: p.Price,
		NegotiatedPrice: in.NegotiatedPrice, Notes: in.Notes,
	}
	return nil
}

func (f *fakeStore) DetachProduct(ctx context.Context, customerID, productID int64) (bool, error) {
	if _, ok := f.attached[customerID][productID]; !ok {
		return false, nil
	}
	delete(f.attached[customerID], productID)
	return true, nil
}

func (f *fakeStore) ListProducts(ctx context.Context, customerID int64) ([]CustomerProduct, error) {
	out := []CustomerProduct{}
	for _, cp := range f.attached[customerID] {
		out = append(out, cp)
	}
	return out, nil
}

var (
	rep     = progression.Actor{UserID: "11111111-1111-1111-1111-111111111111", Role: auth.RoleSales}
	manager = progression.Actor{UserID: "22222222-2222-2222-2222-222222222222", Role: auth.RoleSalesManager}
)

func fixedClock() progression.Clock {
	return progression.ClockFunc(func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) })
}

func TestCreatePlacesProspectOnFirstStage(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, WithClock(fixedClock()))

	c, err := svc.Create(context.Background(), rep, CreateInput{
		Category:    " Pendidikan ",
		PIC:         "Pak Budi",
		Institution: "SMK 2 Bandung",
		SubCategory: new(string),
	})
	require.NoError(t, err)
	assert.Equal(t, rep.UserID, c.OwnerID)
	assert.Equal(t, "Pendidikan", c.Category)
	require.NotNil(t, c.CurrentStageID)
	assert.Equal(t, int64(7), *c.CurrentStageID)
	assert.Equal(t, progression.StatusNew, c.Status)
	assert.Nil(t, c.SubCategory)
	require.NotNil(t, c.StatusChangedAt)
	assert.Equal(t, 2026, c.StatusChangedAt.Year())
}

func TestCreateLeadStaysOffCycle(t *testing.T) {
	svc := NewService(newFakeStore())
	c, err := svc.Create(context.Background(), rep, CreateInput{Category: "Pemerintah", PIC: "Bu Ani", Institution: "Dinas Pendidikan", Lead: true})
	require.NoError(t, err)
	assert.Nil(t, c.CurrentStageID)
	assert.Empty(t, c.Status)
}

func TestCreateRules(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Create(ctx, rep, CreateInput{Category: "Pendidikan", PIC: "  ", Institution: "SMA 3"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, rep, CreateInput{OwnerID: manager.UserID, Category: "Pendidikan", PIC: "A", Institution: "B"})
	assert.ErrorIs(t, err, ErrForbidden)

	c, err := svc.Create(ctx, manager, CreateInput{OwnerID: rep.UserID, Category: "Pendidikan", PIC: "A", Institution: "B"})
	require.NoError(t, err)
	assert.Equal(t, rep.UserID, c.OwnerID)

	store.firstStage = 0
	_, err = svc.Create(ctx, rep, CreateInput{Category: "Pendidikan", PIC: "A", Institution: "B"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListingsAreScopedToRep(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()

	_, _, err := svc.List(ctx, rep, ListFilter{OwnerID: manager.UserID, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, rep.UserID, store.lastFilter.OwnerID)
	assert.Equal(t, MaxPageSize, store.lastFilter.Limit)

	_, _, err = svc.List(ctx, manager, ListFilter{Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, "", store.lastFilter.OwnerID)
	assert.Equal(t, DefaultPageSize, store.lastFilter.Limit)
	assert.Equal(t, 0, store.lastFilter.Offset)

	_, _, err = svc.SalesHistory(ctx, rep, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, rep.UserID, store.lastOwner)

	_, _, err = svc.AvailableForProspect(ctx, manager, rep.UserID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, rep.UserID, store.lastOwner)
}

func TestGetForbidsOtherReps(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()
	c, err := svc.Create(ctx, rep, CreateInput{Category: "Pendidikan", PIC: "A", Institution: "B"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, progression.Actor{UserID: "someone-else", Role: auth.RoleSales}, c.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Get(ctx, manager, c.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, rep, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProducts(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()
	c, err := svc.Create(ctx, rep, CreateInput{Category: "Pendidikan", PIC: "A", Institution: "B"})
	require.NoError(t, err)

	price := int64(12500000)
	list, err := svc.AttachProduct(ctx, rep, c.ID, ProductInput{ProductID: 1, NegotiatedPrice: &price, Notes: " diskon sekolah "})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Smart Board", list[0].ProductName)
	assert.Equal(t, price, *list[0].NegotiatedPrice)
	assert.Equal(t, "diskon sekolah", list[0].Notes)

	negative := int64(-1)
	_, err = svc.AttachProduct(ctx, rep, c.ID, ProductInput{ProductID: 1, NegotiatedPrice: &negative})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AttachProduct(ctx, rep, c.ID, ProductInput{ProductID: 42})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.DetachProduct(ctx, rep, c.ID, 1))
	assert.ErrorIs(t, svc.DetachProduct(ctx, rep, c.ID, 1), ErrNotFound)

	list, err = svc.ListProducts(ctx, rep, c.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
