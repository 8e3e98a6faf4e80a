package customers

import (
	"time"

	"prospectcrm/internal/domain/progression"
)

// Customer is the full customer record. The embedded progression fields are
// the ones the progression engine reads and writes.
type Customer struct {
	progression.Customer
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateInput struct {
	OwnerID     string  `json:"ownerId" validate:"omitempty,uuid"`
	Category    string  `json:"category" validate:"required,max=100"`
	SubCategory *string `json:"subCategory" validate:"omitempty,max=100"`
	PIC         string  `json:"pic" validate:"required,max=150"`
	Institution string  `json:"institution" validate:"required,max=200"`
	Phone       string  `json:"phone" validate:"omitempty,max=30"`
	Email       string  `json:"email" validate:"omitempty,email"`
	Address     string  `json:"address" validate:"omitempty,max=500"`
	// Lead keeps the customer off the cycle until it is converted.
	Lead bool `json:"lead"`
}

type ListFilter struct {
	OwnerID string
	Status  string
	Limit   int
	Offset  int
}

type Product struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type CustomerProduct struct {
	CustomerID      int64     `json:"customerId"`
	ProductID       int64     `json:"productId"`
	ProductName     string    `json:"productName"`
	ListPrice       int64     `json:"listPrice"`
	NegotiatedPrice *int64    `json:"negotiatedPrice,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	AttachedAt      time.Time `json:"attachedAt"`
}

type ProductInput struct {
	ProductID       int64  `json:"productId" validate:"required,gt=0"`
	NegotiatedPrice *int64 `json:"negotiatedPrice" validate:"omitempty,gte=0"`
	Notes           string `json:"notes" validate:"omitempty,max=1000"`
}
