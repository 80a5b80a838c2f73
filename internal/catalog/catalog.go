// Package catalog holds the sellable resources and their owning merchants.
//
// The engine treats the catalog as read-only: resources and merchants are
// managed elsewhere (admin surfaces out of scope); the escrow core only reads
// them to price access, deliver content, and attribute settlements.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrMerchantNotFound = errors.New("merchant not found")
)

// Resource is a sellable item owned by a merchant.
type Resource struct {
	ID             string    `json:"id"`
	MerchantWallet string    `json:"merchantWallet"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Kind           string    `json:"kind"` // content kind, e.g. "article", "dataset", "api"
	Price          string    `json:"price"`
	Network        string    `json:"network"`
	Token          string    `json:"token"`
	Active         bool      `json:"active"`
	AutoSettleMins int       `json:"autoSettleMinutes,omitempty"` // 0 = facilitator default
	Content        string    `json:"-"`                           // delivered only on paid access
	CreatedAt      time.Time `json:"createdAt"`
}

// Merchant owns resources and receives settlement payouts.
type Merchant struct {
	Wallet    string    `json:"wallet"` // payout destination
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store provides read access to the catalog.
type Store interface {
	GetResource(ctx context.Context, id string) (*Resource, error)
	GetMerchant(ctx context.Context, wallet string) (*Merchant, error)
	ListResourcesByMerchant(ctx context.Context, wallet string, limit int) ([]*Resource, error)
}
