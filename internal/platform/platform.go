// Package platform declares the external collaborators the sync pipeline
// consumes. Concrete marketplace clients and the master catalog live in the
// surrounding application.
package platform

import (
	"context"
	"errors"

	"github.com/vuive/marketsync/internal/core/domain"
)

// ErrProductNotFound is returned by CatalogReader when the product id does
// not resolve. Workers treat it as an immediately terminal, non-retryable
// failure.
var ErrProductNotFound = errors.New("product not found")

// CatalogReader resolves products from the master catalog.
type CatalogReader interface {
	GetProduct(ctx context.Context, productID, organizationID string) (*domain.Product, error)
}

// SyncResult is the success payload of one marketplace sync call.
type SyncResult struct {
	ExternalID string  `json:"external_id"`
	Price      float64 `json:"price"`
	SEOTitle   string  `json:"seo_title"`
}

// Adapter performs the actual marketplace API call. One implementation per
// marketplace, invoked uniformly regardless of which platform.
type Adapter interface {
	PerformSync(ctx context.Context, product *domain.Product, p domain.Platform) (*SyncResult, error)
}
