package domain

// Product is the master-catalog view a sync needs. The catalog itself is
// owned by the surrounding application.
type Product struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	SKU            string            `json:"sku"`
	Name           string            `json:"name"`
	BasePrice      float64           `json:"base_price"`
	Brand          string            `json:"brand,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}
