package domain

import "time"

// BatchSyncJob is a request to sync a set of products as one tracked group.
type BatchSyncJob struct {
	ProductIDs     []string  `json:"product_ids"`
	Platform       Platform  `json:"platform"`
	BatchID        string    `json:"batch_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}
