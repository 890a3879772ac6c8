package model

import "time"

// Contact is a tenant-scoped snapshot of one channel peer.
type Contact struct {
	ID        string    `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	ChannelID string    `json:"channel_id"`
	Name      string    `json:"name"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RawContact is what the upstream channel delivers in a contacts batch,
// before filtering and sanitization.
type RawContact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SnapshotContact is one entry of the per-tenant contact snapshot file.
type SnapshotContact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
