package models

import (
	"encoding/json"
	"time"
)

// Platform identifies a marketplace.
type Platform string

const (
	PlatformMercadoLibre Platform = "mercadolibre"
	PlatformTiendaNube   Platform = "tiendanube"
)

// Platforms lists every supported marketplace.
var Platforms = []Platform{PlatformMercadoLibre, PlatformTiendaNube}

// ParsePlatform validates a path segment.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformMercadoLibre, PlatformTiendaNube:
		return Platform(s), true
	}
	return "", false
}

// Integration holds OAuth credentials for one (tenant, platform).
type Integration struct {
	ID           int64      `json:"id" db:"id"`
	TenantID     string     `json:"tenantId" db:"tenant_id"`
	Platform     Platform   `json:"platform" db:"platform"`
	AccessToken  string     `json:"-" db:"access_token"`
	RefreshToken *string    `json:"-" db:"refresh_token"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	UserID       *string    `json:"userId,omitempty" db:"user_id"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// IntegrationStatus is the public view returned by the status endpoint.
type IntegrationStatus struct {
	Platform  Platform   `json:"platform"`
	Connected bool       `json:"connected"`
	UserID    *string    `json:"userId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// SyncJobStatus tracks a background push.
type SyncJobStatus string

const (
	SyncJobPending  SyncJobStatus = "PENDING"
	SyncJobRetrying SyncJobStatus = "RETRYING"
	SyncJobSuccess  SyncJobStatus = "SUCCESS"
	SyncJobFailed   SyncJobStatus = "FAILED"
)

// SyncJob is the persisted state of a background push.
type SyncJob struct {
	ID        string          `json:"id" db:"id"`
	JobType   string          `json:"jobType" db:"job_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Status    SyncJobStatus   `json:"status" db:"status"`
	Attempts  int             `json:"attempts" db:"attempts"`
	LastError *string         `json:"lastError,omitempty" db:"last_error"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}
