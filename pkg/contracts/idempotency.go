package contracts

import (
	"encoding/json"
	"time"
)

// IdempotencyRecord caches a prior response for a (tenant, subject,
// endpoint, key) tuple, keyed additionally by a fingerprint of the
// request body so a reused key with a different body is rejected as a
// conflict rather than silently replayed.
type IdempotencyRecord struct {
	TenantID     string          `json:"tenantId"`
	Subject      string          `json:"subject"`
	Endpoint     string          `json:"endpoint"`
	Key          string          `json:"key"`
	Fingerprint  string          `json:"fingerprint"`
	StatusCode   int             `json:"statusCode"`
	ResponseBody json.RawMessage `json:"responseBody"`
	CreatedAt    time.Time       `json:"createdAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

// IdempotencyLookup is the input used to locate or create a record.
type IdempotencyLookup struct {
	TenantID string
	Subject  string
	Endpoint string
	Key      string
}
