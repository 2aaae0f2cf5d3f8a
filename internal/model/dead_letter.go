package model

import (
	"encoding/json"
	"time"
)

// DeadLetter is a payload that exhausted its retries
type DeadLetter struct {
	ID             string          `json:"id"`
	PayloadID      string          `json:"payloadId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Recipients     []string        `json:"recipients"`
	Subject        string          `json:"subject"`
	Retries        int             `json:"retries"`
	LastError      string          `json:"lastError,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"createdAt"`
}
