package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryReserve  EntryKind = "reserve"
	EntryDebit    EntryKind = "debit"
	EntryRefund   EntryKind = "refund"
	EntryPurchase EntryKind = "purchase"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// MetaKey names a known metadata field. Unknown keys are allowed but the
// ones below are the only ones the backend reads.
type MetaKey string

const (
	MetaProviderJobID   MetaKey = "provider_job_id"
	MetaProviderAudioID MetaKey = "provider_audio_id"
	MetaVideoStatus     MetaKey = "video_status"
	MetaFlwRef          MetaKey = "flw_ref"
	MetaAction          MetaKey = "action"
	MetaReason          MetaKey = "reason"
	MetaPackageID       MetaKey = "package_id"
	MetaPackageName     MetaKey = "package_name"
	MetaStyleID         MetaKey = "style_id"
	MetaLanguage        MetaKey = "language"
)

// Metadata is the typed key/value side-channel stored as JSONB on jobs and
// transactions.
type Metadata map[MetaKey]string

func (m Metadata) Get(k MetaKey) string {
	if m == nil {
		return ""
	}
	return m[k]
}

// With returns a copy of m with k set to v.
func (m Metadata) With(k MetaKey, v string) Metadata {
	out := make(Metadata, len(m)+1)
	for key, val := range m {
		out[key] = val
	}
	out[k] = v
	return out
}

// LedgerEntry is one row of the append-only transaction log. Only a pending
// purchase ever changes status, and only once.
type LedgerEntry struct {
	ID         uuid.UUID       `json:"id"`
	AccountID  uuid.UUID       `json:"account_id"`
	JobID      *uuid.UUID      `json:"job_id,omitempty"`
	Kind       EntryKind       `json:"type"`
	Amount     int             `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Provider   string          `json:"payment_provider,omitempty"`
	ExternalID string          `json:"payment_id,omitempty"`
	Status     EntryStatus     `json:"status"`
	Metadata   Metadata        `json:"metadata"`
	CreatedAt  time.Time       `json:"created_at"`
}
