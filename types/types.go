package types

import (
	"time"

	"github.com/wdullaer/cf-ddns/stringslice"
)

// DefaultTTL is used whenever a record is written without an explicit TTL
const DefaultTTL = 120

// RecordType is the DNS type of a record
type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeMX    RecordType = "MX"
	TypeTXT   RecordType = "TXT"
	TypeSRV   RecordType = "SRV"
	TypePTR   RecordType = "PTR"
)

var (
	proxiableTypes     = []string{string(TypeA), string(TypeAAAA), string(TypeCNAME)}
	autoUpdatableTypes = []string{string(TypeA), string(TypeCNAME)}
)

// AutoUpdatableTypes returns the record types the reconciler knows how to keep in sync
func AutoUpdatableTypes() []string {
	return append([]string(nil), autoUpdatableTypes...)
}

// IsProxiable reports whether the provider proxy flag has any meaning for this type
func (t RecordType) IsProxiable() bool {
	return stringslice.Contains(proxiableTypes, string(t))
}

// IsAutoUpdatable reports whether records of this type take part in reconciliation
func (t RecordType) IsAutoUpdatable() bool {
	return stringslice.Contains(autoUpdatableTypes, string(t))
}

// DNSRecord is the local mirror of a provider-side DNS record
// AutoUpdate is a local-only flag, the provider never sees it
type DNSRecord struct {
	ID         string     `json:"id" db:"id"`
	ZoneID     string     `json:"zoneId" db:"zone_id"`
	Name       string     `json:"name" db:"name"`
	Type       RecordType `json:"type" db:"type"`
	Content    string     `json:"content" db:"content"`
	TTL        int        `json:"ttl" db:"ttl"`
	Proxied    bool       `json:"proxied" db:"proxied"`
	AutoUpdate bool       `json:"autoUpdate" db:"auto_update"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
}

// Normalize enforces the record invariants: proxied is only kept for proxiable types
// and a missing TTL falls back to DefaultTTL
func (record *DNSRecord) Normalize() {
	if !record.Type.IsProxiable() {
		record.Proxied = false
	}
	if record.TTL <= 0 {
		record.TTL = DefaultTTL
	}
}

// IsEligible reports whether the record should be picked up by a reconciliation run
func (record *DNSRecord) IsEligible() bool {
	return record.AutoUpdate && record.Type.IsAutoUpdatable()
}

// APIKey is a provider credential. Zones are discovered per APIKey.
type APIKey struct {
	ID        int64     `json:"id" db:"id"`
	Token     string    `json:"token" db:"token"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Zone is a provider zone together with the credential that can manage it
type Zone struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Status   string `json:"status" db:"status"`
	APIKeyID int64  `json:"apiKeyId" db:"api_key_id"`
}

// EligibleRecord is a record selected for reconciliation, joined with what is
// needed to update it at the provider
type EligibleRecord struct {
	Record   DNSRecord
	ZoneName string
	Token    string
	APIKeyID int64
}

// RecordState is the part of a record the reconciler is allowed to change
type RecordState struct {
	Type    RecordType
	Content string
	Proxied bool
}

// TriggerType tells what started a reconciliation run
type TriggerType string

const (
	TriggerAuto   TriggerType = "auto"
	TriggerManual TriggerType = "manual"
)

// LogStatus is the outcome stored in an UpdateLogEntry
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// UpdateLogEntry is an immutable audit record of one update attempt
type UpdateLogEntry struct {
	ID          int64       `json:"id" db:"id"`
	RunID       string      `json:"runId" db:"run_id"`
	RecordID    string      `json:"recordId" db:"record_id"`
	OldContent  string      `json:"oldContent" db:"old_content"`
	NewContent  string      `json:"newContent" db:"new_content"`
	Status      LogStatus   `json:"status" db:"status"`
	Message     string      `json:"message" db:"message"`
	TriggerType TriggerType `json:"triggerType" db:"trigger_type"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
}

// LogFilter narrows down a log query. Zero values do not filter.
type LogFilter struct {
	RecordID string
	RunID    string
	Limit    int
}

// Matches reports whether the entry passes the RecordID and RunID filters
func (filter LogFilter) Matches(entry *UpdateLogEntry) bool {
	if filter.RecordID != "" && entry.RecordID != filter.RecordID {
		return false
	}
	if filter.RunID != "" && entry.RunID != filter.RunID {
		return false
	}
	return true
}
