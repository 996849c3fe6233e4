// Package store defines the narrow typed persistence operations the
// engine needs (domains, provisioned DNS records, polling sessions, and
// flattened SPF snapshots) plus an in-memory implementation backing the
// CLI and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/inboxlane/maildns/internal/records"
)

var (
	// ErrNotFound is returned when a lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRecord is returned when an insert would violate the
	// one-active-record-per-(domain,type,name,value) invariant.
	ErrDuplicateRecord = errors.New("duplicate active record")
)

// Domain is the read-only view of a provisioned domain.
type Domain struct {
	ID      string
	Name    string
	ZoneID  string
	OwnerID string
}

// RecordStatus is the lifecycle state of a provisioned record.
type RecordStatus string

const (
	RecordActive  RecordStatus = "active"
	RecordRemoved RecordStatus = "removed"
)

// PropagationStatus is how far a record has spread across the resolver
// pool.
type PropagationStatus string

const (
	PropagationPending     PropagationStatus = "pending"
	PropagationPropagating PropagationStatus = "propagating"
	PropagationPropagated  PropagationStatus = "propagated"
)

// DNSRecord is one provisioned record. Created after the provider confirms
// the wire write; propagation fields are mutated only by polling ticks.
type DNSRecord struct {
	ID                  string
	DomainID            string
	Type                records.Type
	Name                string // label relative to apex, "@" for the apex
	Value               string
	TTL                 int
	Priority            int // MX only
	Purpose             records.Purpose
	Status              RecordStatus
	PropagationStatus   PropagationStatus
	PropagationCoverage int // 0-100
	LastCheckedAt       time.Time
	CreatedAt           time.Time
	Metadata            map[string]string // provider record id, selector, platform
}

// SessionStatus is the polling session state machine. polling is the only
// non-terminal state.
type SessionStatus string

const (
	SessionPolling   SessionStatus = "polling"
	SessionCompleted SessionStatus = "completed"
	SessionTimeout   SessionStatus = "timeout"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s != SessionPolling
}

// PollingSession is one long-running propagation watch for a domain.
type PollingSession struct {
	ID                  string
	DomainID            string
	UserID              string
	Status              SessionStatus
	CheckInterval       time.Duration
	MaxDuration         time.Duration
	StartedAt           time.Time
	LastCheckedAt       time.Time
	CompletedAt         *time.Time
	EstimatedCompletion *time.Time
	TotalRecords        int
	PropagatedRecords   int
	OverallProgress     int // 0-100
	Metadata            map[string]string
}

// FlattenedSPF is the persisted snapshot of one flattening run, keyed by
// domain.
type FlattenedSPF struct {
	Domain           string
	Original         string
	Flattened        string
	OriginalLookups  int
	FlattenedLookups int
	IncludeSummary   string // serialised include -> IP-count view
	Valid            bool
	Errors           []string
	UpdatedAt        time.Time
}

// DomainStore is the read-only domain view.
type DomainStore interface {
	GetDomain(ctx context.Context, id string) (*Domain, error)
	GetDomainByName(ctx context.Context, name string) (*Domain, error)
}

// RecordUpdate carries the per-record fields a polling tick may change.
type RecordUpdate struct {
	PropagationStatus   PropagationStatus
	PropagationCoverage int
	LastCheckedAt       time.Time
}

// DNSRecordStore persists provisioned records.
type DNSRecordStore interface {
	InsertRecord(ctx context.Context, record *DNSRecord) error
	GetRecord(ctx context.Context, id string) (*DNSRecord, error)
	ListActiveRecords(ctx context.Context, domainID string) ([]*DNSRecord, error)
	UpdatePropagation(ctx context.Context, id string, update RecordUpdate) error
	MarkRemoved(ctx context.Context, id string) error
}

// SessionUpdate carries the session fields a tick may change.
type SessionUpdate struct {
	LastCheckedAt       time.Time
	PropagatedRecords   int
	OverallProgress     int
	EstimatedCompletion *time.Time
	Metadata            map[string]string
}

// SessionStore persists polling sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *PollingSession) error
	GetSession(ctx context.Context, id string) (*PollingSession, error)
	GetActiveSessionForDomain(ctx context.Context, domainID string) (*PollingSession, error)
	UpdateSessionProgress(ctx context.Context, id string, update SessionUpdate) error
	CompleteSession(ctx context.Context, id string, status SessionStatus, completedAt time.Time) error
}

// FlattenedSPFStore upserts one flattening snapshot per domain.
type FlattenedSPFStore interface {
	UpsertFlattenedSPF(ctx context.Context, snapshot *FlattenedSPF) error
	GetFlattenedSPF(ctx context.Context, domain string) (*FlattenedSPF, error)
}
