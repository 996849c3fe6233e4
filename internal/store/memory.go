package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process implementation of every store interface. It
// backs the CLI, where the record of truth is the provider anyway, and the
// test suite.
type Memory struct {
	mu        sync.RWMutex
	domains   map[string]*Domain
	records   map[string]*DNSRecord
	sessions  map[string]*PollingSession
	flattened map[string]*FlattenedSPF
}

func NewMemory() *Memory {
	return &Memory{
		domains:   make(map[string]*Domain),
		records:   make(map[string]*DNSRecord),
		sessions:  make(map[string]*PollingSession),
		flattened: make(map[string]*FlattenedSPF),
	}
}

// PutDomain seeds the read-only domain view.
func (m *Memory) PutDomain(domain *Domain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if domain.ID == "" {
		domain.ID = newID()
	}
	m.domains[domain.ID] = domain
}

func (m *Memory) GetDomain(ctx context.Context, id string) (*Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	domain, ok := m.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *domain
	return &copied, nil
}

func (m *Memory) GetDomainByName(ctx context.Context, name string) (*Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, domain := range m.domains {
		if domain.Name == name {
			copied := *domain
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) InsertRecord(ctx context.Context, record *DNSRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.Status == RecordActive &&
			existing.DomainID == record.DomainID &&
			existing.Type == record.Type &&
			existing.Name == record.Name &&
			existing.Value == record.Value {
			return ErrDuplicateRecord
		}
	}

	if record.ID == "" {
		record.ID = newID()
	}
	if record.Status == "" {
		record.Status = RecordActive
	}
	if record.PropagationStatus == "" {
		record.PropagationStatus = PropagationPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	copied := *record
	m.records[record.ID] = &copied
	return nil
}

func (m *Memory) GetRecord(ctx context.Context, id string) (*DNSRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (m *Memory) ListActiveRecords(ctx context.Context, domainID string) ([]*DNSRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DNSRecord
	for _, record := range m.records {
		if record.DomainID == domainID && record.Status == RecordActive {
			copied := *record
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdatePropagation(ctx context.Context, id string, update RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	record.PropagationStatus = update.PropagationStatus
	record.PropagationCoverage = update.PropagationCoverage
	record.LastCheckedAt = update.LastCheckedAt
	return nil
}

func (m *Memory) MarkRemoved(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	record.Status = RecordRemoved
	return nil
}

func (m *Memory) CreateSession(ctx context.Context, session *PollingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == "" {
		session.ID = newID()
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*PollingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *Memory) GetActiveSessionForDomain(ctx context.Context, domainID string) (*PollingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, session := range m.sessions {
		if session.DomainID == domainID && session.Status == SessionPolling {
			copied := *session
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateSessionProgress(ctx context.Context, id string, update SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.LastCheckedAt = update.LastCheckedAt
	session.PropagatedRecords = update.PropagatedRecords
	session.OverallProgress = update.OverallProgress
	session.EstimatedCompletion = update.EstimatedCompletion
	if update.Metadata != nil {
		session.Metadata = update.Metadata
	}
	return nil
}

func (m *Memory) CompleteSession(ctx context.Context, id string, status SessionStatus, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if session.Status.Terminal() {
		// Terminal transitions are monotonic; the first writer wins.
		return nil
	}
	session.Status = status
	session.CompletedAt = &completedAt
	return nil
}

func (m *Memory) UpsertFlattenedSPF(ctx context.Context, snapshot *FlattenedSPF) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *snapshot
	m.flattened[snapshot.Domain] = &copied
	return nil
}

func (m *Memory) GetFlattenedSPF(ctx context.Context, domain string) (*FlattenedSPF, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.flattened[domain]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *snapshot
	return &copied, nil
}

func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

var (
	_ DomainStore       = (*Memory)(nil)
	_ DNSRecordStore    = (*Memory)(nil)
	_ SessionStore      = (*Memory)(nil)
	_ FlattenedSPFStore = (*Memory)(nil)
)
