// Package status is the read side of the engine: session and record state
// for one authorised user, behind a short-TTL cache sized to absorb a
// frontend polling every thirty seconds.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"

	"github.com/inboxlane/maildns/internal/store"
)

// CacheTTL is deliberately a third of the expected polling rhythm.
const CacheTTL = 10 * time.Second

// ErrUnauthorized is returned when the caller does not own the domain or
// session being read.
var ErrUnauthorized = errors.New("not authorized for this resource")

// Service reads session and record state with per-user authorisation.
type Service struct {
	sessions store.SessionStore
	records  store.DNSRecordStore
	domains  store.DomainStore
	cache    *ristretto.Cache
	ttl      time.Duration
}

func NewService(sessions store.SessionStore, records store.DNSRecordStore, domains store.DomainStore) *Service {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
		KeyToHash: func(key any) (uint64, uint64) {
			return xxhash.Sum64String(key.(string)), 0
		},
	})
	if err != nil {
		panic(err)
	}
	return &Service{
		sessions: sessions,
		records:  records,
		domains:  domains,
		cache:    cache,
		ttl:      CacheTTL,
	}
}

// Session returns one polling session, authorised by user id.
func (s *Service) Session(ctx context.Context, sessionID, userID string) (*store.PollingSession, error) {
	key := "session:" + sessionID
	if cached, found := s.cache.Get(key); found {
		session := cached.(*store.PollingSession)
		if session.UserID != userID {
			return nil, ErrUnauthorized
		}
		return session, nil
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrUnauthorized
	}

	s.put(key, session)
	return session, nil
}

// ActiveSession returns the domain's polling session, if any, authorised
// by user id.
func (s *Service) ActiveSession(ctx context.Context, domainID, userID string) (*store.PollingSession, error) {
	if err := s.authorizeDomain(ctx, domainID, userID); err != nil {
		return nil, err
	}

	key := "active:" + domainID
	if cached, found := s.cache.Get(key); found {
		return cached.(*store.PollingSession), nil
	}

	session, err := s.sessions.GetActiveSessionForDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}
	s.put(key, session)
	return session, nil
}

// RecordStatuses returns the domain's active records with their current
// propagation state, authorised by user id.
func (s *Service) RecordStatuses(ctx context.Context, domainID, userID string) ([]*store.DNSRecord, error) {
	if err := s.authorizeDomain(ctx, domainID, userID); err != nil {
		return nil, err
	}

	key := "records:" + domainID
	if cached, found := s.cache.Get(key); found {
		return cached.([]*store.DNSRecord), nil
	}

	active, err := s.records.ListActiveRecords(ctx, domainID)
	if err != nil {
		return nil, err
	}
	s.put(key, active)
	return active, nil
}

// Invalidate drops every cached read for a domain. Writers (provisioning,
// polling ticks, cancellation) call this after any state change.
func (s *Service) Invalidate(domainID string) {
	s.cache.Del("active:" + domainID)
	s.cache.Del("records:" + domainID)
}

// InvalidateSession drops one cached session.
func (s *Service) InvalidateSession(sessionID string) {
	s.cache.Del("session:" + sessionID)
}

func (s *Service) authorizeDomain(ctx context.Context, domainID, userID string) error {
	domain, err := s.domains.GetDomain(ctx, domainID)
	if err != nil {
		return err
	}
	if domain.OwnerID != userID {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) put(key string, value any) {
	s.cache.SetWithTTL(key, value, 1, s.ttl)
	s.cache.Wait()
}
