package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

var (
	_ service.SessionStore      = (*MemoryStore)(nil)
	_ service.ProductStore      = (*MemoryStore)(nil)
	_ service.VerificationStore = (*MemoryStore)(nil)
)

// MemoryStore keeps sessions, products and verification calls in process memory.
// Every read and write copies, so callers never share state with the store.
type MemoryStore struct {
	sessions      map[string]*model.Session
	products      map[string]*model.FinalProduct
	verifications map[string]*model.VerificationSession
	stopCh        chan struct{}
	stopOnce      sync.Once
	idleTimeout   time.Duration
	mu            sync.RWMutex
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	cleanupInterval time.Duration
	idleTimeout     time.Duration
}

// WithIdleEviction evicts sessions idle for longer than timeout, checking every interval.
// A zero timeout disables eviction.
func WithIdleEviction(timeout, interval time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.idleTimeout = timeout
		c.cleanupInterval = interval
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := memoryStoreConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := &MemoryStore{
		sessions:      make(map[string]*model.Session),
		products:      make(map[string]*model.FinalProduct),
		verifications: make(map[string]*model.VerificationSession),
		idleTimeout:   cfg.idleTimeout,
		stopCh:        make(chan struct{}),
	}

	if cfg.idleTimeout > 0 {
		interval := cfg.cleanupInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		go store.cleanupLoop(interval)
	}

	return store
}

// Create stores a new session.
func (s *MemoryStore) Create(ctx context.Context, session *model.Session) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("%w: session %s", ErrDuplicateID, session.ID)
	}

	s.sessions[session.ID] = session.Clone()
	return nil
}

// Get retrieves a session by ID.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "session ID"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, common.NotFoundf("session %s", sessionID)
	}

	return session.Clone(), nil
}

// Update replaces an existing session.
func (s *MemoryStore) Update(ctx context.Context, session *model.Session) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; !exists {
		return common.NotFoundf("session %s", session.ID)
	}

	s.sessions[session.ID] = session.Clone()
	return nil
}

// Delete removes a session. Absent sessions are ignored.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// List returns all sessions, most recently updated first.
func (s *MemoryStore) List(ctx context.Context) ([]*model.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*model.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session.Clone())
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// DeleteIdleSessions evicts sessions not updated since cutoff.
func (s *MemoryStore) DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// SaveProduct stores a finalized product, keeping the first version of an ID.
func (s *MemoryStore) SaveProduct(ctx context.Context, product *model.FinalProduct) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProduct(product); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil
	}

	p := product.Clone()
	s.products[product.ID] = &p
	return nil
}

// GetProduct retrieves a product by ID.
func (s *MemoryStore) GetProduct(ctx context.Context, productID string) (*model.FinalProduct, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, common.NotFoundf("product %s", productID)
	}

	p := product.Clone()
	return &p, nil
}

// ListProducts returns all products, newest first.
func (s *MemoryStore) ListProducts(ctx context.Context) ([]*model.FinalProduct, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]*model.FinalProduct, 0, len(s.products))
	for _, product := range s.products {
		p := product.Clone()
		products = append(products, &p)
	}

	sort.Slice(products, func(i, j int) bool {
		return products[i].DateAdded.After(products[j].DateAdded)
	})
	return products, nil
}

// CreateVerification stores a new verification session.
func (s *MemoryStore) CreateVerification(ctx context.Context, v *model.VerificationSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateVerification(v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.verifications[v.ID]; exists {
		return fmt.Errorf("%w: verification %s", ErrDuplicateID, v.ID)
	}

	s.verifications[v.ID] = v.Clone()
	return nil
}

// GetVerification retrieves a verification session by ID.
func (s *MemoryStore) GetVerification(ctx context.Context, id string) (*model.VerificationSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.verifications[id]
	if !exists {
		return nil, common.NotFoundf("verification session %s", id)
	}
	return v.Clone(), nil
}

// UpdateVerification replaces an existing verification session.
func (s *MemoryStore) UpdateVerification(ctx context.Context, v *model.VerificationSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateVerification(v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.verifications[v.ID]; !exists {
		return common.NotFoundf("verification session %s", v.ID)
	}

	s.verifications[v.ID] = v.Clone()
	return nil
}

// DeleteVerification removes a verification session. Absent IDs are ignored.
func (s *MemoryStore) DeleteVerification(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.verifications, id)
	return nil
}

// ListVerifications returns all verification sessions, newest first.
func (s *MemoryStore) ListVerifications(ctx context.Context) ([]*model.VerificationSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.VerificationSession, 0, len(s.verifications))
	for _, v := range s.verifications {
		out = append(out, v.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Stop halts the idle eviction goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			removed, err := s.DeleteIdleSessions(context.Background(), time.Now().Add(-s.idleTimeout))
			if err != nil {
				slog.Warn("Idle session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Debug("Evicted idle sessions", "count", removed)
			}
		}
	}
}
