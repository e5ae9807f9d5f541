// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// MockIdentityStore is a mock implementation of database.IdentityWriter
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]*database.StoredIdentity

	// Error injection
	GetError           error
	ListError          error
	CountError         error
	FindNearestError   error
	UpsertError        error
	SaveEmbeddingError error
	DeleteError        error
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[string]*database.StoredIdentity),
	}
}

// AddIdentity adds an identity to the mock store
func (m *MockIdentityStore) AddIdentity(identity database.StoredIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[identity.ID] = &identity
}

// Get retrieves an identity by ID
func (m *MockIdentityStore) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return nil, nil
	}
	cp := *identity
	return &cp, nil
}

// List returns identities matching the filter ordered by ID
func (m *MockIdentityStore) List(ctx context.Context, filter database.IdentityFilter) ([]database.StoredIdentity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.StoredIdentity
	for _, identity := range m.identities {
		if filter.ClassID != "" && identity.ClassID != filter.ClassID {
			continue
		}
		if filter.EnrolledOnly && !identity.HasEmbedding() {
			continue
		}
		if !facematch.NameMatches(identity.DisplayName, filter.Query) {
			continue
		}
		result = append(result, *identity)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Count returns the number of enrolled identities
func (m *MockIdentityStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, identity := range m.identities {
		if identity.HasEmbedding() {
			count++
		}
	}
	return count, nil
}

// FindNearest returns enrolled identities closer than maxDistance using brute force
func (m *MockIdentityStore) FindNearest(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]database.Neighbor, error) {
	if m.FindNearestError != nil {
		return nil, m.FindNearestError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.Neighbor
	for _, identity := range m.identities {
		if !identity.HasEmbedding() {
			continue
		}
		d := facematch.EuclideanDistance(embedding, identity.Embedding)
		if maxDistance > 0 && d >= maxDistance {
			continue
		}
		result = append(result, database.Neighbor{
			IdentityID:  identity.ID,
			DisplayName: identity.DisplayName,
			Distance:    d,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Distance < result[j].Distance })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Upsert creates or updates an identity, keeping its embedding
func (m *MockIdentityStore) Upsert(ctx context.Context, identity database.StoredIdentity) error {
	if m.UpsertError != nil {
		return m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.identities[identity.ID]; ok {
		existing.DisplayName = identity.DisplayName
		existing.ClassID = identity.ClassID
		existing.UpdatedAt = time.Now()
		return nil
	}
	identity.Embedding = nil
	identity.UpdatedAt = time.Now()
	m.identities[identity.ID] = &identity
	return nil
}

// SaveEmbedding replaces the embedding of an existing identity
func (m *MockIdentityStore) SaveEmbedding(ctx context.Context, id string, embedding []float32, model string) error {
	if m.SaveEmbeddingError != nil {
		return m.SaveEmbeddingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[id]
	if !ok {
		return fmt.Errorf("identity %s not found", id)
	}
	identity.Embedding = append([]float32(nil), embedding...)
	identity.Dim = len(embedding)
	identity.Model = model
	identity.EnrolledAt = time.Now()
	identity.UpdatedAt = identity.EnrolledAt
	return nil
}

// Delete removes an identity
func (m *MockIdentityStore) Delete(ctx context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, id)
	return nil
}

// MockAttendanceStore is a mock implementation of database.AttendanceStore
type MockAttendanceStore struct {
	mu      sync.Mutex
	records []database.AttendanceRecord
	nextID  int64

	// Error injection
	RecordError error
	ListError   error

	// Delay simulates a slow ledger write
	Delay time.Duration
}

// NewMockAttendanceStore creates a new mock attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{}
}

// Record stores a mark
func (m *MockAttendanceStore) Record(ctx context.Context, record database.AttendanceRecord) (int64, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordError != nil {
		return 0, m.RecordError
	}
	m.nextID++
	record.ID = m.nextID
	m.records = append(m.records, record)
	return record.ID, nil
}

// ListBySession returns the marks of a session
func (m *MockAttendanceStore) ListBySession(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListError != nil {
		return nil, m.ListError
	}
	var result []database.AttendanceRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			result = append(result, r)
		}
	}
	return result, nil
}

// Records returns every stored mark
func (m *MockAttendanceStore) Records() []database.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.AttendanceRecord(nil), m.records...)
}

// SetRecordError changes the injected record error under the lock
func (m *MockAttendanceStore) SetRecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordError = err
}

// MockSessionStore is a mock implementation of database.SessionStore
type MockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]database.SessionRecord
	order    []string

	// Error injection
	SaveError error
	GetError  error
}

// NewMockSessionStore creates a new mock session store
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{sessions: make(map[string]database.SessionRecord)}
}

// SaveSession stores or replaces a session summary
func (m *MockSessionStore) SaveSession(ctx context.Context, session database.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveError != nil {
		return m.SaveError
	}
	if _, ok := m.sessions[session.ID]; !ok {
		m.order = append(m.order, session.ID)
	}
	m.sessions[session.ID] = session
	return nil
}

// GetSession returns a session summary or nil
func (m *MockSessionStore) GetSession(ctx context.Context, id string) (*database.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// ListSessions returns the most recently saved sessions first
func (m *MockSessionStore) ListSessions(ctx context.Context, limit int) ([]database.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	var result []database.SessionRecord
	for i := len(m.order) - 1; i >= 0; i-- {
		result = append(result, m.sessions[m.order[i]])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
