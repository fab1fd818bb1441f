package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
)

// Memory is an in-process Store. It backs the switch when no database is
// configured and is used as the storage fake in tests. Writes made through a
// Tx become visible on Commit only.
type Memory struct {
	mu           sync.RWMutex
	participants map[string]model.Participant
	endpoints    map[string]string
	duplicates   map[string]model.DuplicateCheck
	quotes       map[string]QuoteRecord
	bulkQuotes   map[string]BulkQuoteRecord
	fxQuotes     map[string]FxQuoteRecord
	responses    []ResponseRecord
	errors       []ErrorRecord
	status       map[string]model.Status
}

func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]model.Participant),
		endpoints:    make(map[string]string),
		duplicates:   make(map[string]model.DuplicateCheck),
		quotes:       make(map[string]QuoteRecord),
		bulkQuotes:   make(map[string]BulkQuoteRecord),
		fxQuotes:     make(map[string]FxQuoteRecord),
		status:       make(map[string]model.Status),
	}
}

func dupKey(resource fspiop.Resource, dir model.Direction, id string) string {
	return fmt.Sprintf("%s:%s:%s", resource, dir, id)
}

func endpointKey(fspID, endpointType string) string { return fspID + ":" + endpointType }

// AddParticipant registers a participant and its endpoints.
func (m *Memory) AddParticipant(p model.Participant, endpoints ...model.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[p.Name] = p
	for _, e := range endpoints {
		m.endpoints[endpointKey(p.Name, e.Type)] = e.URL
	}
}

func (m *Memory) GetParticipant(_ context.Context, name string) (*model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) GetParticipantEndpoint(_ context.Context, fspID, endpointType string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url, ok := m.endpoints[endpointKey(fspID, endpointType)]
	if !ok {
		return "", ErrNotFound
	}
	return url, nil
}

func (m *Memory) GetDuplicateCheck(_ context.Context, resource fspiop.Resource, dir model.Direction, id string) (*model.DuplicateCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dc, ok := m.duplicates[dupKey(resource, dir, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return &dc, nil
}

// DuplicateCount returns the number of stored duplicate-check records.
func (m *Memory) DuplicateCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.duplicates)
}

func (m *Memory) Quote(id string) (QuoteRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[id]
	return q, ok
}

func (m *Memory) BulkQuote(id string) (BulkQuoteRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.bulkQuotes[id]
	return q, ok
}

func (m *Memory) FxQuote(id string) (FxQuoteRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.fxQuotes[id]
	return q, ok
}

func (m *Memory) Responses() []ResponseRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ResponseRecord(nil), m.responses...)
}

func (m *Memory) Errors() []ErrorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ErrorRecord(nil), m.errors...)
}

func (m *Memory) Status(resource fspiop.Resource, id string) model.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status[string(resource)+":"+id]
}

func (m *Memory) Begin(context.Context) (Tx, error) {
	return &memTx{m: m}, nil
}

func (m *Memory) HealthCheck(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// --- transaction ---

type memTx struct {
	m      *Memory
	ops    []func()
	dups   map[string]model.DuplicateCheck
	closed bool
}

func (t *memTx) stage(op func()) error {
	if t.closed {
		return fmt.Errorf("memory tx closed")
	}
	t.ops = append(t.ops, op)
	return nil
}

// CreateDuplicateCheck checks uniqueness eagerly, like a constraint would.
func (t *memTx) CreateDuplicateCheck(_ context.Context, resource fspiop.Resource, dir model.Direction, check model.DuplicateCheck) error {
	key := dupKey(resource, dir, check.ID)
	t.m.mu.RLock()
	_, exists := t.m.duplicates[key]
	t.m.mu.RUnlock()
	if _, staged := t.dups[key]; exists || staged {
		return fmt.Errorf("insert duplicate check: %w", ErrDuplicateRecord)
	}
	if t.dups == nil {
		t.dups = make(map[string]model.DuplicateCheck)
	}
	t.dups[key] = check
	return t.stage(func() { t.m.duplicates[key] = check })
}

func (t *memTx) CreateQuote(_ context.Context, q QuoteRecord) error {
	return t.stage(func() {
		t.m.quotes[q.QuoteID] = q
		t.m.status[string(fspiop.ResourceQuotes)+":"+q.QuoteID] = model.StatusNew
	})
}

func (t *memTx) CreateBulkQuote(_ context.Context, q BulkQuoteRecord) error {
	return t.stage(func() {
		t.m.bulkQuotes[q.BulkQuoteID] = q
		t.m.status[string(fspiop.ResourceBulkQuotes)+":"+q.BulkQuoteID] = model.StatusNew
	})
}

func (t *memTx) CreateFxQuote(_ context.Context, q FxQuoteRecord) error {
	return t.stage(func() {
		t.m.fxQuotes[q.ConversionRequestID] = q
		t.m.status[string(fspiop.ResourceFxQuotes)+":"+q.ConversionRequestID] = model.StatusNew
	})
}

func (t *memTx) CreateResponse(_ context.Context, r ResponseRecord) error {
	return t.stage(func() { t.m.responses = append(t.m.responses, r) })
}

func (t *memTx) CreateError(_ context.Context, e ErrorRecord) error {
	return t.stage(func() { t.m.errors = append(t.m.errors, e) })
}

func (t *memTx) UpdateStatus(_ context.Context, resource fspiop.Resource, id string, status model.Status) error {
	return t.stage(func() { t.m.status[string(resource)+":"+id] = status })
}

func (t *memTx) Commit(context.Context) error {
	if t.closed {
		return fmt.Errorf("memory tx closed")
	}
	t.closed = true
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for key := range t.dups {
		if _, exists := t.m.duplicates[key]; exists {
			return fmt.Errorf("commit: %w", ErrDuplicateRecord)
		}
	}
	for _, op := range t.ops {
		op()
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.closed = true
	t.ops = nil
	return nil
}
