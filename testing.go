package sgcopy

import (
	"sync"

	"github.com/sgcopy/sgcopy/internal/endpoint"
)

// MockEndpoint provides a mock implementation of endpoint.Endpoint for
// testing. It implements the optional Syncer and Sharer interfaces too,
// and tracks method calls for verification.
type MockEndpoint struct {
	data   []byte
	size   int64
	kind   endpoint.Kind
	closed bool
	synced bool
	shared bool

	mu         sync.RWMutex
	readCalls  int
	writeCalls int
	syncCalls  int
}

// NewMockEndpoint creates a new mock endpoint of the given size and kind.
// This is useful for unit testing code that drives an endpoint.Endpoint
// without a real sg/block device present.
func NewMockEndpoint(size int64, kind endpoint.Kind) *MockEndpoint {
	return &MockEndpoint{
		data: make([]byte, size),
		size: size,
		kind: kind,
	}
}

// ReadAt implements endpoint.Endpoint.
func (m *MockEndpoint) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++

	if m.closed {
		return 0, ErrDeviceNotFound
	}
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(p, m.data[off:off+int64(len(p))])
	return n, nil
}

// WriteAt implements endpoint.Endpoint.
func (m *MockEndpoint) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++

	if m.closed {
		return 0, ErrDeviceNotFound
	}
	if off >= m.size {
		return 0, ErrInvalidParameters
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(m.data[off:off+int64(len(p))], p)
	return n, nil
}

// Size implements endpoint.Endpoint.
func (m *MockEndpoint) Size() int64 { return m.size }

// Close implements endpoint.Endpoint.
func (m *MockEndpoint) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Kind implements endpoint.Endpoint.
func (m *MockEndpoint) Kind() endpoint.Kind { return m.kind }

// Fd implements endpoint.Endpoint. Mock endpoints have no real fd.
func (m *MockEndpoint) Fd() int { return -1 }

// ReservedBufferSize implements endpoint.Endpoint.
func (m *MockEndpoint) ReservedBufferSize() int { return 0 }

// Sync implements endpoint.Syncer.
func (m *MockEndpoint) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncCalls++
	m.synced = true
	return nil
}

// SupportsSharing implements endpoint.Sharer. SetSharing controls its
// return value for tests exercising the noshare fallback path.
func (m *MockEndpoint) SupportsSharing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shared
}

// SetSharing toggles the value SupportsSharing returns.
func (m *MockEndpoint) SetSharing(supported bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shared = supported
}

// Testing utility methods.

// IsClosed returns true if the endpoint has been closed.
func (m *MockEndpoint) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// IsSynced returns true if Sync has been called.
func (m *MockEndpoint) IsSynced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

// CallCounts returns the number of times each method has been called.
func (m *MockEndpoint) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"sync":  m.syncCalls,
	}
}

// Reset resets all call counters and state flags.
func (m *MockEndpoint) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = 0
	m.writeCalls = 0
	m.syncCalls = 0
	m.synced = false
}

// Compile-time interface checks.
var (
	_ endpoint.Endpoint = (*MockEndpoint)(nil)
	_ endpoint.Syncer   = (*MockEndpoint)(nil)
	_ endpoint.Sharer   = (*MockEndpoint)(nil)
)
