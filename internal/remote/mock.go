package remote

import (
	"context"
	"fmt"
	"sync"
)

// MockAPI is a mock implementation of the API interface for testing
type MockAPI struct {
	mu sync.Mutex

	// Inspects maps an accepted container ID to its snapshot. Lookup is by
	// exact key, so tests control which ID forms (full/short) match.
	Inspects map[string]InspectSnapshot

	// InspectSeq scripts per-ID sequences of inspect results, consumed one
	// per call before falling back to Inspects.
	InspectSeq map[string][]InspectResult

	// Summaries to return from ListContainers
	Summaries []ContainerSummary

	// CreateIDs is a queue of IDs handed out by Create
	CreateIDs []string

	// LogsOutput is returned from Logs
	LogsOutput string

	// Control behavior
	InspectError error
	CreateError  error
	StartError   error
	StopError    error
	RemoveError  error
	LogsError    error
	ListError    error

	// Per-container error injection
	StartErrors  map[string]error
	StopErrors   map[string]error
	RemoveErrors map[string]error

	// Record of operations for verification
	Inspected   []string
	Created     []CreateRequest
	Started     []string
	Stopped     []string
	Removed     []string
	LogRequests []string
}

// InspectResult is one scripted inspect outcome
type InspectResult struct {
	Snapshot InspectSnapshot
	Err      error
}

// CreateRequest records container creation attempts
type CreateRequest struct {
	EndpointID int
	Spec       *CreationSpec
	Name       string
	AssignedID string
}

// NewMockAPI creates a new mock management API
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Inspects:     make(map[string]InspectSnapshot),
		InspectSeq:   make(map[string][]InspectResult),
		StartErrors:  make(map[string]error),
		StopErrors:   make(map[string]error),
		RemoveErrors: make(map[string]error),
	}
}

// SetInspect registers a snapshot under one or more accepted ID forms
func (m *MockAPI) SetInspect(snapshot InspectSnapshot, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		m.Inspects[id] = snapshot
	}
}

// QueueInspect appends a scripted inspect result for the given ID
func (m *MockAPI) QueueInspect(id string, res InspectResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InspectSeq[id] = append(m.InspectSeq[id], res)
}

// Inspect returns the configured snapshot for an ID
func (m *MockAPI) Inspect(ctx context.Context, endpointID int, containerID string) (InspectSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Inspected = append(m.Inspected, containerID)

	if m.InspectError != nil {
		return InspectSnapshot{}, m.InspectError
	}

	if seq, ok := m.InspectSeq[containerID]; ok && len(seq) > 0 {
		res := seq[0]
		m.InspectSeq[containerID] = seq[1:]
		return res.Snapshot, res.Err
	}

	if snapshot, ok := m.Inspects[containerID]; ok {
		return snapshot, nil
	}

	return InspectSnapshot{}, &NotFoundError{ID: containerID}
}

// Create records the creation and hands out the next queued ID
func (m *MockAPI) Create(ctx context.Context, endpointID int, spec *CreationSpec, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateError != nil {
		m.Created = append(m.Created, CreateRequest{EndpointID: endpointID, Spec: spec, Name: name})
		return "", m.CreateError
	}

	id := "new-container-id-" + name
	if len(m.CreateIDs) > 0 {
		id = m.CreateIDs[0]
		m.CreateIDs = m.CreateIDs[1:]
	}

	m.Created = append(m.Created, CreateRequest{EndpointID: endpointID, Spec: spec, Name: name, AssignedID: id})
	return id, nil
}

// Start records the start
func (m *MockAPI) Start(ctx context.Context, endpointID int, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Started = append(m.Started, containerID)

	if err, ok := m.StartErrors[containerID]; ok {
		return err
	}
	return m.StartError
}

// Stop records the stop
func (m *MockAPI) Stop(ctx context.Context, endpointID int, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Stopped = append(m.Stopped, containerID)

	if err, ok := m.StopErrors[containerID]; ok {
		return err
	}
	return m.StopError
}

// Remove records the removal and drops the container from the inspect map
func (m *MockAPI) Remove(ctx context.Context, endpointID int, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Removed = append(m.Removed, containerID)

	if err, ok := m.RemoveErrors[containerID]; ok {
		return err
	}
	if m.RemoveError != nil {
		return m.RemoveError
	}

	delete(m.Inspects, containerID)
	return nil
}

// Logs returns the configured log output
func (m *MockAPI) Logs(ctx context.Context, endpointID int, containerID string, tail int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LogRequests = append(m.LogRequests, containerID)

	if m.LogsError != nil {
		return "", m.LogsError
	}
	if m.LogsOutput != "" {
		return m.LogsOutput, nil
	}
	return fmt.Sprintf("logs for %s", containerID), nil
}

// ListContainers returns the configured summaries
func (m *MockAPI) ListContainers(ctx context.Context, endpointID int) ([]ContainerSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.Summaries, nil
}

// Reset clears all recorded operations
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Inspected = nil
	m.Created = nil
	m.Started = nil
	m.Stopped = nil
	m.Removed = nil
	m.LogRequests = nil
}

var _ API = (*MockAPI)(nil)
