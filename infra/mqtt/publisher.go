package mqtt

import (
	"fmt"
	"sync"
	"time"

	coremqtt "github.com/NexoWatt/nexowatt-ems/core/mqtt"
)

// Client mirrors the core mqtt.Client interface.
type Client = coremqtt.Client

// MockPublisher is a simple publisher used in tests and the simulator.
type MockPublisher struct {
	Messages   map[string]int
	FailIDs    map[string]bool
	NoAckIDs   map[string]bool
	AckResults map[string]bool
	Sent       int
	mu         sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Messages:   make(map[string]int),
		FailIDs:    make(map[string]bool),
		NoAckIDs:   make(map[string]bool),
		AckResults: make(map[string]bool),
	}
}

// SendSetpoint records the setpoint or returns an error if configured to fail.
func (m *MockPublisher) SendSetpoint(unitID string, watts int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[unitID] {
		return "", fmt.Errorf("publish failed")
	}
	m.Sent++
	m.Messages[unitID] = watts
	commandID := fmt.Sprintf("cmd-%s-%d", unitID, m.Sent)
	m.AckResults[commandID] = !m.NoAckIDs[unitID]
	return commandID, nil
}

// WaitForAck simulates an immediate acknowledgment based on the stored result.
func (m *MockPublisher) WaitForAck(commandID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	ok, exists := m.AckResults[commandID]
	delete(m.AckResults, commandID)
	m.mu.Unlock()
	if !exists {
		return false, fmt.Errorf("%s: %w", commandID, coremqtt.ErrUnknownCommand)
	}
	if !ok {
		return false, fmt.Errorf("%s: %w", commandID, coremqtt.ErrAckTimeout)
	}
	return true, nil
}

// Forget drops the pending ack result of commandID.
func (m *MockPublisher) Forget(commandID string) {
	m.mu.Lock()
	delete(m.AckResults, commandID)
	m.mu.Unlock()
}

// Pending returns the number of commands whose ack was never consumed.
func (m *MockPublisher) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AckResults)
}

// Last returns the last setpoint sent to unitID.
func (m *MockPublisher) Last(unitID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.Messages[unitID]
	return w, ok
}
