package mqtt

import "time"

// Client sends setpoints to storage units and waits for their
// acknowledgments.
type Client interface {
	// SendSetpoint publishes a setpoint in watts (discharge positive) for the
	// given unit and returns the command identifier used to track the
	// acknowledgment.
	SendSetpoint(unitID string, watts int) (commandID string, err error)

	// WaitForAck waits for an acknowledgment for the provided command
	// identifier or until the timeout expires.
	WaitForAck(commandID string, timeout time.Duration) (bool, error)

	// Forget drops the acknowledgment tracking of a command nobody will wait
	// for.
	Forget(commandID string)
}

// MessageHandler receives the topic and raw payload of a message.
type MessageHandler func(topic string, payload []byte)

// Subscriber delivers messages published on topics matching a filter.
type Subscriber interface {
	Subscribe(topic string, handler MessageHandler) error
}
