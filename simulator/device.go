package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/NexoWatt/nexowatt-ems/core/logger"
	inlog "github.com/NexoWatt/nexowatt-ems/infra/logger"
)

// Command is a setpoint received by an MQTTDevice.
type Command struct {
	CommandID string `json:"command_id"`
	UnitID    string `json:"unit_id"`
	Watts     int    `json:"watts"`
	Timestamp int64  `json:"timestamp"`
}

// MQTTDevice emulates a storage inverter on a broker: it subscribes to the
// setpoint topic of its unit and acknowledges accepted commands.
type MQTTDevice struct {
	UnitID      string
	Broker      string
	TopicPrefix string
	Ack         *AckPolicy

	client paho.Client
	ackCh  chan Command
	log    logger.Logger

	mu       sync.Mutex
	received []Command
}

// NewMQTTDevice creates a device for unitID using the "ess" topic prefix.
func NewMQTTDevice(unitID, broker string, ack *AckPolicy) *MQTTDevice {
	return &MQTTDevice{
		UnitID:      unitID,
		Broker:      broker,
		TopicPrefix: "ess",
		Ack:         ack,
		ackCh:       make(chan Command, 50),
		log:         inlog.New("sim-device"),
	}
}

// Received returns the commands seen so far.
func (v *MQTTDevice) Received() []Command {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Command(nil), v.received...)
}

// Run connects to the broker and listens for commands until ctx is done.
// ready is closed once the subscription is active.
func (v *MQTTDevice) Run(ctx context.Context, ready chan<- struct{}) error {
	cli, err := newMQTTClient(v.Broker, "sim-"+v.UnitID)
	if err != nil {
		return err
	}
	v.client = cli
	go v.worker(ctx)
	topic := fmt.Sprintf("%s/%s/setpoint", v.TopicPrefix, v.UnitID)
	if token := cli.Subscribe(topic, 1, v.onCommand); token.Wait() && token.Error() != nil {
		cli.Disconnect(250)
		return token.Error()
	}
	if ready != nil {
		close(ready)
	}
	<-ctx.Done()
	cli.Disconnect(250)
	return nil
}

func (v *MQTTDevice) onCommand(_ paho.Client, msg paho.Message) {
	var c Command
	if err := json.Unmarshal(msg.Payload(), &c); err != nil {
		v.log.Warnf("%s: decode command: %v", v.UnitID, err)
		return
	}
	v.mu.Lock()
	v.received = append(v.received, c)
	v.mu.Unlock()
	select {
	case v.ackCh <- c:
	default:
		v.log.Warnf("%s: ack queue full, dropping command %s", v.UnitID, c.CommandID)
	}
}

func (v *MQTTDevice) worker(ctx context.Context) {
	for {
		select {
		case c := <-v.ackCh:
			if !v.Ack.Accept() {
				continue
			}
			if v.Ack != nil && v.Ack.Delay > 0 {
				select {
				case <-time.After(v.Ack.Delay):
				case <-ctx.Done():
					return
				}
			}
			v.publishAck(c.CommandID)
		case <-ctx.Done():
			return
		}
	}
}

func (v *MQTTDevice) publishAck(commandID string) {
	payload, err := json.Marshal(struct {
		CommandID string `json:"command_id"`
	}{CommandID: commandID})
	if err != nil {
		v.log.Errorf("marshal ack: %v", err)
		return
	}
	token := v.client.Publish(fmt.Sprintf("%s/%s/ack", v.TopicPrefix, v.UnitID), 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		v.log.Warnf("ack publish timeout for %s", v.UnitID)
		return
	}
	if err := token.Error(); err != nil {
		v.log.Errorf("publish ack error for %s: %v", v.UnitID, err)
	}
}

func newMQTTClient(broker, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.AutoReconnect = true
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return cli, nil
}
