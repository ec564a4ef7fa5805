package mqtt

import (
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

type subscribeCall struct {
	topic string
	qos   byte
}

// fakePaho records what the client publishes and subscribes. Publish errors
// are consumed in order, one per publish.
type fakePaho struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	published   []publishCall
	subscribed  []subscribeCall
	handlers    map[string]paho.MessageHandler
	publishErrs []error
}

// installFakePaho routes NewPahoClient to f for the duration of the test.
func installFakePaho(t *testing.T, f *fakePaho) {
	t.Helper()
	prev := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient {
		f.opts = o
		return f
	}
	t.Cleanup(func() { newMQTTClient = prev })
}

func (f *fakePaho) IsConnected() bool      { return true }
func (f *fakePaho) IsConnectionOpen() bool { return true }
func (f *fakePaho) Disconnect(uint)        {}

func (f *fakePaho) Connect() paho.Token {
	if f.opts != nil && f.opts.OnConnect != nil {
		f.opts.OnConnect(f)
	}
	return fakeToken{}
}

func (f *fakePaho) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.published = append(f.published, publishCall{topic: topic, qos: qos, payload: b})
	if len(f.publishErrs) > 0 {
		err := f.publishErrs[0]
		f.publishErrs = f.publishErrs[1:]
		return fakeToken{err: err}
	}
	return fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]paho.MessageHandler{}
	}
	f.handlers[topic] = h
	f.subscribed = append(f.subscribed, subscribeCall{topic: topic, qos: qos})
	return fakeToken{}
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return fakeToken{}
}
func (f *fakePaho) Unsubscribe(...string) paho.Token        { return fakeToken{} }
func (f *fakePaho) AddRoute(string, paho.MessageHandler)    {}
func (f *fakePaho) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
