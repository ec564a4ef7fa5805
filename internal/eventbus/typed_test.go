package eventbus

import "testing"

func TestTypedBusDropsWhenSubscriberLags(t *testing.T) {
	bus := NewTypedWithBuffer[int](2)
	ch := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Publish(i)
	}
	if got := bus.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped got %d", got)
	}
	if v := <-ch; v != 0 {
		t.Fatalf("expected first event 0 got %d", v)
	}
	if v := <-ch; v != 1 {
		t.Fatalf("expected second event 1 got %d", v)
	}
}

func TestTypedBusFanOut(t *testing.T) {
	bus := NewTyped[string]()
	a := bus.Subscribe()
	b := bus.Subscribe()
	bus.Publish("x")
	if <-a != "x" || <-b != "x" {
		t.Fatalf("event not delivered to all subscribers")
	}
	bus.Close()
}
