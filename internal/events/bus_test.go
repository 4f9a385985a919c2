package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan ProcessRegisteredEvent, 1)

	unsub := bus.Subscribe(func(e ProcessRegisteredEvent) {
		received <- e
	})
	defer unsub()

	event := ProcessRegisteredEvent{
		ProcessID: "p-1",
		PID:       4242,
		SessionID: "sess-1",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.ProcessID != event.ProcessID || got.PID != event.PID {
		t.Errorf("got %+v, want %+v", got, event)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan ProcessKilledEvent, 1)

	unsub := bus.Subscribe(func(e ProcessKilledEvent) {
		received <- e
	})

	bus.Publish(ProcessKilledEvent{ProcessID: "a"})
	<-received

	unsub()

	bus.Publish(ProcessKilledEvent{ProcessID: "b"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	startedReceived := make(chan bool, 1)
	terminatedReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ SessionStartedEvent) {
		startedReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ SessionTerminatedEvent) {
		terminatedReceived <- true
	})
	defer unsub2()

	bus.Publish(SessionStartedEvent{SessionID: "s"})
	<-startedReceived

	select {
	case <-terminatedReceived:
		t.Fatal("terminated subscriber should not receive SessionStartedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ CommandCompletedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(CommandCompletedEvent{
					Command:   "true",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_SessionHelpers(t *testing.T) {
	bus := New()
	started := make(chan string, 1)
	terminated := make(chan string, 1)

	unsub1 := bus.OnSessionStarted(func(id string) { started <- id })
	defer unsub1()
	unsub2 := bus.OnSessionTerminated(func(id string) { terminated <- id })
	defer unsub2()

	bus.Publish(SessionStartedEvent{SessionID: "alpha"})
	bus.Publish(SessionTerminatedEvent{SessionID: "alpha"})

	select {
	case id := <-started:
		if id != "alpha" {
			t.Errorf("started id = %q, want alpha", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session start")
	}
	select {
	case id := <-terminated:
		if id != "alpha" {
			t.Errorf("terminated id = %q, want alpha", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session end")
	}
}

func TestBus_UnknownHandlerIsNoop(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestEventJSONSerialization(t *testing.T) {
	data, err := json.Marshal(CommandCompletedEvent{
		ExecutionID: "e-1",
		Command:     "sleep 1",
		ExitCode:    -1,
		Signal:      "SIGTERM",
		Aborted:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var result map[string]any
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
	}
	if result["signal"] != "SIGTERM" || result["aborted"] != true {
		t.Errorf("unexpected payload %v", result)
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[ProcessUnregisteredEvent](bus, ch)
	defer unsub()

	bus.Publish(ProcessUnregisteredEvent{ProcessID: "p-9"})

	received := <-ch
	ev, ok := received.(ProcessUnregisteredEvent)
	if !ok {
		t.Fatalf("Expected ProcessUnregisteredEvent, got %T", received)
	}
	if ev.ProcessID != "p-9" {
		t.Errorf("Expected process_id p-9, got %s", ev.ProcessID)
	}
}

func TestSubscribeToChannel_NonBlocking(t *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[ProcessRegisteredEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(ProcessRegisteredEvent{ProcessID: "x"})
		done <- true
	}()
	<-done

	deadline := time.Now().Add(time.Second)
	for bus.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bus.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", bus.Dropped())
	}
}
