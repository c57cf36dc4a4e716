package events

import (
	"testing"
	"time"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	event := ServerEvent{
		MessageID: "m1",
		Path:      "/home/home.json",
		Timestamp: 1700000000123,
	}
	b.Publish(event)

	select {
	case received := <-ch:
		if received.Path != "/home/home.json" {
			t.Errorf("expected path /home/home.json, got %s", received.Path)
		}
		if received.Timestamp != 1700000000123 {
			t.Errorf("expected timestamp 1700000000123, got %d", received.Timestamp)
		}
		if received.MessageID != "m1" {
			t.Errorf("expected messageId m1, got %s", received.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterMultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	event := ServerEvent{Path: "/shared.txt", Timestamp: 1}
	b.Publish(event)

	for i, ch := range []chan ServerEvent{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Path != "/shared.txt" {
				t.Errorf("subscriber %d: expected /shared.txt, got %s", i, received.Path)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the channel buffer (64)
	for i := 0; i < 100; i++ {
		b.Publish(ServerEvent{Path: "/overflow.txt", Timestamp: int64(i)})
	}

	// Should not block or panic
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			goto done
		}
	}
done:
	if count != 64 {
		t.Errorf("expected 64 buffered events, got %d", count)
	}
}

func TestMarshalEventOmitsEmptyFields(t *testing.T) {
	data, err := MarshalEvent(ServerEvent{Path: "/f", Timestamp: 5})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"path":"/f","timestamp":5}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}
