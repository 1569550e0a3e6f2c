package events

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kasboard/kasboard/src/common"
	"go.uber.org/zap"
)

var logger *zap.Logger

func TestMain(m *testing.M) {
	logger = common.ConfigureZap(zap.InfoLevel)
	os.Exit(m.Run())
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewBus(logger)
	defer b.Stop()

	_, ch1 := b.Subscribe(EventVoteAccepted)
	_, ch2 := b.Subscribe(EventVoteAccepted)
	_, other := b.Subscribe(EventPeriodClosed)

	b.Publish(EventVoteAccepted, "payload")

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != EventVoteAccepted || evt.Data != "payload" {
				t.Errorf("subscriber %d got %+v", i, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
	select {
	case evt := <-other:
		t.Errorf("period subscriber got a vote event: %+v", evt)
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(logger)
	defer b.Stop()

	id, ch := b.Subscribe(EventPeriodOpened)
	b.Unsubscribe(EventPeriodOpened, id)

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
	// publishing to a type with no subscribers must not panic
	b.Publish(EventPeriodOpened, nil)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus(logger)
	defer b.Stop()

	_, ch := b.Subscribe(EventVoteAccepted)
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueSize*2; i++ {
			b.Publish(EventVoteAccepted, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a full subscriber queue")
	}
	if got := len(ch); got != subscriberQueueSize {
		t.Errorf("queued %d events, want a full queue of %d", got, subscriberQueueSize)
	}
}

func TestSubscribeFunc(t *testing.T) {
	b := NewBus(logger)

	var mu sync.Mutex
	var seen []any
	got := make(chan struct{}, 4)
	b.SubscribeFunc(EventPeriodSettled, func(evt Event) {
		mu.Lock()
		seen = append(seen, evt.Data)
		mu.Unlock()
		got <- struct{}{}
	})

	b.Publish(EventPeriodSettled, 1)
	b.Publish(EventPeriodSettled, 2)
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
	}
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("handler saw %v, want [1 2]", seen)
	}
}
