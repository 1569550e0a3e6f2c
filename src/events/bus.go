package events

import (
	"sync"
	"time"

	"github.com/kasboard/kasboard/src/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const subscriberQueueSize = 64

type EventType string

const (
	EventVoteAccepted           EventType = "vote.accepted"
	EventPeriodOpened           EventType = "period.opened"
	EventPeriodClosed           EventType = "period.closed"
	EventPeriodSettled          EventType = "period.settled"
	EventSuspiciousVoterFlagged EventType = "voter.flagged"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// VoteAccepted is published after every committed admission.
type VoteAccepted struct {
	Event *model.VoteEvent
}

type PeriodOpened struct {
	Period *model.VotingPeriod
}

type PeriodClosed struct {
	Period *model.VotingPeriod
}

type PeriodSettled struct {
	Period  *model.VotingPeriod
	Receipt *model.DistributionReceipt
}

type SuspiciousVoterFlagged struct {
	Voter model.VoterId
	Day   model.DayKey
	Flags []string
	Risk  int
}

type SubscriberId int

type HandlerFunc func(Event)

// Bus is a typed in-process pub/sub bus. Publishing never blocks the
// publisher: a subscriber whose queue is full has the event dropped, which is
// acceptable for the advisory consumers (ranker cache invalidation, detector
// runs, outer-layer fanout) this bus serves.
type Bus struct {
	mu        sync.RWMutex
	subs      map[EventType]map[SubscriberId]chan Event
	lastSubId SubscriberId
	logger    *zap.Logger
}

var publishedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kasboard_events_published",
	Help: "events published to the bus, by type",
}, []string{"type"})

var droppedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kasboard_events_dropped",
	Help: "events dropped due to a full subscriber queue, by type",
}, []string{"type"})

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[EventType]map[SubscriberId]chan Event),
		logger: logger.With(zap.String("component", "event_bus")),
	}
}

func (b *Bus) Subscribe(eventType EventType) (SubscriberId, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSubId++
	id := b.lastSubId
	if _, ok := b.subs[eventType]; !ok {
		b.subs[eventType] = make(map[SubscriberId]chan Event)
	}
	ch := make(chan Event, subscriberQueueSize)
	b.subs[eventType][id] = ch
	return id, ch
}

// SubscribeFunc runs the handler on its own goroutine for every delivered
// event until Unsubscribe or Stop closes the channel.
func (b *Bus) SubscribeFunc(eventType EventType, handler HandlerFunc) SubscriberId {
	id, ch := b.Subscribe(eventType)
	go func() {
		for evt := range ch {
			handler(evt)
		}
	}()
	return id
}

func (b *Bus) Unsubscribe(eventType EventType, id SubscriberId) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if typeSubs, ok := b.subs[eventType]; ok {
		if ch, ok := typeSubs[id]; ok {
			delete(typeSubs, id)
			close(ch)
		}
		if len(typeSubs) == 0 {
			delete(b.subs, eventType)
		}
	}
}

func (b *Bus) Publish(eventType EventType, data any) {
	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs[eventType]))
	for _, ch := range b.subs[eventType] {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()
	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			droppedCounter.WithLabelValues(string(eventType)).Inc()
			b.logger.Warn("subscriber queue full, dropping event", zap.String("type", string(eventType)))
		}
	}
	publishedCounter.WithLabelValues(string(eventType)).Inc()
}

// Stop closes all subscriber channels so SubscribeFunc goroutines exit.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, typeSubs := range b.subs {
		for _, ch := range typeSubs {
			close(ch)
		}
	}
	b.subs = make(map[EventType]map[SubscriberId]chan Event)
}
