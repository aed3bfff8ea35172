package bridge

import (
	"sync"

	"github.com/jitsi/jicofo-go/pkg/common"
)

// EventType tags the bridge events flowing over the internal bus.
type EventType int

const (
	EventBridgeUp EventType = iota
	EventBridgeDown
	EventVideostreamsChanged
	EventHealthCheckFailed
)

func (t EventType) String() string {
	switch t {
	case EventBridgeUp:
		return "bridge-up"
	case EventBridgeDown:
		return "bridge-down"
	case EventVideostreamsChanged:
		return "videostreams-changed"
	case EventHealthCheckFailed:
		return "health-check-failed"
	default:
		return "unknown"
	}
}

// Event is one bridge event. Bridge is the bridge JID as a string.
type Event struct {
	Type    EventType
	Bridge  string
	Version string
	Delta   int
}

const eventQueueSize = 128

// EventBus is the in-process pub-sub channel for bridge events. Subscribers
// register once on start and deregister on dispose via the closure returned
// by Subscribe; publishing never blocks on a slow subscriber.
type EventBus struct {
	mutex   sync.Mutex
	nextID  int
	senders map[int]*common.Sender[Event]
}

func NewEventBus() *EventBus {
	return &EventBus{senders: make(map[int]*common.Sender[Event])}
}

// Subscribe registers a new subscriber. The returned function deregisters
// it; after deregistration no further events are delivered and the event
// channel is drained by the garbage collector, not closed.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	sender, receiver := common.NewChannel[Event](eventQueueSize)

	b.mutex.Lock()
	id := b.nextID
	b.nextID++
	b.senders[id] = &sender
	b.mutex.Unlock()

	unsubscribe := func() {
		receiver.Close()
		b.mutex.Lock()
		delete(b.senders, id)
		b.mutex.Unlock()
	}
	return receiver.Channel, unsubscribe
}

// Publish delivers the event to every subscriber. Events to subscribers with
// a full queue are dropped rather than blocking the publisher.
func (b *EventBus) Publish(event Event) {
	b.mutex.Lock()
	senders := make([]*common.Sender[Event], 0, len(b.senders))
	for _, sender := range b.senders {
		senders = append(senders, sender)
	}
	b.mutex.Unlock()

	for _, sender := range senders {
		sender.TrySend(event)
	}
}
