package repository

import (
	"context"
	"sync"
	"time"
)

// ChangeEvent announces that a record in one of the local collections was
// committed or had its sync state updated.
type ChangeEvent struct {
	Collection string
	RecordID   string
	Timestamp  time.Time
}

// ChangeDispatcher fans committed-change events out to observe subscribers.
// Publishing never blocks: a subscriber that falls behind loses intermediate
// events, not the stream. Observers reload from the store on every event, so
// the latest snapshot always gets through.
type ChangeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*changeSubscriber
	nextID      int64
	bufferSize  int
}

type changeSubscriber struct {
	id     int64
	stream chan ChangeEvent
}

// NewChangeDispatcher returns an empty dispatcher.
func NewChangeDispatcher() *ChangeDispatcher {
	return &ChangeDispatcher{
		subscribers: make(map[int64]*changeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a subscriber bound to the context lifetime. The cleanup
// function is idempotent and safe to call in addition to context cancellation.
func (d *ChangeDispatcher) Subscribe(ctx context.Context) (<-chan ChangeEvent, func()) {
	subscriber := &changeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeEvent, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every current subscriber without blocking.
func (d *ChangeDispatcher) Publish(event ChangeEvent) {
	if event.Collection == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*changeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *ChangeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *ChangeDispatcher) registerSubscriber(subscriber *changeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *ChangeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
