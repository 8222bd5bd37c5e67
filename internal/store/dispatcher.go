package store

import (
	"context"
	"sync"
)

const subscriberBufferSize = 16

// snapshotDispatcher fans collection snapshots out to subscribers keyed by
// collection path. Publishing never blocks: a subscriber that cannot keep up
// drops intermediate snapshots and only ever misses states that were
// superseded anyway.
type snapshotDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*snapshotSubscriber
	nextID      int64
}

type snapshotSubscriber struct {
	id     int64
	stream chan Snapshot
}

func newSnapshotDispatcher() *snapshotDispatcher {
	return &snapshotDispatcher{
		subscribers: make(map[string]map[int64]*snapshotSubscriber),
	}
}

func (d *snapshotDispatcher) subscribe(ctx context.Context, path string) (chan Snapshot, func()) {
	subscriber := &snapshotSubscriber{
		id:     d.nextSequence(),
		stream: make(chan Snapshot, subscriberBufferSize),
	}
	d.register(path, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(path, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *snapshotDispatcher) publish(snapshot Snapshot) {
	d.mu.RLock()
	subscribers := d.subscribers[snapshot.Path]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*snapshotSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- snapshot:
		default:
		}
	}
}

func (d *snapshotDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *snapshotDispatcher) register(path string, subscriber *snapshotSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[path]; !ok {
		d.subscribers[path] = make(map[int64]*snapshotSubscriber)
	}
	d.subscribers[path][subscriber.id] = subscriber
}

func (d *snapshotDispatcher) unregister(path string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[path]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, path)
		}
	}
	d.mu.Unlock()
}
