package ws

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"sightline/internal/pipeline"
)

// DefaultQueueSize is the per-subscriber backlog before a slow client is dropped
const DefaultQueueSize = 64

// Sink delivers events to one connected client
type Sink interface {
	Send(event pipeline.ProgressEvent) error
	Close() error
}

// SubscriberStats tracks delivery for a subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Subscriber is one registered sink for a video
type Subscriber struct {
	ID      string
	VideoID int64

	sink  Sink
	queue chan pipeline.ProgressEvent
	done  chan struct{}
	once  sync.Once

	mu    sync.Mutex
	stats SubscriberStats
}

// Done is closed once the subscriber has been removed
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the delivery counters
func (s *Subscriber) Stats() SubscriberStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// DeliveryRecorder counts subscriber lifecycle and delivery faults
type DeliveryRecorder interface {
	SubscriberAdded()
	SubscriberRemoved()
	DeliveryFault()
}

// Broadcaster fans progress events out to the subscribers of each video.
//
// It is created once at process start and lives until Close. Each subscriber
// owns a bounded FIFO drained by a single writer goroutine, so events for a
// video reach a subscriber in publish order and one slow or broken subscriber
// never delays the others or the publisher.
type Broadcaster struct {
	// clients maps video_id -> set of subscribers
	clients   map[int64]map[*Subscriber]struct{}
	mu        sync.RWMutex
	queueSize int
	recorder  DeliveryRecorder
	wg        sync.WaitGroup
}

// NewBroadcaster creates a broadcaster; recorder may be nil
func NewBroadcaster(queueSize int, recorder DeliveryRecorder) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		clients:   make(map[int64]map[*Subscriber]struct{}),
		queueSize: queueSize,
		recorder:  recorder,
	}
}

var _ pipeline.Notifier = (*Broadcaster)(nil)

// Subscribe registers sink for videoID and starts its writer
func (b *Broadcaster) Subscribe(videoID int64, sink Sink) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.NewString(),
		VideoID: videoID,
		sink:    sink,
		queue:   make(chan pipeline.ProgressEvent, b.queueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[videoID] == nil {
		b.clients[videoID] = make(map[*Subscriber]struct{})
	}
	b.clients[videoID][sub] = struct{}{}
	total := len(b.clients[videoID])
	b.wg.Add(1)
	b.mu.Unlock()

	if b.recorder != nil {
		b.recorder.SubscriberAdded()
	}
	go b.writePump(sub)

	fmt.Printf("[WS] Subscriber %s registered for video %d (total: %d)\n", sub.ID, videoID, total)
	return sub
}

// Unsubscribe removes sub. Unknown or already removed subscribers are ignored.
// The video's entry is released once its last subscriber leaves.
func (b *Broadcaster) Unsubscribe(videoID int64, sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	removed := false
	if subs, ok := b.clients[videoID]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			removed = true
		}
		if len(subs) == 0 {
			delete(b.clients, videoID)
		}
	}
	b.mu.Unlock()

	if !removed {
		return
	}
	sub.stop()
	if b.recorder != nil {
		b.recorder.SubscriberRemoved()
	}
	fmt.Printf("[WS] Subscriber %s unregistered for video %d\n", sub.ID, videoID)
}

// Publish enqueues event for every subscriber of videoID without blocking.
// A subscriber whose queue is full is dropped.
func (b *Broadcaster) Publish(videoID int64, event pipeline.ProgressEvent) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.clients[videoID]))
	for sub := range b.clients[videoID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
		case sub.queue <- event:
		default:
			sub.mu.Lock()
			sub.stats.Dropped++
			sub.mu.Unlock()
			fmt.Printf("[WS] Subscriber %s for video %d is too slow, dropping it\n", sub.ID, videoID)
			b.fail(sub)
		}
	}
}

// writePump delivers queued events in order until the subscriber is removed
func (b *Broadcaster) writePump(sub *Subscriber) {
	defer b.wg.Done()
	defer sub.sink.Close()

	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.queue:
			if err := deliver(sub.sink, event); err != nil {
				fmt.Printf("[WS] Error sending to subscriber %s: %v\n", sub.ID, err)
				b.fail(sub)
				return
			}
			sub.mu.Lock()
			sub.stats.Sent++
			sub.mu.Unlock()
		}
	}
}

func (b *Broadcaster) fail(sub *Subscriber) {
	if b.recorder != nil {
		b.recorder.DeliveryFault()
	}
	b.Unsubscribe(sub.VideoID, sub)
}

// deliver calls Send, turning a panicking sink into an error
func deliver(sink Sink, event pipeline.ProgressEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sink panic: %v", pipeline.ErrDelivery, r)
		}
	}()
	if err := sink.Send(event); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrDelivery, err)
	}
	return nil
}

// HasSubscribers returns true if any subscriber is registered for videoID
func (b *Broadcaster) HasSubscribers(videoID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[videoID]) > 0
}

// Videos returns the ids that currently have subscribers
func (b *Broadcaster) Videos() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]int64, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SubscriberCount returns the total number of subscribers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.clients {
		count += len(subs)
	}
	return count
}

// Close removes every subscriber and waits for their writers to exit
func (b *Broadcaster) Close() {
	b.mu.RLock()
	var all []*Subscriber
	for _, subs := range b.clients {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range all {
		b.Unsubscribe(sub.VideoID, sub)
	}
	b.wg.Wait()
}
