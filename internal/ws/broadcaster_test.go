package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sightline/internal/pipeline"
)

type recordingSink struct {
	mu     sync.Mutex
	events []pipeline.ProgressEvent
	closed bool
	failOn int // 1-based send that fails, 0 for never
	block  chan struct{}
	panics bool
	got    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 1024)}
}

func (s *recordingSink) Send(ev pipeline.ProgressEvent) error {
	if s.block != nil {
		<-s.block
	}
	if s.panics {
		panic("socket gone")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.events)+1 == s.failOn {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, ev)
	s.got <- struct{}{}
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() []pipeline.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.ProgressEvent(nil), s.events...)
}

func (s *recordingSink) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout after %d of %d events", i, n)
		}
	}
}

func waitDone(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not removed")
	}
}

func ev(video int64, frame int) pipeline.ProgressEvent {
	return pipeline.ProgressEvent{VideoID: video, FrameNumber: frame, ObjectCount: 1}
}

func TestPublishPreservesOrder(t *testing.T) {
	b := NewBroadcaster(256, nil)
	defer b.Close()
	sink := newRecordingSink()
	b.Subscribe(1, sink)

	var want []pipeline.ProgressEvent
	for i := 0; i < 200; i += 5 {
		b.Publish(1, ev(1, i))
		want = append(want, ev(1, i))
	}

	sink.waitFor(t, len(want))
	assert.Equal(t, want, sink.snapshot())
}

func TestPublishOnlyReachesVideoSubscribers(t *testing.T) {
	b := NewBroadcaster(8, nil)
	defer b.Close()
	a, c := newRecordingSink(), newRecordingSink()
	b.Subscribe(1, a)
	b.Subscribe(2, c)

	b.Publish(1, ev(1, 0))
	b.Publish(3, ev(3, 0)) // No subscribers, no-op

	a.waitFor(t, 1)
	assert.Len(t, a.snapshot(), 1)
	assert.Empty(t, c.snapshot())
}

func TestFailingSubscriberIsIsolated(t *testing.T) {
	b := NewBroadcaster(8, nil)
	defer b.Close()

	good := newRecordingSink()
	bad := newRecordingSink()
	bad.failOn = 1
	b.Subscribe(1, good)
	badSub := b.Subscribe(1, bad)

	b.Publish(1, ev(1, 0))
	waitDone(t, badSub)
	b.Publish(1, ev(1, 5))

	good.waitFor(t, 2)
	assert.Equal(t, []pipeline.ProgressEvent{ev(1, 0), ev(1, 5)}, good.snapshot())
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestPanickingSinkIsDropped(t *testing.T) {
	b := NewBroadcaster(8, nil)
	defer b.Close()
	sink := newRecordingSink()
	sink.panics = true
	sub := b.Subscribe(1, sink)

	assert.NotPanics(t, func() { b.Publish(1, ev(1, 0)) })
	waitDone(t, sub)
	assert.False(t, b.HasSubscribers(1))
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(4, nil)
	defer b.Close()

	slow := newRecordingSink()
	slow.block = make(chan struct{})
	defer close(slow.block)
	fast := newRecordingSink()
	slowSub := b.Subscribe(1, slow)
	b.Subscribe(1, fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			b.Publish(1, ev(1, i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	waitDone(t, slowSub)
	assert.NotZero(t, slowSub.Stats().Dropped)
}

func TestUnsubscribeReleasesVideoEntry(t *testing.T) {
	b := NewBroadcaster(8, nil)
	defer b.Close()
	s1, s2 := newRecordingSink(), newRecordingSink()
	sub1 := b.Subscribe(9, s1)
	sub2 := b.Subscribe(9, s2)
	require.Equal(t, []int64{9}, b.Videos())

	b.Unsubscribe(9, sub1)
	b.Unsubscribe(9, sub1) // Idempotent
	assert.True(t, b.HasSubscribers(9))

	b.Unsubscribe(9, sub2)
	assert.Empty(t, b.Videos())
	assert.Zero(t, b.SubscriberCount())

	// Unknown subscriber
	b.Unsubscribe(42, &Subscriber{})
	b.Unsubscribe(42, nil)
}

func TestCloseClosesSinks(t *testing.T) {
	b := NewBroadcaster(8, nil)
	sink := newRecordingSink()
	b.Subscribe(1, sink)

	b.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.closed)
	assert.Zero(t, b.SubscriberCount())
}
