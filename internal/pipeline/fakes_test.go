package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
)

type fakeSource struct {
	frames  int
	fps     float64
	next    int
	failAt  int // frame number that returns a decode error, -1 for none
	closed  int
	onFrame func(n int)
}

func (s *fakeSource) Next() (*Frame, error) {
	if s.next >= s.frames {
		return nil, io.EOF
	}
	if s.failAt >= 0 && s.next == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	f := &Frame{Number: s.next, FPS: s.fps, Image: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 640, Height: 480}
	s.next++
	if s.onFrame != nil {
		s.onFrame(f.Number)
	}
	return f, nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

type fakeOpener struct {
	source *fakeSource
	err    error
	opened []string
}

func (o *fakeOpener) Open(_ context.Context, path string) (FrameSource, error) {
	o.opened = append(o.opened, path)
	if o.err != nil {
		return nil, o.err
	}
	return o.source, nil
}

type fakeAdapter struct {
	mu     sync.Mutex
	boxes  map[int][]BoxCandidate
	panics map[int]bool
	seen   []int
}

func (a *fakeAdapter) Detect(_ context.Context, frame *Frame) []BoxCandidate {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, frame.Number)
	if a.panics[frame.Number] {
		panic("detector exploded")
	}
	return a.boxes[frame.Number]
}

type writtenDetection struct {
	VideoID     int64
	FrameNumber int
	Timestamp   float64
	Boxes       []BoxCandidate
}

type fakeWriter struct {
	mu      sync.Mutex
	written []writtenDetection
	failOn  int // 1-based write attempt that fails, 0 for never
	calls   int
}

func (w *fakeWriter) WriteDetection(_ context.Context, videoID int64, frameNumber int, ts float64, boxes []BoxCandidate) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failOn > 0 && w.calls == w.failOn {
		return 0, errors.New("disk full")
	}
	w.written = append(w.written, writtenDetection{videoID, frameNumber, ts, boxes})
	return int64(len(w.written)), nil
}

type fakeStatusStore struct {
	mu       sync.Mutex
	statuses map[int64]VideoStatus
	err      error
}

func newFakeStatusStore(ids ...int64) *fakeStatusStore {
	s := &fakeStatusStore{statuses: make(map[int64]VideoStatus)}
	for _, id := range ids {
		s.statuses[id] = VideoStatusProcessing
	}
	return s
}

func (s *fakeStatusStore) UpdateVideoStatus(_ context.Context, id int64, from, to VideoStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	current, ok := s.statuses[id]
	if !ok {
		return ErrVideoNotFound
	}
	if current != from || !CanTransition(from, to) {
		return ErrIllegalTransition
	}
	s.statuses[id] = to
	return nil
}

func (s *fakeStatusStore) get(id int64) VideoStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (n *fakeNotifier) Publish(_ int64, ev ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func person(conf float64) BoxCandidate {
	return BoxCandidate{BBox: BBox{X1: 10, Y1: 20, X2: 110, Y2: 220}, Confidence: conf}
}

type harness struct {
	opener   *fakeOpener
	adapter  *fakeAdapter
	writer   *fakeWriter
	store    *fakeStatusStore
	notifier *fakeNotifier
	removed  []string
	orch     *Orchestrator
}

func newHarness(source *fakeSource, videoID int64) *harness {
	h := &harness{
		opener:   &fakeOpener{source: source},
		adapter:  &fakeAdapter{boxes: map[int][]BoxCandidate{}, panics: map[int]bool{}},
		writer:   &fakeWriter{},
		store:    newFakeStatusStore(videoID),
		notifier: &fakeNotifier{},
	}
	h.orch = NewOrchestrator(OrchestratorConfig{
		Sources:  h.opener,
		Adapter:  h.adapter,
		Writer:   h.writer,
		Status:   NewStatusTracker(h.store),
		Notifier: h.notifier,
		RemoveFile: func(path string) error {
			h.removed = append(h.removed, path)
			return nil
		},
	})
	return h
}
