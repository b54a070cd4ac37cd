package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

const defaultStatusTimeout = 10 * time.Second

// OrchestratorConfig wires the collaborators of a run
type OrchestratorConfig struct {
	Sources     SourceOpener
	NewStrategy func() SamplingStrategy // Called once per run; nil means every 5th frame
	Adapter     DetectionAdapter
	Writer      ResultWriter
	Status      *StatusTracker
	Notifier    Notifier    // Optional
	Observer    RunObserver // Optional
	// RemoveFile deletes the staged upload. Defaults to os.Remove.
	RemoveFile    func(path string) error
	StatusTimeout time.Duration
}

// Orchestrator drives one video from its staged file to a terminal status.
// A single Orchestrator is safe for concurrent runs on different videos.
type Orchestrator struct {
	sources       SourceOpener
	newStrategy   func() SamplingStrategy
	adapter       DetectionAdapter
	writer        ResultWriter
	status        *StatusTracker
	notifier      Notifier
	observer      RunObserver
	removeFile    func(path string) error
	statusTimeout time.Duration
}

// NewOrchestrator creates an orchestrator from cfg
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		sources:       cfg.Sources,
		newStrategy:   cfg.NewStrategy,
		adapter:       cfg.Adapter,
		writer:        cfg.Writer,
		status:        cfg.Status,
		notifier:      cfg.Notifier,
		observer:      cfg.Observer,
		removeFile:    cfg.RemoveFile,
		statusTimeout: cfg.StatusTimeout,
	}
	if o.newStrategy == nil {
		o.newStrategy = func() SamplingStrategy { return everyNth(5) }
	}
	if o.notifier == nil {
		o.notifier = noopNotifier{}
	}
	if o.observer == nil {
		o.observer = noopObserver{}
	}
	if o.removeFile == nil {
		o.removeFile = os.Remove
	}
	if o.statusTimeout <= 0 {
		o.statusTimeout = defaultStatusTimeout
	}
	return o
}

// Run processes job to completion. It never returns before the frame source
// is closed and the staged file removed, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, job Job) (out Outcome) {
	out = Outcome{Job: job, State: RunStateRunning, StartedAt: time.Now()}
	o.observer.RunStarted()
	log.Printf("[Pipeline] Starting run for video %d (%s)", job.VideoID, job.OriginalFilename)

	var source FrameSource
	defer o.release(job, &source, &out)
	defer func() {
		if r := recover(); r != nil {
			o.finalize(ctx, job, &out, fmt.Errorf("%w: panic: %v", ErrAborted, r))
		}
	}()

	err := o.process(ctx, job, &source, &out)
	o.finalize(ctx, job, &out, err)
	return out
}

// process pulls frames until the source is exhausted or a fatal error occurs
func (o *Orchestrator) process(ctx context.Context, job Job, source *FrameSource, out *Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}

	src, err := o.sources.Open(ctx, job.FilePath)
	if err != nil {
		return asMediaError(err)
	}
	*source = src

	strategy := o.newStrategy()
	strategy.Reset()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
			}
			return asMediaError(err)
		}
		out.FramesDecoded++
		o.observer.FrameDecoded()

		if !strategy.ShouldSample(frame) {
			continue
		}
		out.FramesSampled++
		o.observer.FrameSampled()

		boxes := o.adapter.Detect(ctx, frame)
		if len(boxes) == 0 {
			continue
		}

		if _, err := o.writer.WriteDetection(ctx, job.VideoID, frame.Number, frame.Timestamp(), boxes); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
			}
			if !errors.Is(err, ErrPersistence) {
				err = fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			return err
		}
		out.Detections++
		out.Boxes += len(boxes)
		o.observer.DetectionWritten(len(boxes))

		o.notifier.Publish(job.VideoID, ProgressEvent{
			VideoID:     job.VideoID,
			FrameNumber: frame.Number,
			ObjectCount: len(boxes),
		})
	}
}

// finalize records the terminal status exactly once per run
func (o *Orchestrator) finalize(ctx context.Context, job Job, out *Outcome, runErr error) {
	if out.State != RunStateRunning {
		return
	}

	// The status write must land even if the run itself was cancelled
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.statusTimeout)
	defer cancel()

	var err error
	if runErr == nil {
		out.State = RunStateFinished
		out.Status = VideoStatusCompleted
		err = o.status.Complete(sctx, job.VideoID)
	} else {
		out.State = RunStateFailed
		out.Status = VideoStatusError
		out.Err = runErr
		out.Fault = ClassifyFault(runErr)
		log.Printf("[Pipeline] Run for video %d failed after %d frames: %v", job.VideoID, out.FramesDecoded, runErr)
		err = o.status.Fail(sctx, job.VideoID, runErr)
	}
	if err != nil {
		out.StatusErr = err
		log.Printf("[Pipeline] Failed to record status for video %d: %v", job.VideoID, err)
	}
}

// release closes the source and removes the staged file
func (o *Orchestrator) release(job Job, source *FrameSource, out *Outcome) {
	if *source != nil {
		if err := (*source).Close(); err != nil {
			log.Printf("[Pipeline] Failed to close frame source for video %d: %v", job.VideoID, err)
		}
	}
	if job.FilePath != "" {
		if err := o.removeFile(job.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Pipeline] Failed to remove staged file %s: %v", job.FilePath, err)
		}
	}

	out.Duration = time.Since(out.StartedAt)
	o.observer.RunFinished(out.Label(), out.Duration.Seconds())
	log.Printf("[Pipeline] Run for video %d ended: %s (frames=%d sampled=%d detections=%d, %v)",
		job.VideoID, out.Label(), out.FramesDecoded, out.FramesSampled, out.Detections, out.Duration.Round(time.Millisecond))
}

func asMediaError(err error) error {
	if errors.Is(err, ErrMedia) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMedia, err)
}

// everyNth is the fallback sampling strategy when none is configured
type everyNthSampler int

func everyNth(n int) SamplingStrategy { return everyNthSampler(n) }

func (s everyNthSampler) Name() string { return fmt.Sprintf("every_%d", int(s)) }

func (s everyNthSampler) ShouldSample(frame *Frame) bool { return frame.Number%int(s) == 0 }

func (s everyNthSampler) Reset() {}
