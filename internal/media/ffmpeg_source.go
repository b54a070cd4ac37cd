package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"sightline/internal/pipeline"
)

// ErrSourceClosed is returned by Next after Close
var ErrSourceClosed = errors.New("frame source closed")

const readChunkSize = 64 * 1024

// Opener starts ffmpeg decoders for staged video files
type Opener struct {
	FFmpegPath  string
	FFprobePath string
	Quality     int // MJPEG qscale, 2 (best) to 31
}

// NewOpener creates an opener; empty paths resolve ffmpeg and ffprobe from PATH
func NewOpener(ffmpegPath, ffprobePath string) *Opener {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Opener{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Quality: 3}
}

var _ pipeline.SourceOpener = (*Opener)(nil)

// Open probes path and starts decoding it.
// Unreadable files, files without frames, and files without a frame rate fail with ErrMedia.
func (o *Opener) Open(ctx context.Context, path string) (pipeline.FrameSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrMedia, err)
	}

	probe, err := ProbeFile(ctx, o.FFprobePath, path)
	if err != nil {
		return nil, err
	}

	src, err := o.start(ctx, path, probe)
	if err != nil {
		return nil, err
	}
	log.Printf("[FrameSource] Opened %s (%s %dx%d @ %.3f fps, %d frames)",
		path, probe.Codec, probe.Width, probe.Height, probe.FPS, probe.FrameCount)
	return src, nil
}

func (o *Opener) decodeArgs(path string) []string {
	quality := o.Quality
	if quality <= 0 {
		quality = 3
	}
	return []string{
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-vsync", "passthrough",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"-",
	}
}

func (o *Opener) start(ctx context.Context, path string, probe *Probe) (*FFmpegSource, error) {
	decodeCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(decodeCtx, o.FFmpegPath, o.decodeArgs(path)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to create stdout pipe: %v", pipeline.ErrMedia, err)
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", pipeline.ErrMedia, err)
	}

	return &FFmpegSource{
		path:   path,
		probe:  probe,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		chunk:  make([]byte, readChunkSize),
	}, nil
}

// FFmpegSource decodes a file into JPEG frames through an ffmpeg subprocess
type FFmpegSource struct {
	path   string
	probe  *Probe
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	cancel context.CancelFunc

	splitter jpegSplitter
	chunk    []byte
	next     int
	eof      bool
	closed   bool
	waited   bool
	waitErr  error
	mu       sync.Mutex
}

var _ pipeline.FrameSource = (*FFmpegSource)(nil)

// Probe returns the stream metadata read before decoding started
func (s *FFmpegSource) Probe() *Probe {
	return s.probe
}

// Next returns the next decoded frame or io.EOF when the stream is exhausted
func (s *FFmpegSource) Next() (*pipeline.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}

	for {
		if img := s.splitter.Next(); img != nil {
			frame := &pipeline.Frame{
				Number: s.next,
				Image:  img,
				FPS:    s.probe.FPS,
				Width:  s.probe.Width,
				Height: s.probe.Height,
			}
			s.next++
			return frame, nil
		}

		if s.eof {
			return nil, s.finish()
		}

		n, err := s.stdout.Read(s.chunk)
		if n > 0 {
			s.splitter.Write(s.chunk[:n])
		}
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading decoder output: %v", pipeline.ErrMedia, err)
		}
	}
}

// finish reaps ffmpeg once its output is drained
func (s *FFmpegSource) finish() error {
	if err := s.wait(); err != nil {
		return fmt.Errorf("%w: ffmpeg exited after %d frames: %v: %s", pipeline.ErrMedia, s.next, err, s.stderr.String())
	}
	if s.next == 0 {
		return fmt.Errorf("%w: decoder produced no frames", pipeline.ErrMedia)
	}
	if s.splitter.Buffered() > 0 {
		log.Printf("[FrameSource] Discarding %d trailing bytes from %s", s.splitter.Buffered(), s.path)
	}
	return io.EOF
}

func (s *FFmpegSource) wait() error {
	if !s.waited {
		s.waitErr = s.cmd.Wait()
		s.waited = true
	}
	return s.waitErr
}

// Close stops the decoder. Calling it more than once is a no-op.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if !s.waited {
		// Killing a still-running decoder is expected; its exit status is ignored
		s.cancel()
		_ = s.wait()
		return nil
	}
	s.cancel()
	return nil
}
