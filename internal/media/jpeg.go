package media

import (
	"bytes"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// jpegSplitter cuts a concatenated MJPEG byte stream into frames.
// It remembers how far it has scanned so partially received frames
// are not rescanned on every read.
type jpegSplitter struct {
	buf     []byte
	scanned int // Offset in buf already searched for an end marker
}

func (s *jpegSplitter) Write(p []byte) {
	s.buf = append(s.buf, p...)
}

// Next returns the next complete frame, or nil if more data is needed
func (s *jpegSplitter) Next() []byte {
	start := bytes.Index(s.buf, jpegSOI)
	if start == -1 {
		// Keep a trailing 0xFF, it may begin a marker
		if n := len(s.buf); n > 0 && s.buf[n-1] == 0xFF {
			s.buf = s.buf[n-1:]
		} else {
			s.buf = s.buf[:0]
		}
		s.scanned = 0
		return nil
	}
	if start > 0 {
		s.buf = s.buf[start:]
		s.scanned = 0
	}

	from := 2
	if s.scanned > from {
		from = s.scanned
	}
	idx := bytes.Index(s.buf[from:], jpegEOI)
	if idx == -1 {
		// The last byte may be the first half of the end marker
		s.scanned = len(s.buf) - 1
		return nil
	}
	end := from + idx + 2

	frame := make([]byte, end)
	copy(frame, s.buf[:end])
	s.buf = s.buf[end:]
	s.scanned = 0
	return frame
}

// Buffered returns the number of bytes waiting for a complete frame
func (s *jpegSplitter) Buffered() int {
	return len(s.buf)
}
