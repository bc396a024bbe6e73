package provider

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// dataFramePrefix marks a streaming transport line carrying a JSON frame.
const dataFramePrefix = "data: "

type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream is a lazy, single-consumer sequence of reply fragments. It is not
// restartable. Callers advance with Next, read the fragment with Text, and
// check Err once Next returns false. Close abandons the stream early.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	log     *logrus.Entry

	text   string
	err    error
	closed bool

	// onComplete fires exactly once when the transport stream is exhausted
	// normally. It writes the interaction record for the call.
	onComplete func()
	completed  bool
}

func newStream(body io.ReadCloser, log *logrus.Entry, onComplete func()) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{
		body:       body,
		scanner:    scanner,
		log:        log,
		onComplete: onComplete,
	}
}

// Next advances to the next non-empty text fragment. Malformed or unexpected
// transport lines are logged and skipped, never fatal.
func (s *Stream) Next() bool {
	if s.closed {
		return false
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, dataFramePrefix) {
			s.log.WithField("line", truncate(line, 200)).Debug("skipping non-data stream line")
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, dataFramePrefix)), &frame); err != nil {
			s.log.WithField("line", truncate(line, 200)).Warn("failed to decode stream frame")
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		if content := frame.Choices[0].Delta.Content; content != "" {
			s.text = content
			return true
		}
	}

	s.err = s.scanner.Err()
	s.finish()
	return false
}

// Text returns the fragment read by the last successful Next.
func (s *Stream) Text() string {
	return s.text
}

// Err reports a transport failure that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying transport. Abandoning a stream early skips
// the completion record; only exhausted streams are audited as completed.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *Stream) finish() {
	if s.completed {
		return
	}
	s.completed = true
	s.body.Close()
	s.closed = true
	if s.err == nil && s.onComplete != nil {
		s.onComplete()
	}
}
