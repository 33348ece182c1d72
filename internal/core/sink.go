package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// StepSink hands out a writer for the combined output of one step.
type StepSink interface {
	OpenStep(runID, job string, index int, step string) (io.WriteCloser, error)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// StreamSink writes step output to a shared writer, one "[job] line" at a time.
// Lines from concurrent jobs never interleave mid-line.
type StreamSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) OpenStep(_ string, job string, _ int, _ string) (io.WriteCloser, error) {
	return &prefixWriter{sink: s, prefix: fmt.Sprintf("[%s] ", job)}, nil
}

func (s *StreamSink) writeLine(prefix string, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, prefix); err != nil {
		return err
	}
	_, err := s.w.Write(line)
	return err
}

// prefixWriter buffers partial lines until a newline arrives or the step ends.
type prefixWriter struct {
	mu     sync.Mutex
	sink   *StreamSink
	prefix string
	buf    bytes.Buffer
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := w.buf.Next(i + 1)
		if err := w.sink.writeLine(w.prefix, line); err != nil {
			return 0, err
		}
	}
}

func (w *prefixWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return nil
	}
	line := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	return w.sink.writeLine(w.prefix, line)
}

// MultiSink fans step output out to several sinks.
type MultiSink []StepSink

func (m MultiSink) OpenStep(runID, job string, index int, step string) (io.WriteCloser, error) {
	writers := &multiWriteCloser{}
	for _, s := range m {
		if s == nil {
			continue
		}
		w, err := s.OpenStep(runID, job, index, step)
		if err != nil {
			_ = writers.Close()
			return nil, err
		}
		writers.ws = append(writers.ws, w)
	}
	return writers, nil
}

// multiWriteCloser is used by pointer so os/exec sees the same writer for
// stdout and stderr and copies both through one pipe.
type multiWriteCloser struct {
	ws []io.WriteCloser
}

func (m *multiWriteCloser) Write(p []byte) (int, error) {
	for _, w := range m.ws {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (m *multiWriteCloser) Close() error {
	var errs []error
	for _, w := range m.ws {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
