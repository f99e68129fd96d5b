// Package linestream reads a log source line by line and hands each line to
// a handler on a single goroutine.
package linestream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// MaxLineSize bounds a single log line, newline included. Longer lines are
// dropped and counted.
const MaxLineSize = 1 << 20

// LineHandler consumes lines in order. Its errors are diagnostics that the
// handler has already reported; they never stop the stream.
type LineHandler interface {
	HandleLine(ctx context.Context, line string) error
}

// Stream reads lines from a reader and dispatches them to a handler.
type Stream struct {
	reader  *bufio.Reader
	handler LineHandler
	log     *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
	lines    atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a new Stream over r. log may be nil.
func New(r io.Reader, handler LineHandler, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Stream{
		reader:  bufio.NewReaderSize(r, MaxLineSize),
		handler: handler,
		log:     log,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins reading lines in a goroutine.
// It returns immediately and processes lines in the background until the
// input ends, the context is cancelled or Stop is called. A blocked read is
// only interrupted by the reader itself returning.
func (s *Stream) Start(ctx context.Context) error {
	go s.processLines(ctx)
	return nil
}

// Stop signals the line processing goroutine to stop after the current line.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// Wait blocks until the processing goroutine has exited and returns the read
// error, if any. Cancellation and Stop are not errors.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Done is closed once the processing goroutine has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Run starts the stream and waits for it.
func (s *Stream) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait()
}

// Lines returns the number of lines handed to the handler so far.
func (s *Stream) Lines() uint64 {
	return s.lines.Load()
}

// Dropped returns the number of oversized lines skipped so far.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// processLines is the main loop that reads and dispatches lines.
func (s *Stream) processLines(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("line stream cancelled", "lines", s.lines.Load())
			return
		case <-s.stopCh:
			s.log.Debug("line stream stopped", "lines", s.lines.Load())
			return
		default:
		}

		line, err := s.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			line, err = nil, s.skipOversized()
		}
		if len(line) > 0 {
			s.dispatch(ctx, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("reading log input: %w", err)
			}
			s.log.Debug("line stream reached end of input", "lines", s.lines.Load())
			return
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})

	s.lines.Add(1)
	// Diagnostics were already logged by the handler.
	_ = s.handler.HandleLine(ctx, string(line))
}

// skipOversized discards the rest of a line that did not fit the buffer.
func (s *Stream) skipOversized() error {
	err := bufio.ErrBufferFull
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = s.reader.ReadSlice('\n')
	}
	n := s.dropped.Add(1)
	s.log.Warn("dropped oversized log line", "limit", MaxLineSize, "after_line", s.lines.Load(), "dropped", n)
	return err
}

// Open opens path for reading; "-" is standard input.
func Open(path string) (io.ReadCloser, error) {
	if path == "" {
		return nil, errors.New("no input path")
	}
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log input: %w", err)
	}
	return f, nil
}
