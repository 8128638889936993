package logging

import (
	"io"
	"sync"
	"time"
)

// AsyncWriter batches writes to an underlying writer on a background
// goroutine. Writes block only when the buffer is full.
type AsyncWriter struct {
	writer  io.Writer
	entries chan []byte
	flushes chan chan struct{}
	done    chan struct{}

	batchSize    int
	flushTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// AsyncWriterConfig holds configuration for AsyncWriter
type AsyncWriterConfig struct {
	// BufferSize is the number of pending entries before Write blocks.
	BufferSize int
	// BatchSize is the number of entries written per flush.
	BatchSize int
	// FlushTimeout bounds how long a partial batch waits.
	FlushTimeout time.Duration
}

// DefaultAsyncWriterConfig returns default configuration
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		BufferSize:   10000,
		BatchSize:    100,
		FlushTimeout: 100 * time.Millisecond,
	}
}

// NewAsyncWriter starts an AsyncWriter over w. Zero config fields take the
// defaults.
func NewAsyncWriter(w io.Writer, cfg AsyncWriterConfig) *AsyncWriter {
	d := DefaultAsyncWriterConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = d.FlushTimeout
	}

	aw := &AsyncWriter{
		writer:       w,
		entries:      make(chan []byte, cfg.BufferSize),
		flushes:      make(chan chan struct{}),
		done:         make(chan struct{}),
		batchSize:    cfg.BatchSize,
		flushTimeout: cfg.FlushTimeout,
	}
	go aw.writeLoop()
	return aw
}

// Write queues a copy of p. It returns io.ErrClosedPipe after Close.
func (aw *AsyncWriter) Write(p []byte) (int, error) {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	if aw.closed {
		return 0, io.ErrClosedPipe
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	aw.entries <- buf
	return len(p), nil
}

func (aw *AsyncWriter) writeLoop() {
	defer close(aw.done)

	ticker := time.NewTicker(aw.flushTimeout)
	defer ticker.Stop()

	batch := make([][]byte, 0, aw.batchSize)
	flush := func() {
		for _, data := range batch {
			_, _ = aw.writer.Write(data)
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case data := <-aw.entries:
				batch = append(batch, data)
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case data, ok := <-aw.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, data)
			if len(batch) >= aw.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case ack := <-aw.flushes:
			drain()
			close(ack)
		}
	}
}

// Flush blocks until every entry queued before the call is written.
func (aw *AsyncWriter) Flush() error {
	aw.mu.RLock()
	if aw.closed {
		aw.mu.RUnlock()
		return nil
	}
	ack := make(chan struct{})
	aw.flushes <- ack
	aw.mu.RUnlock()
	<-ack
	return nil
}

// Close writes pending entries, stops the writer and closes the underlying
// writer if it is an io.Closer. It is safe to call more than once.
func (aw *AsyncWriter) Close() error {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return nil
	}
	aw.closed = true
	close(aw.entries)
	aw.mu.Unlock()

	<-aw.done
	if closer, ok := aw.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
