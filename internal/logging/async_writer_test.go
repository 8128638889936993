package logging

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncWriter_FlushWritesPending(t *testing.T) {
	out := &syncBuffer{}
	aw := NewAsyncWriter(out, AsyncWriterConfig{BufferSize: 100, BatchSize: 1000, FlushTimeout: time.Hour})
	defer aw.Close()

	_, err := aw.Write([]byte("one\n"))
	require.NoError(t, err)
	_, err = aw.Write([]byte("two\n"))
	require.NoError(t, err)

	require.NoError(t, aw.Flush())
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestAsyncWriter_BatchSizeTriggersWrite(t *testing.T) {
	out := &syncBuffer{}
	aw := NewAsyncWriter(out, AsyncWriterConfig{BufferSize: 100, BatchSize: 2, FlushTimeout: time.Hour})
	defer aw.Close()

	_, _ = aw.Write([]byte("a"))
	_, _ = aw.Write([]byte("b"))

	assert.Eventually(t, func() bool { return out.String() == "ab" }, time.Second, 5*time.Millisecond)
}

func TestAsyncWriter_TimeoutFlushesPartialBatch(t *testing.T) {
	out := &syncBuffer{}
	aw := NewAsyncWriter(out, AsyncWriterConfig{BufferSize: 100, BatchSize: 100, FlushTimeout: 10 * time.Millisecond})
	defer aw.Close()

	_, _ = aw.Write([]byte("partial"))
	assert.Eventually(t, func() bool { return out.String() == "partial" }, time.Second, 5*time.Millisecond)
}

func TestAsyncWriter_CopiesInput(t *testing.T) {
	out := &syncBuffer{}
	aw := NewAsyncWriter(out, AsyncWriterConfig{FlushTimeout: time.Hour})
	defer aw.Close()

	p := []byte("original")
	_, _ = aw.Write(p)
	copy(p, "mutated!")
	require.NoError(t, aw.Flush())
	assert.Equal(t, "original", out.String())
}

func TestAsyncWriter_CloseDrainsAndCloses(t *testing.T) {
	out := &syncBuffer{}
	aw := NewAsyncWriter(out, AsyncWriterConfig{BufferSize: 1000, BatchSize: 1000, FlushTimeout: time.Hour})

	for i := 0; i < 500; i++ {
		_, _ = aw.Write([]byte("x\n"))
	}
	require.NoError(t, aw.Close())
	require.NoError(t, aw.Close())

	assert.Equal(t, 500, strings.Count(out.String(), "x"))
	assert.True(t, out.closed)

	_, err := aw.Write([]byte("late"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NoError(t, aw.Flush())
}

func TestAsyncWriter_ConcurrentWrites(t *testing.T) {
	out := &syncBuffer{}
	aw := NewAsyncWriter(out, AsyncWriterConfig{BufferSize: 8, BatchSize: 4, FlushTimeout: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = aw.Write([]byte("y"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, aw.Close())
	assert.Equal(t, 500, len(out.String()))
}

func TestAsyncWriter_DefaultsForZeroConfig(t *testing.T) {
	aw := NewAsyncWriter(io.Discard, AsyncWriterConfig{})
	defer aw.Close()
	assert.Equal(t, 100, aw.batchSize)
	assert.Equal(t, 100*time.Millisecond, aw.flushTimeout)
	assert.Equal(t, 10000, cap(aw.entries))
}
