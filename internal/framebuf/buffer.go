// Package framebuf holds the most recent annotated frame and fans new
// frames out to streaming clients.
package framebuf

import (
	"errors"
	"sync"
	"time"

	"github.com/clearcity/ai-sentinel/internal/logger"
)

// ErrNoFrame is returned when nothing has been published yet.
var ErrNoFrame = errors.New("no frame")

// Frame is an encoded frame. It must not be modified after Write.
type Frame struct {
	Seq       uint64
	JPEG      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Buffer is a single-slot frame store with subscriber fan-out.
type Buffer struct {
	mu      sync.Mutex
	latest  Frame
	has     bool
	seq     uint64
	clients map[int]chan Frame
	nextID  int
	dropped uint64
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{
		clients: make(map[int]chan Frame),
	}
}

// Write publishes f as the latest frame and returns its sequence number.
// The JPEG bytes are copied so the caller may reuse its slice.
func (b *Buffer) Write(f Frame) uint64 {
	data := make([]byte, len(f.JPEG))
	copy(data, f.JPEG)
	f.JPEG = data
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.seq++
	f.Seq = b.seq
	b.latest = f
	b.has = true

	for id, ch := range b.clients {
		select {
		case ch <- f:
		default:
			b.dropped++
			logger.Debug("FrameBuffer", "Client #%d slow, dropping frame %d", id, f.Seq)
		}
	}
	b.mu.Unlock()

	return f.Seq
}

// Latest returns the most recent frame, or false before the first Write.
func (b *Buffer) Latest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.has
}

// Snapshot is Latest with an error instead of a flag.
func (b *Buffer) Snapshot() (Frame, error) {
	f, ok := b.Latest()
	if !ok {
		return Frame{}, ErrNoFrame
	}
	return f, nil
}

// Subscribe adds a client and returns a channel receiving new frames.
func (b *Buffer) Subscribe() (int, <-chan Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Frame, 2)
	b.clients[id] = ch

	logger.Debug("FrameBuffer", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Buffer) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("FrameBuffer", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Clients returns the number of subscribers.
func (b *Buffer) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Dropped returns how many subscriber deliveries were skipped.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
