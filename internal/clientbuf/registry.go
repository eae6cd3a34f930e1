// Package clientbuf implements the Per-Client Buffer Registry: a
// process-wide, concurrently accessible mapping from ClientId to an
// unbounded FIFO of undelivered serialized response frames. It survives the
// lifetime of any individual connection so that a response computed while a
// client was disconnected is never lost.
package clientbuf

import "sync"

// Buffer is a single client's FIFO of undelivered response frames. All
// methods are safe for concurrent use; Push never blocks.
type Buffer struct {
	mu     sync.Mutex
	frames [][]byte
}

// Push appends a frame to the back of the buffer. It always succeeds and
// never blocks.
func (b *Buffer) Push(frame []byte) {
	b.mu.Lock()
	b.frames = append(b.frames, frame)
	b.mu.Unlock()
}

// PushFront re-enqueues a frame at the front of the buffer. Used when a
// drain attempt fails partway and the frame must not be lost.
func (b *Buffer) PushFront(frame []byte) {
	b.mu.Lock()
	b.frames = append([][]byte{frame}, b.frames...)
	b.mu.Unlock()
}

// TryPop removes and returns the oldest frame, or (nil, false) if empty.
// Never blocks.
func (b *Buffer) TryPop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil, false
	}
	frame := b.frames[0]
	b.frames = b.frames[1:]
	return frame, true
}

// Len reports the number of frames currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Registry maps ClientId to its Buffer. The zero value is ready to use.
// Initialised once at node start, destroyed only at process shutdown.
type Registry struct {
	buffers sync.Map // map[string]*Buffer
}

// Get returns the Buffer for clientID, creating it on first use. Idempotent
// and safe under concurrent calls for the same or different client ids.
func (r *Registry) Get(clientID string) *Buffer {
	if v, ok := r.buffers.Load(clientID); ok {
		return v.(*Buffer)
	}
	b := &Buffer{}
	actual, _ := r.buffers.LoadOrStore(clientID, b)
	return actual.(*Buffer)
}

// Len reports how many buffered frames are queued for clientID, or 0 if the
// client has no registered buffer yet.
func (r *Registry) Len(clientID string) int {
	if v, ok := r.buffers.Load(clientID); ok {
		return v.(*Buffer).Len()
	}
	return 0
}

// ClientIDs returns a snapshot of every client id with a registered buffer,
// used by the observability API's metrics endpoint.
func (r *Registry) ClientIDs() []string {
	var ids []string
	r.buffers.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}
