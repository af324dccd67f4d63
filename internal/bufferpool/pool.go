// Package bufferpool implements the spec's BufferPool (§3): a fixed-capacity
// set of mutable byte buffers shared between the render thread and the
// application thread by transfer of ownership, never by concurrent access.
// Grounded on the teacher's internal/jitter ring-buffer design (ringSize
// mask, per-slot bookkeeping), generalized from a playout ring ordered by
// sequence number to an ownership-state pool keyed by a stable buffer_id.
package bufferpool

import (
	"sync"
)

// State is a buffer's position in the ping-pong ownership cycle (spec §3).
type State int

const (
	Free State = iota
	InUseByWorklet
	TransferredToApp
	Returned
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case InUseByWorklet:
		return "in_use_by_worklet"
	case TransferredToApp:
		return "transferred_to_app"
	case Returned:
		return "returned"
	default:
		return "unknown"
	}
}

// Stats reports pool utilisation, dispatched alongside each AudioDataBatch
// per spec §4.C step 4a.
type Stats struct {
	Capacity     int
	FreeCount    int
	InUseCount   int
	Transferred  int
	GrowCount    uint64
	DropCount    uint64
	HitCount     uint64
	MissCount    uint64
}

// HitRate returns HitCount / (HitCount + MissCount), or 1.0 if no
// acquisitions have happened yet.
func (s Stats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 1
	}
	return float64(s.HitCount) / float64(total)
}

type buffer struct {
	id    uint32
	data  []byte
	state State
}

// Pool is a fixed-size-per-buffer, growable-up-to-cap set of byte buffers.
// It is owned exclusively by the render thread per spec §5 ("The buffer
// pool itself lives on the render thread and is mutated only there"); the
// mutex exists only to guard against the occasional cross-goroutine stats
// read, mirroring the teacher's brief-lock-then-lock-free-work pattern in
// audio.go's captureLoop.
type Pool struct {
	mu         sync.Mutex
	bufferSize int
	cap        int
	nextID     uint32
	buffers    map[uint32]*buffer
	free       []uint32

	stats Stats
}

// New creates a Pool with initialCount buffers of bufferSize bytes each,
// growable up to capMax buffers.
func New(bufferSize, initialCount, capMax int) *Pool {
	p := &Pool{
		bufferSize: bufferSize,
		cap:        capMax,
		buffers:    make(map[uint32]*buffer, capMax),
	}
	for i := 0; i < initialCount; i++ {
		p.addBuffer()
	}
	p.stats.Capacity = capMax
	return p
}

func (p *Pool) addBuffer() uint32 {
	id := p.nextID
	p.nextID++
	p.buffers[id] = &buffer{id: id, data: make([]byte, p.bufferSize), state: Free}
	p.free = append(p.free, id)
	return id
}

// Acquire returns a free buffer for the worklet to write into, marking it
// InUseByWorklet. If none is free and the pool is under cap, a new buffer is
// grown; if at cap, Acquire records a miss and a drop in Stats (MissCount,
// DropCount) and returns (nil, 0, false).
func (p *Pool) Acquire() ([]byte, uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		if len(p.buffers) >= p.cap {
			p.stats.MissCount++
			p.stats.DropCount++
			return nil, 0, false
		}
		p.addBuffer()
		p.stats.GrowCount++
	} else {
		p.stats.HitCount++
	}

	id := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	buf := p.buffers[id]
	buf.state = InUseByWorklet
	return buf.data, buf.id, true
}

// MarkTransferred records that buffer id's ownership has moved to the
// application thread (spec invariant 2: a buffer is held by exactly one
// side at a time).
func (p *Pool) MarkTransferred(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if buf, ok := p.buffers[id]; ok {
		buf.state = TransferredToApp
	}
}

// Return marks buffer id free again, called when a ReturnBuffer{buffer_id}
// message arrives from the application thread.
func (p *Pool) Return(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.buffers[id]
	if !ok {
		return
	}
	buf.state = Returned
	buf.state = Free
	p.free = append(p.free, id)
}

// Stats returns a snapshot of current pool utilisation.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.FreeCount = len(p.free)
	inUse, transferred := 0, 0
	for _, b := range p.buffers {
		switch b.state {
		case InUseByWorklet:
			inUse++
		case TransferredToApp:
			transferred++
		}
	}
	s.InUseCount = inUse
	s.Transferred = transferred
	return s
}

// StateOf returns the current state of buffer id, for test assertions on
// the round-trip invariant.
func (p *Pool) StateOf(id uint32) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.buffers[id]
	if !ok {
		return 0, false
	}
	return buf.state, true
}

// Len returns the total number of buffers currently allocated (free + in use).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}
