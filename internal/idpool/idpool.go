// Package idpool provides recyclable 8-bit identifier pools for user
// and session IDs.
package idpool

// ID range limits. Zero is the reserved null value and is never
// handed out; 255 is reserved for protocol use.
const (
	FirstID = 1
	LastID  = 254

	// None is the sentinel returned when the pool is exhausted.
	None = 0
)

// Pool is a recyclable queue of 8-bit identifiers. Allocation takes
// the ID at the front, release appends to the back, so recently
// released IDs are reused last.
//
// Pool is not safe for concurrent use; it is owned by the server's
// control loop.
type Pool struct {
	ids []uint8
}

// New creates a pool seeded with the full FirstID..LastID range.
func New() *Pool {
	p := &Pool{ids: make([]uint8, 0, LastID-FirstID+1)}
	for id := FirstID; id <= LastID; id++ {
		p.ids = append(p.ids, uint8(id))
	}
	return p
}

// Next takes the ID at the front of the queue, or None if the pool
// is exhausted. Callers must reject the request on None rather than
// block.
func (p *Pool) Next() uint8 {
	if len(p.ids) == 0 {
		return None
	}
	id := p.ids[0]
	p.ids = p.ids[1:]
	return id
}

// Release returns an ID to the back of the queue.
func (p *Pool) Release(id uint8) {
	if id == None {
		return
	}
	p.ids = append(p.ids, id)
}

// Available returns the number of IDs remaining in the pool.
func (p *Pool) Available() int {
	return len(p.ids)
}
