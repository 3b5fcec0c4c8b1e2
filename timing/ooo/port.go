package ooo

// PortAllocator selects which functional-unit port a dispatched
// instruction will use, given its supported-ports set. Expressed as an
// interface per the Design Notes (dynamic dispatch over pluggable
// policies), with a round-robin default.
type PortAllocator interface {
	// Allocate returns a free port among candidates, or ok=false if all
	// candidates are currently occupied.
	Allocate(candidates []int) (port int, ok bool)
	// Release frees a previously allocated port.
	Release(port int)
	// Tick advances any internal round-robin state once per cycle.
	Tick()
}

// roundRobinPortAllocator is the default PortAllocator: each port holds at
// most one in-flight allocation at a time, and candidates are scanned
// starting from a rotating offset to spread load across equally-capable
// ports.
type roundRobinPortAllocator struct {
	busy   []bool
	cursor int
}

// NewPortAllocator creates the default round-robin port allocator for
// numPorts physical issue ports.
func NewPortAllocator(numPorts int) PortAllocator {
	return &roundRobinPortAllocator{busy: make([]bool, numPorts)}
}

func (a *roundRobinPortAllocator) Allocate(candidates []int) (int, bool) {
	n := len(candidates)
	for i := 0; i < n; i++ {
		idx := (a.cursor + i) % n
		p := candidates[idx]
		if !a.busy[p] {
			a.busy[p] = true
			a.cursor = idx + 1
			return p, true
		}
	}
	return 0, false
}

func (a *roundRobinPortAllocator) Release(port int) {
	a.busy[port] = false
}

func (a *roundRobinPortAllocator) Tick() {}
