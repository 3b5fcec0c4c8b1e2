package ooo

// historyEntry records a prior architectural->physical mapping so a flush
// can rewind renames youngest-first.
type historyEntry struct {
	arch Register
	prev Register // the physical tag that was mapped before this rename
	next Register // the physical tag this rename installed
}

// bankState is per-register-bank RAT state: the current mapping, the free
// list of physical tags, and the history stack used to rewind on flush or
// pop on commit.
type bankState struct {
	current  map[uint16]Register // architectural tag -> physical register
	free     []Register
	freeSet  map[uint16]bool
	history  []historyEntry
}

// RegisterAliasTable maps architectural registers to physical registers,
// one bankState per RegisterBankType. Every physical tag is, at every
// quiescent point, in exactly one of {free list, current mapping, history}
// (P2).
type RegisterAliasTable struct {
	banks [numBanks]*bankState
}

// NewRegisterAliasTable builds a RAT whose free lists are pre-populated
// with cfg.RegisterCounts[t] physical tags per bank, with architectural
// register i initially mapped to physical tag i (the conventional reset
// mapping: the first N physical registers back the N architectural ones).
//
// Every physical tag therefore starts out doing double duty: it sits in
// the free list, and it is also the implicit identity backing for the
// architectural register of the same number until that register is
// first renamed. Handing out a low tag to rename a *different*
// architectural register, while the matching-numbered register is still
// unrenamed, would make the two alias the same physical storage. This
// free list is a LIFO stack (Allocate pops the tail), so it drains
// highest-tag-first; a low identity tag is only reached once in-flight
// renames consume every higher tag first. That can't happen while the
// number of in-flight (dispatched, not yet committed or flushed) renames
// stays below RegisterCounts[t], which every supplied config satisfies
// by a wide margin (e.g. DefaultConfig's 128 GP physical tags against a
// 64-entry ROB, so at most 64 renames are ever in flight at once).
func NewRegisterAliasTable(cfg *Config) *RegisterAliasTable {
	rat := &RegisterAliasTable{}
	for t := RegisterBankType(0); t < numBanks; t++ {
		n := cfg.RegisterCounts[t]
		bs := &bankState{
			current: make(map[uint16]Register),
			freeSet: make(map[uint16]bool),
		}
		for tag := 0; tag < n; tag++ {
			bs.free = append(bs.free, Register{Type: t, Tag: uint16(tag)})
			bs.freeSet[uint16(tag)] = true
		}
		rat.banks[t] = bs
	}
	return rat
}

// GetMapping returns the current physical register mapped from arch.
func (rat *RegisterAliasTable) GetMapping(arch Register) Register {
	bs := rat.banks[arch.Type]
	if phys, ok := bs.current[arch.Tag]; ok {
		return phys
	}
	return Register{Type: arch.Type, Tag: arch.Tag}
}

// Allocate returns a free physical register of arch's bank, records the
// prior mapping on the history stack, and installs the new mapping. The
// second return is false ("no free") when the bank's free list is empty;
// the caller (RenameUnit) must stall on that signal.
func (rat *RegisterAliasTable) Allocate(arch Register) (Register, bool) {
	bs := rat.banks[arch.Type]
	if len(bs.free) == 0 {
		return Register{}, false
	}

	n := len(bs.free) - 1
	phys := bs.free[n]
	bs.free = bs.free[:n]
	delete(bs.freeSet, phys.Tag)

	prev, hadPrev := bs.current[arch.Tag]
	if !hadPrev {
		prev = Register{Type: arch.Type, Tag: arch.Tag}
	}
	bs.current[arch.Tag] = phys
	bs.history = append(bs.history, historyEntry{arch: arch, prev: prev, next: phys})

	return phys, true
}

// Commit releases the physical tag that phys's rename superseded. It pops
// the oldest history entry for phys's architectural register — commit
// happens in program order, so the oldest pending rename for that
// architectural register is always the one being retired.
func (rat *RegisterAliasTable) Commit(phys Register) {
	bs := rat.banks[phys.Type]
	for i, h := range bs.history {
		if h.next == phys {
			bs.history = append(bs.history[:i], bs.history[i+1:]...)
			rat.free(bs, h.prev)
			return
		}
	}
}

// Rewind reverts the mapping phys installed, returning phys itself to the
// free list. Used during flush, strictly from the youngest rename back to
// the oldest, so history entries unwind in stack order.
func (rat *RegisterAliasTable) Rewind(phys Register) {
	bs := rat.banks[phys.Type]
	for i := len(bs.history) - 1; i >= 0; i-- {
		h := bs.history[i]
		if h.next != phys {
			continue
		}
		bs.history = append(bs.history[:i], bs.history[i+1:]...)
		if cur, ok := bs.current[h.arch.Tag]; ok && cur == phys {
			bs.current[h.arch.Tag] = h.prev
		}
		rat.free(bs, phys)
		return
	}
}

// free returns a physical register to the free list unless it is already
// on it (identity-mapped tags start out on the free list, so releasing one
// that was never handed out again is a no-op).
func (rat *RegisterAliasTable) free(bs *bankState, phys Register) {
	if bs.freeSet[phys.Tag] {
		return
	}
	bs.free = append(bs.free, phys)
	bs.freeSet[phys.Tag] = true
}

// FreeCount returns the number of free physical tags remaining in a bank,
// used by RenameUnit to decide whether to stall before attempting
// allocation for every destination of an instruction.
func (rat *RegisterAliasTable) FreeCount(t RegisterBankType) int {
	return len(rat.banks[t].free)
}
