package ooo

// CommitSink is the subset of the surrounding core a ROB commit needs: the
// RAT (to release superseded physical tags) and the LSQ (to resolve
// memory-order hazards at store commit).
type CommitSink interface {
	RAT() *RegisterAliasTable
	LSQ() *LoadStoreQueue
}

// loopTracker remembers the last committed outcome of each branch address
// so the ROB can detect tight loops (§4.7 loop detection).
type loopTracker struct {
	lastAddr       uint64
	lastTaken      bool
	lastTarget     uint64
	repeatCount    int
	haveLast       bool
	signalledOnce  bool
}

// ReorderBuffer is the in-order retirement queue. Insertion order equals
// program order (ascending InstructionID); the head is the oldest
// unretired instruction, and a store at the head is the point at which
// memory-order violations are detected.
type ReorderBuffer struct {
	cfg     *Config
	entries []*Instruction

	shouldFlush     bool
	flushAfterID    uint64
	flushPC         uint64

	pendingException *Instruction

	loop loopTracker
	onLoopBoundary   func(addr uint64)

	retired uint64
}

// NewReorderBuffer creates an empty ROB with the configured capacity.
func NewReorderBuffer(cfg *Config) *ReorderBuffer {
	return &ReorderBuffer{cfg: cfg}
}

// SetLoopBoundaryHandler installs the callback invoked when the loop
// detection threshold is reached (forwarded to FetchUnit.ReceiveLoopBoundary
// in the full core).
func (rob *ReorderBuffer) SetLoopBoundaryHandler(f func(addr uint64)) {
	rob.onLoopBoundary = f
}

// Capacity returns the ROB's maximum size.
func (rob *ReorderBuffer) Capacity() int { return rob.cfg.ROBSize }

// FreeSpace returns how many more instructions the ROB can hold.
func (rob *ReorderBuffer) FreeSpace() int { return rob.cfg.ROBSize - len(rob.entries) }

// Insert appends insn at the tail; callers (RenameUnit) must have already
// checked FreeSpace() >= 1.
func (rob *ReorderBuffer) Insert(insn *Instruction) {
	insn.Retain()
	rob.entries = append(rob.entries, insn)
}

// Head returns the oldest unretired instruction, or nil if empty.
func (rob *ReorderBuffer) Head() *Instruction {
	if len(rob.entries) == 0 {
		return nil
	}
	return rob.entries[0]
}

// Len returns the number of in-flight instructions.
func (rob *ReorderBuffer) Len() int { return len(rob.entries) }

// ShouldFlush reports whether the last Commit() call detected a
// memory-order violation that requires a pipeline flush.
func (rob *ReorderBuffer) ShouldFlush() bool { return rob.shouldFlush }

// FlushTarget returns the (afterInstructionID, pc) pair to flush to, valid
// only when ShouldFlush() is true.
func (rob *ReorderBuffer) FlushTarget() (uint64, uint64) { return rob.flushAfterID, rob.flushPC }

// ClearFlushSignal resets the flush-pending flag after Core has acted on
// it.
func (rob *ReorderBuffer) ClearFlushSignal() { rob.shouldFlush = false }

// PendingException returns the instruction Commit() found with
// HasException set, or nil. Core must process it before further commits
// proceed past that instruction.
func (rob *ReorderBuffer) PendingException() *Instruction { return rob.pendingException }

// ClearPendingException clears the exception signal once Core has
// registered it with the exception handler.
func (rob *ReorderBuffer) ClearPendingException() { rob.pendingException = nil }

// Commit walks from the head, retiring up to maxCommitSize ready
// instructions. It stops at the first not-ready instruction, the first
// exception, or the first store-commit violation.
func (rob *ReorderBuffer) Commit(maxCommitSize int, sink CommitSink) {
	rob.shouldFlush = false
	rob.pendingException = nil

	committed := 0
	for committed < maxCommitSize && len(rob.entries) > 0 {
		insn := rob.entries[0]

		if insn.Flushed {
			rob.entries = rob.entries[1:]
			insn.Release()
			continue
		}
		if !insn.CommitReady {
			break
		}
		if insn.HasException {
			rob.pendingException = insn
			rob.entries = rob.entries[1:]
			insn.Release()
			break
		}

		for _, phys := range insn.PhysDests {
			sink.RAT().Commit(phys)
		}

		if insn.IsStore {
			violated := sink.LSQ().CommitStore(insn)
			rob.entries = rob.entries[1:]
			insn.Release()
			committed++
			rob.retired++
			if violated {
				loadInsn := sink.LSQ().violatingLoad
				rob.shouldFlush = true
				rob.flushAfterID = loadInsn.InstructionID - 1
				rob.flushPC = loadInsn.Address
				break
			}
			if insn.IsBranch {
				rob.trackBranch(insn)
			}
			continue
		}

		if insn.IsLoad {
			sink.LSQ().CommitLoad(insn)
		}

		rob.entries = rob.entries[1:]
		insn.Release()
		committed++
		rob.retired++

		if insn.IsBranch {
			rob.trackBranch(insn)
		}
	}
}

// Retired returns the lifetime count of instructions retired (non-flushed
// commits).
func (rob *ReorderBuffer) Retired() uint64 { return rob.retired }

func (rob *ReorderBuffer) trackBranch(insn *Instruction) {
	same := rob.loop.haveLast &&
		rob.loop.lastAddr == insn.Address &&
		rob.loop.lastTaken == insn.ActualTaken &&
		rob.loop.lastTarget == insn.ActualTarget

	if same {
		rob.loop.repeatCount++
	} else {
		rob.loop.repeatCount = 1
		rob.loop.signalledOnce = false
	}
	rob.loop.lastAddr = insn.Address
	rob.loop.lastTaken = insn.ActualTaken
	rob.loop.lastTarget = insn.ActualTarget
	rob.loop.haveLast = true

	if rob.loop.repeatCount >= rob.cfg.LoopDetectionThreshold && !rob.loop.signalledOnce {
		rob.loop.signalledOnce = true
		if rob.onLoopBoundary != nil {
			rob.onLoopBoundary(insn.Address)
		}
	}
}

// ResetLoopTrackerOnMispredict resets the repeat counter whenever a branch
// outcome mismatches its prediction, per §9's open-question resolution:
// "reset on any branch mismatch" (DESIGN.md records this decision).
func (rob *ReorderBuffer) ResetLoopTrackerOnMispredict() {
	rob.loop = loopTracker{}
}

// Flush pops instructions from the tail while InstructionID > afterInsnID,
// rewinding their physical-register allocations in strict youngest-first
// order so the RAT history stack unwinds correctly (P7).
func (rob *ReorderBuffer) Flush(afterInsnID uint64, rat *RegisterAliasTable) {
	for len(rob.entries) > 0 {
		tail := rob.entries[len(rob.entries)-1]
		if tail.InstructionID <= afterInsnID {
			break
		}
		for i := len(tail.PhysDests) - 1; i >= 0; i-- {
			rat.Rewind(tail.PhysDests[i])
		}
		tail.Flushed = true
		rob.entries = rob.entries[:len(rob.entries)-1]
		tail.Release()
	}
}
