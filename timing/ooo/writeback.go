package ooo

// writebackTracker is the "in-order staging tracker" §4.6 refers to. The
// LSQ already enforces store-to-load ordering (§4.8) before a load ever
// reaches a completion slot, so by the time WritebackUnit sees an
// instruction its writeback may always proceed; the tracker still exists
// as the seam a future staged-writeback policy (e.g. register-file port
// contention) would hook into.
type writebackTracker struct{}

func newWritebackTracker() *writebackTracker { return &writebackTracker{} }

func (t *writebackTracker) canWriteback(insn *Instruction) bool { return true }

// WritebackUnit consumes execution completion slots: it writes results
// into the physical register file, notifies DispatchIssueUnit so
// dependents wake up, and marks the instruction commit-ready.
type WritebackUnit struct {
	regs   *RegisterFileSet
	issue  *DispatchIssueUnit
	tracker *writebackTracker

	inputs []*PipelineBuffer[*Instruction]

	Written uint64
}

// NewWritebackUnit wires a WritebackUnit over every execution unit's
// completion-slot buffer plus the LSQ's own completion buffer.
func NewWritebackUnit(regs *RegisterFileSet, issue *DispatchIssueUnit, inputs []*PipelineBuffer[*Instruction]) *WritebackUnit {
	return &WritebackUnit{regs: regs, issue: issue, tracker: newWritebackTracker(), inputs: inputs}
}

// Tick drains every completion slot's head, writing back whatever
// writeback order currently permits and holding the rest for a later
// cycle.
func (w *WritebackUnit) Tick() {
	for _, buf := range w.inputs {
		head := buf.GetHead()
		for i, insn := range head {
			if insn == nil || insn.Flushed {
				head[i] = nil
				continue
			}
			if !w.tracker.canWriteback(insn) {
				continue
			}

			for di, dest := range insn.PhysDests {
				if di < len(insn.Results) {
					w.regs.Write(dest, insn.Results[di])
					w.issue.Forward(dest, insn.Results[di], insn.Group)
				}
			}

			insn.CommitReady = true
			w.Written++
			head[i] = nil
		}
	}
}
