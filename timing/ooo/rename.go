package ooo

// RenameUnit consumes the head of the decode/rename buffer and, for each
// instruction, replaces architectural operands with physical tags,
// allocates physical destinations, assigns a sequence id, and inserts the
// instruction into the ROB (and LSQ, for memory ops). It performs no
// reordering: a pure transform over head slots.
type RenameUnit struct {
	rat *RegisterAliasTable
	rob *ReorderBuffer
	lsq *LoadStoreQueue

	input  *PipelineBuffer[*Instruction]
	output *PipelineBuffer[*Instruction]

	nextSeq uint64

	RobStalls   uint64
	LSQStalls   uint64
	AllocStalls [numBanks]uint64
}

// NewRenameUnit wires a RenameUnit between a decode-stage input buffer and
// a dispatch-stage output buffer.
func NewRenameUnit(rat *RegisterAliasTable, rob *ReorderBuffer, lsq *LoadStoreQueue, input, output *PipelineBuffer[*Instruction]) *RenameUnit {
	return &RenameUnit{rat: rat, rob: rob, lsq: lsq, input: input, output: output}
}

// Tick renames every non-nil instruction in the input buffer's head,
// stalling (and leaving the head untouched) at the first instruction that
// cannot be admitted this cycle.
func (r *RenameUnit) Tick() {
	head := r.input.GetHead()
	out := r.output.GetTail()

	stalled := false
	for i, insn := range head {
		if stalled {
			break
		}
		if insn == nil {
			continue
		}

		if r.rob.FreeSpace() < 1 {
			r.RobStalls++
			stalled = true
			break
		}
		if insn.IsLoad && r.lsq.LoadSpace() < 1 {
			r.LSQStalls++
			stalled = true
			break
		}
		if insn.IsStore && r.lsq.StoreSpace() < 1 {
			r.LSQStalls++
			stalled = true
			break
		}

		for si := range insn.Sources {
			src := &insn.Sources[si]
			if src.Reg.IsValid() {
				src.Reg = r.rat.GetMapping(src.Reg)
			}
		}

		physDests := make([]Register, 0, len(insn.ArchDests))
		allocFailed := false
		for _, arch := range insn.ArchDests {
			phys, ok := r.rat.Allocate(arch)
			if !ok {
				r.AllocStalls[arch.Type]++
				allocFailed = true
				break
			}
			physDests = append(physDests, phys)
		}
		if allocFailed {
			for _, p := range physDests {
				r.rat.Rewind(p)
			}
			stalled = true
			break
		}
		insn.PhysDests = physDests

		r.nextSeq++
		insn.SequenceID = r.nextSeq

		r.rob.Insert(insn)
		if insn.IsLoad {
			r.lsq.EnqueueLoad(insn)
		}
		if insn.IsStore {
			r.lsq.EnqueueStore(insn)
		}

		out[i] = insn
		head[i] = nil
	}

	r.input.Stall(stalled)
}
