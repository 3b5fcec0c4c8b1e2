package ooo_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m2sim/emu"
	"github.com/sarchlab/m2sim/timing/ooo"
)

// commitHarness satisfies ooo.CommitSink for ROB-only tests: a RAT and an
// LSQ, wired the same way Core wires them, without the rest of the core.
type commitHarness struct {
	rat *ooo.RegisterAliasTable
	lsq *ooo.LoadStoreQueue
}

func newCommitHarness(cfg *ooo.Config) *commitHarness {
	mmu := ooo.NewMMU(cfg, ooo.IdentityPageTable{}, emu.NewMemory())
	return &commitHarness{
		rat: ooo.NewRegisterAliasTable(cfg),
		lsq: ooo.NewLoadStoreQueue(cfg, mmu),
	}
}

func (h *commitHarness) RAT() *ooo.RegisterAliasTable { return h.rat }
func (h *commitHarness) LSQ() *ooo.LoadStoreQueue     { return h.lsq }

func aluInsn(id uint64) *ooo.Instruction {
	insn := ooo.NewInstruction(id, 0, nil, 0)
	insn.SequenceID = id
	insn.CommitReady = true
	return insn
}

var _ = Describe("ReorderBuffer", func() {
	var (
		cfg     *ooo.Config
		rob     *ooo.ReorderBuffer
		harness *commitHarness
	)

	BeforeEach(func() {
		cfg = ooo.DefaultConfig()
		rob = ooo.NewReorderBuffer(cfg)
		harness = newCommitHarness(cfg)
	})

	It("reports free space against its configured capacity", func() {
		Expect(rob.FreeSpace()).To(Equal(cfg.ROBSize))
		rob.Insert(aluInsn(1))
		Expect(rob.FreeSpace()).To(Equal(cfg.ROBSize - 1))
	})

	// P1: the sequence of instructionIds written back, filtered by
	// non-flushed, is strictly increasing and contiguous.
	It("retires ready instructions strictly in program order", func() {
		for i := uint64(1); i <= 3; i++ {
			rob.Insert(aluInsn(i))
		}
		rob.Commit(10, harness)
		Expect(rob.Retired()).To(Equal(uint64(3)))
		Expect(rob.Len()).To(Equal(0))
	})

	It("stops committing at the first not-ready instruction", func() {
		rob.Insert(aluInsn(1))
		blocked := ooo.NewInstruction(2, 0, nil, 0)
		blocked.SequenceID = 2
		rob.Insert(blocked)
		rob.Insert(aluInsn(3))

		rob.Commit(10, harness)
		Expect(rob.Retired()).To(Equal(uint64(1)))
		Expect(rob.Len()).To(Equal(2))
		Expect(rob.Head()).To(Equal(blocked))
	})

	It("honors MaxCommitWidth", func() {
		for i := uint64(1); i <= 5; i++ {
			rob.Insert(aluInsn(i))
		}
		rob.Commit(2, harness)
		Expect(rob.Retired()).To(Equal(uint64(2)))
		Expect(rob.Len()).To(Equal(3))
	})

	// P7: after flush(afterInsnId), no structure contains an instruction
	// with instructionId > afterInsnId, and every physical tag allocated
	// to those instructions is back on the free list.
	It("discards everything younger than the flush point and rewinds its tags", func() {
		rat := ooo.NewRegisterAliasTable(cfg)
		x1 := ooo.Register{Type: ooo.BankGeneral, Tag: 1}

		younger := make([]*ooo.Instruction, 0, 3)
		for i := uint64(1); i <= 3; i++ {
			insn := ooo.NewInstruction(i, 0, nil, 0)
			insn.SequenceID = i
			phys, ok := rat.Allocate(x1)
			Expect(ok).To(BeTrue())
			insn.PhysDests = []ooo.Register{phys}
			rob.Insert(insn)
			younger = append(younger, insn)
		}

		before := rat.FreeCount(ooo.BankGeneral)
		rob.Flush(1, rat)

		Expect(rob.Len()).To(Equal(1))
		Expect(rob.Head().InstructionID).To(Equal(uint64(1)))
		for _, insn := range younger[1:] {
			Expect(insn.Flushed).To(BeTrue())
		}
		Expect(rat.FreeCount(ooo.BankGeneral)).To(Equal(before + 2))
	})

	// Scenario 5: ROB-full backpressure. With a tiny ROB, RenameUnit must
	// stall admission rather than overrun capacity, and every instruction
	// still retires once the ROB drains.
	It("backpressures RenameUnit when full and drains without livelock", func() {
		small := ooo.DefaultConfig()
		small.ROBSize = 4
		rob = ooo.NewReorderBuffer(small)
		mmu := ooo.NewMMU(small, ooo.IdentityPageTable{}, emu.NewMemory())
		lsq := ooo.NewLoadStoreQueue(small, mmu)
		rat := ooo.NewRegisterAliasTable(small)

		in := ooo.NewPipelineBuffer[*ooo.Instruction](8)
		out := ooo.NewPipelineBuffer[*ooo.Instruction](8)
		rn := ooo.NewRenameUnit(rat, rob, lsq, in, out)

		const total = 8
		for i := 0; i < total; i++ {
			insn := ooo.NewInstruction(uint64(i+1), 0, nil, 0)
			in.GetTail()[i] = insn
		}
		in.Tick()

		rn.Tick()
		Expect(rob.Len()).To(Equal(4))
		Expect(rn.RobStalls).To(BeNumerically(">=", 1))

		// Drain the ROB so the stalled remainder can be admitted.
		harness := &commitHarness{rat: rat, lsq: lsq}
		for _, insn := range out.GetTail() {
			if insn != nil {
				insn.CommitReady = true
			}
		}
		rob.Commit(4, harness)
		Expect(rob.Len()).To(Equal(0))

		rn.Tick()
		Expect(rob.Len()).To(Equal(4))
		for _, insn := range out.GetTail() {
			if insn != nil {
				insn.CommitReady = true
			}
		}
		rob.Commit(4, harness)

		Expect(rob.Retired()).To(Equal(uint64(total)))
	})
})
