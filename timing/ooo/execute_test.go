package ooo_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m2sim/emu"
	"github.com/sarchlab/m2sim/timing/ooo"
)

var _ = Describe("ExecutionUnit", func() {
	var (
		cfg *ooo.Config
		lsq *ooo.LoadStoreQueue
		in  *ooo.PipelineBuffer[*ooo.Instruction]
		out *ooo.PipelineBuffer[*ooo.Instruction]
	)

	BeforeEach(func() {
		cfg = ooo.DefaultConfig()
		mmu := ooo.NewMMU(cfg, ooo.IdentityPageTable{}, emu.NewMemory())
		lsq = ooo.NewLoadStoreQueue(cfg, mmu)
		in = ooo.NewPipelineBuffer[*ooo.Instruction](1)
		out = ooo.NewPipelineBuffer[*ooo.Instruction](1)
	})

	It("produces a completion after the instruction's configured latency", func() {
		eu := ooo.NewExecutionUnit(true, 1, lsq, in, out)
		insn := ooo.NewInstruction(1, 0, nil, 0)
		insn.Latency = 2

		in.GetTail()[0] = insn
		in.Tick()

		eu.Tick() // starts, remaining = 2
		Expect(out.GetTail()[0]).To(BeNil())
		eu.Tick() // remaining 2 -> 1
		Expect(out.GetTail()[0]).To(BeNil())
		eu.Tick() // remaining 1 -> 0, completes
		Expect(out.GetTail()[0]).To(Equal(insn))
	})

	It("enforces non-pipelined throughput between successive starts", func() {
		eu := ooo.NewExecutionUnit(false, 3, lsq, in, out)
		first := ooo.NewInstruction(1, 0, nil, 0)
		first.Latency = 1
		second := ooo.NewInstruction(2, 0, nil, 0)
		second.Latency = 1

		in.GetTail()[0] = first
		in.Tick()
		eu.Tick() // starts first
		eu.Tick() // completes first, busyUntil = now+3
		out.Tick()
		Expect(out.GetHead()[0]).To(Equal(first))

		in.GetTail()[0] = second
		in.Tick()
		eu.Tick() // throughput not satisfied yet, second does not start
		out.Tick()
		Expect(out.GetHead()[0]).To(BeNil())
	})

	It("signals a flush on a branch misprediction", func() {
		eu := ooo.NewExecutionUnit(true, 1, lsq, in, out)
		insn := ooo.NewInstruction(5, 0, nil, 0)
		insn.IsBranch = true
		insn.Latency = 1
		insn.Prediction = ooo.Prediction{Taken: false}
		insn.ActualTaken = true
		insn.ActualTarget = 0x400

		in.GetTail()[0] = insn
		in.Tick()
		eu.Tick() // starts, remaining = 1
		eu.Tick() // remaining 1 -> 0, completes

		Expect(eu.ShouldFlush()).To(BeTrue())
		Expect(eu.FlushInsnID()).To(Equal(uint64(5)))
		Expect(eu.FlushAddress()).To(Equal(uint64(0x400)))
	})

	It("produces no completion for a flushed in-flight instruction", func() {
		eu := ooo.NewExecutionUnit(true, 1, lsq, in, out)
		insn := ooo.NewInstruction(1, 0, nil, 0)
		insn.Latency = 1

		in.GetTail()[0] = insn
		in.Tick()
		eu.Tick()
		insn.Flushed = true
		eu.PurgeFlushed()
		eu.Tick()

		Expect(out.GetTail()[0]).To(BeNil())
	})
})

var _ = Describe("WritebackUnit", func() {
	It("writes results, forwards to dependents, and marks commit-ready", func() {
		cfg := ooo.DefaultConfig()
		regs := ooo.NewRegisterFileSet(cfg)
		sb := ooo.NewScoreboard(cfg)
		dm := ooo.NewDependencyMatrix()
		alloc := ooo.NewPortAllocator(cfg.NumPorts)
		issueInput := ooo.NewPipelineBuffer[*ooo.Instruction](1)
		portBuf := ooo.NewPipelineBuffer[*ooo.Instruction](1)
		issue := ooo.NewDispatchIssueUnit(cfg, regs, sb, dm, alloc, issueInput, []*ooo.PipelineBuffer[*ooo.Instruction]{portBuf})

		dest := ooo.Register{Type: ooo.BankGeneral, Tag: 11}
		sb.MarkNotReady(dest)

		completion := ooo.NewPipelineBuffer[*ooo.Instruction](1)
		wb := ooo.NewWritebackUnit(regs, issue, []*ooo.PipelineBuffer[*ooo.Instruction]{completion})

		insn := ooo.NewInstruction(1, 0, nil, 0)
		insn.PhysDests = []ooo.Register{dest}
		insn.Results = []ooo.RegisterValue{ooo.Uint64Value(77)}
		insn.Group = ooo.GroupALU

		completion.GetTail()[0] = insn
		completion.Tick()
		wb.Tick()

		Expect(regs.Read(dest).Uint64()).To(Equal(uint64(77)))
		Expect(sb.IsReady(dest)).To(BeTrue())
		Expect(insn.CommitReady).To(BeTrue())
		Expect(wb.Written).To(Equal(uint64(1)))
	})

	It("skips a flushed instruction without writing its results", func() {
		cfg := ooo.DefaultConfig()
		regs := ooo.NewRegisterFileSet(cfg)
		sb := ooo.NewScoreboard(cfg)
		dm := ooo.NewDependencyMatrix()
		alloc := ooo.NewPortAllocator(cfg.NumPorts)
		issueInput := ooo.NewPipelineBuffer[*ooo.Instruction](1)
		portBuf := ooo.NewPipelineBuffer[*ooo.Instruction](1)
		issue := ooo.NewDispatchIssueUnit(cfg, regs, sb, dm, alloc, issueInput, []*ooo.PipelineBuffer[*ooo.Instruction]{portBuf})

		dest := ooo.Register{Type: ooo.BankGeneral, Tag: 12}
		completion := ooo.NewPipelineBuffer[*ooo.Instruction](1)
		wb := ooo.NewWritebackUnit(regs, issue, []*ooo.PipelineBuffer[*ooo.Instruction]{completion})

		insn := ooo.NewInstruction(1, 0, nil, 0)
		insn.PhysDests = []ooo.Register{dest}
		insn.Results = []ooo.RegisterValue{ooo.Uint64Value(5)}
		insn.Flushed = true

		completion.GetTail()[0] = insn
		completion.Tick()
		wb.Tick()

		Expect(regs.Read(dest).Uint64()).To(Equal(uint64(0)))
		Expect(wb.Written).To(Equal(uint64(0)))
	})
})
