package ooo_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m2sim/emu"
	"github.com/sarchlab/m2sim/timing/ooo"
)

func loadAt(seq uint64, addr uint64, size int) *ooo.Instruction {
	insn := ooo.NewInstruction(seq, 0, nil, addr)
	insn.SequenceID = seq
	insn.IsLoad = true
	insn.MemAddrs = []ooo.MemAddress{{Addr: addr, Size: size}}
	return insn
}

func storeAt(seq uint64, addr uint64, payload []byte) *ooo.Instruction {
	insn := ooo.NewInstruction(seq, 0, nil, addr)
	insn.SequenceID = seq
	insn.IsStore = true
	insn.MemAddrs = []ooo.MemAddress{{Addr: addr, Size: len(payload)}}
	insn.MemData = []ooo.RegisterValue{ooo.BytesValue(payload)}
	return insn
}

var _ = Describe("MMU", func() {
	var (
		cfg *ooo.Config
		mem *emu.Memory
		mmu *ooo.MMU
	)

	BeforeEach(func() {
		cfg = ooo.DefaultConfig()
		mem = emu.NewMemory()
		mmu = ooo.NewMMU(cfg, ooo.IdentityPageTable{}, mem)
	})

	// P6: a store whose access straddles a cache-line boundary is split
	// into per-line packets and reassembled transparently on read-back.
	It("splits a write across a cache-line boundary and reassembles it on read", func() {
		cfg.CacheLineWidth = 64
		payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
		store := storeAt(1, 0x3C, payload) // line boundary at 0x40: 4 bytes each side

		Expect(mmu.RequestWrite(store, [][]byte{payload})).To(BeTrue())
		mmu.Tick()

		Expect(mmu.CompletedStores()).To(ContainElement(store))
		Expect(mem.ReadBlock(0x3C, 8)).To(Equal(payload))

		load := loadAt(2, 0x3C, 8)
		Expect(mmu.RequestRead(load)).To(BeTrue())
		mmu.Tick()

		Expect(mmu.CompletedLoads()).To(ContainElement(load))
		Expect(load.MemData[0].Bytes()).To(Equal(payload))
	})

	// P5: the MMU must never issue more bytes than its configured
	// per-cycle bandwidth in a single Tick.
	It("caps issued load bytes at the configured bandwidth per cycle", func() {
		cfg.LoadBandwidth = 8
		a := loadAt(1, 0x1000, 8)
		b := loadAt(2, 0x2000, 8)

		Expect(mmu.RequestRead(a)).To(BeTrue())
		Expect(mmu.RequestRead(b)).To(BeTrue())

		mmu.Tick()
		Expect(mmu.CompletedLoads()).To(HaveLen(1))

		mmu.Tick()
		Expect(mmu.CompletedLoads()).To(HaveLen(1))
	})

	It("refuses admission once the request-count limit is reached", func() {
		cfg.RequestLimit = 1
		a := loadAt(1, 0x10, 8)
		b := loadAt(2, 0x20, 8)

		Expect(mmu.RequestRead(a)).To(BeTrue())
		Expect(mmu.RequestRead(b)).To(BeFalse())
	})

	// P5: Exclusive mode never admits a load and a store concurrently.
	It("never admits a load alongside a pending store in Exclusive mode", func() {
		cfg.ExclusiveRequests = true
		store := storeAt(1, 0x50, []byte{1, 2, 3, 4})
		Expect(mmu.RequestWrite(store, [][]byte{{1, 2, 3, 4}})).To(BeTrue())

		load := loadAt(2, 0x60, 8)
		Expect(mmu.RequestRead(load)).To(BeFalse())
	})

	It("reports no pending requests once every load and store has completed", func() {
		load := loadAt(1, 0x70, 8)
		mmu.RequestRead(load)
		Expect(mmu.HasPendingRequests()).To(BeTrue())

		mmu.Tick()
		Expect(mmu.HasPendingRequests()).To(BeFalse())
	})
})
