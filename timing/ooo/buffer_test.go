package ooo_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m2sim/timing/ooo"
)

var _ = Describe("PipelineBuffer", func() {
	var buf *ooo.PipelineBuffer[uint32]

	BeforeEach(func() {
		buf = ooo.NewPipelineBuffer[uint32](2)
	})

	It("starts with zero-valued head and tail", func() {
		Expect(buf.GetHead()).To(Equal([]uint32{0, 0}))
		Expect(buf.GetTail()).To(Equal([]uint32{0, 0}))
	})

	// P8: a value written to the tail in cycle N, with no stall in N, is
	// exactly the value at the head in cycle N+1.
	It("moves a tail write to the head on the next Tick", func() {
		buf.GetTail()[0] = 42
		buf.Tick()
		Expect(buf.GetHead()[0]).To(Equal(uint32(42)))
	})

	It("keeps the prior head visible while stalled", func() {
		buf.GetTail()[0] = 7
		buf.Tick()
		Expect(buf.GetHead()[0]).To(Equal(uint32(7)))

		buf.Stall(true)
		buf.GetTail()[0] = 99
		buf.Tick()
		Expect(buf.GetHead()[0]).To(Equal(uint32(7)))

		buf.Stall(false)
		buf.Tick()
		Expect(buf.GetHead()[0]).To(Equal(uint32(99)))
	})

	It("overwrites every slot in both rows on Fill", func() {
		buf.GetTail()[0] = 5
		buf.Tick()
		buf.Fill(0)
		Expect(buf.GetHead()).To(Equal([]uint32{0, 0}))
		Expect(buf.GetTail()).To(Equal([]uint32{0, 0}))
	})

	It("reports its configured width", func() {
		Expect(buf.Width()).To(Equal(2))
	})
})
