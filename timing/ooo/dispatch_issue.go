package ooo

// reservationStation holds dispatched-but-not-yet-issued instructions for
// one or more ports, with a per-cycle dispatch quota and per-port ready
// queues (the oldest ready instruction on a port issues first).
type reservationStation struct {
	capacity            int
	dispatchRatePerCycle int
	occupancy           int
	dispatchedThisCycle int
	readyQueues         map[int][]*Instruction
}

func newReservationStation(capacity, dispatchRate int) *reservationStation {
	return &reservationStation{
		capacity:            capacity,
		dispatchRatePerCycle: dispatchRate,
		readyQueues:         make(map[int][]*Instruction),
	}
}

// timedWakeup is a scheduled non-zero-latency forward: the value becomes
// visible to insn's operand at cycle due.
type timedWakeup struct {
	due          uint64
	insn         *Instruction
	operandIndex int
	value        RegisterValue
}

// DispatchIssueStats mirrors the stall taxonomy named in §4.4 and §8.
type DispatchIssueStats struct {
	RSStalls        uint64
	AllocStalls     [numBanks]uint64
	PortBusyStalls  uint64
	FrontendStalls  uint64
	BackendStalls   uint64
}

// DispatchIssueUnit holds instructions until their operands are ready,
// then issues them to the execution ports in a round-robin order subject
// to per-port and per-RS capacity.
type DispatchIssueUnit struct {
	cfg *Config

	regs       *RegisterFileSet
	scoreboard *Scoreboard
	depMatrix  *DependencyMatrix
	allocator  PortAllocator

	stations   []*reservationStation
	portToRS   []int // port -> reservation station index
	portBuffers []*PipelineBuffer[*Instruction]

	input *PipelineBuffer[*Instruction]

	timedWakeups  []timedWakeup
	permanentWait []waiter

	now uint64

	Stats DispatchIssueStats
}

// NewDispatchIssueUnit wires a single shared reservation station behind
// every port, matching the default single-cluster configuration; callers
// may reconfigure portToRS for a clustered design.
func NewDispatchIssueUnit(
	cfg *Config,
	regs *RegisterFileSet,
	sb *Scoreboard,
	dm *DependencyMatrix,
	allocator PortAllocator,
	input *PipelineBuffer[*Instruction],
	portBuffers []*PipelineBuffer[*Instruction],
) *DispatchIssueUnit {
	rs := newReservationStation(cfg.ROBSize, cfg.DispatchRatePerRS)
	portToRS := make([]int, len(portBuffers))

	return &DispatchIssueUnit{
		cfg:         cfg,
		regs:        regs,
		scoreboard:  sb,
		depMatrix:   dm,
		allocator:   allocator,
		stations:    []*reservationStation{rs},
		portToRS:    portToRS,
		portBuffers: portBuffers,
		input:       input,
	}
}

// Tick runs one cycle of dispatch/issue: wake-up delivery, permanent-wait
// resolution, dispatch of the input buffer's head, then issue to ports.
func (d *DispatchIssueUnit) Tick() {
	d.now++
	d.allocator.Tick()
	d.advanceWakeups()
	d.scanPermanentWait()
	for _, rs := range d.stations {
		rs.dispatchedThisCycle = 0
	}
	d.dispatch()
	d.issue()
}

func (d *DispatchIssueUnit) advanceWakeups() {
	var remaining []timedWakeup
	for _, w := range d.timedWakeups {
		if w.due != d.now {
			remaining = append(remaining, w)
			continue
		}
		w.insn.Sources[w.operandIndex].Supply(w.value)
		d.pushIfReady(w.insn)
	}
	d.timedWakeups = remaining
}

func (d *DispatchIssueUnit) scanPermanentWait() {
	var remaining []waiter
	for _, w := range d.permanentWait {
		reg := w.insn.Sources[w.operandIndex].Reg
		if !d.scoreboard.IsReady(reg) {
			remaining = append(remaining, w)
			continue
		}
		w.insn.Sources[w.operandIndex].Supply(d.regs.Read(reg))
		d.pushIfReady(w.insn)
	}
	d.permanentWait = remaining
}

func (d *DispatchIssueUnit) dispatch() {
	head := d.input.GetHead()
	for i, insn := range head {
		if insn == nil {
			continue
		}
		if insn.HasException {
			insn.CommitReady = true
			head[i] = nil
			continue
		}

		port, ok := d.allocator.Allocate(insn.SupportedPorts)
		if !ok {
			d.Stats.PortBusyStalls++
			d.input.Stall(true)
			return
		}
		rs := d.stations[d.portToRS[port]]
		if rs.occupancy >= rs.capacity || rs.dispatchedThisCycle >= rs.dispatchRatePerCycle {
			d.allocator.Release(port)
			d.Stats.RSStalls++
			d.input.Stall(true)
			return
		}

		insn.Port = port
		allReady := true
		for si := range insn.Sources {
			src := &insn.Sources[si]
			if src.State == OperandSupplied {
				continue
			}
			if !src.Reg.IsValid() {
				src.State = OperandSupplied
				continue
			}
			if d.scoreboard.IsReady(src.Reg) {
				src.Supply(d.regs.Read(src.Reg))
			} else {
				allReady = false
				d.depMatrix.Add(src.Reg, insn, si)
			}
		}
		for _, dest := range insn.PhysDests {
			d.scoreboard.MarkNotReady(dest)
		}

		rs.occupancy++
		rs.dispatchedThisCycle++
		if allReady {
			rs.readyQueues[port] = append(rs.readyQueues[port], insn)
		}
		head[i] = nil
	}
	d.input.Stall(false)
}

func (d *DispatchIssueUnit) issue() {
	for port, buf := range d.portBuffers {
		if buf.Stalled() {
			continue
		}
		rs := d.stations[d.portToRS[port]]
		q := rs.readyQueues[port]
		if len(q) == 0 {
			if rs.occupancy > 0 {
				d.Stats.BackendStalls++
			} else {
				d.Stats.FrontendStalls++
			}
			continue
		}
		insn := q[0]
		rs.readyQueues[port] = q[1:]
		buf.GetTail()[0] = insn
		d.allocator.Release(port)
		rs.occupancy--
	}
}

func (d *DispatchIssueUnit) pushIfReady(insn *Instruction) {
	for _, src := range insn.Sources {
		if src.Reg.IsValid() && src.State != OperandSupplied {
			return
		}
	}
	rs := d.stations[d.portToRS[insn.Port]]
	rs.readyQueues[insn.Port] = append(rs.readyQueues[insn.Port], insn)
}

// Forward delivers a produced result register to every waiting
// instruction, honoring CanForward's latency: immediate, timed, or
// permanently deferred to a register-file read.
func (d *DispatchIssueUnit) Forward(reg Register, value RegisterValue, fromGroup OpcodeGroup) {
	d.scoreboard.MarkReady(reg)
	for _, w := range d.depMatrix.Take(reg) {
		lat := CanForward(fromGroup, w.insn.Group)
		switch {
		case lat == 0:
			w.insn.Sources[w.operandIndex].Supply(value)
			d.pushIfReady(w.insn)
		case lat > 0:
			d.timedWakeups = append(d.timedWakeups, timedWakeup{
				due: d.now + uint64(lat), insn: w.insn, operandIndex: w.operandIndex, value: value,
			})
		default:
			d.permanentWait = append(d.permanentWait, w)
		}
	}
}

// PurgeFlushed removes flushed instructions from every ready queue, the
// dependency matrix, the timed-wakeup list, and the permanent-wait list,
// releasing each one's execution port and reservation-station slot
// exactly once. Every dispatched instruction holds both (Allocate and
// rs.occupancy++ at dispatch time) until issue releases them; a flushed
// instruction purged out of any of these structures before it issues
// would otherwise hold its port and RS slot forever, leaking both out of
// the allocator/station on every flush.
func (d *DispatchIssueUnit) PurgeFlushed() {
	released := make(map[*Instruction]bool)
	release := func(insn *Instruction) {
		if released[insn] {
			return
		}
		released[insn] = true
		d.allocator.Release(insn.Port)
		d.stations[d.portToRS[insn.Port]].occupancy--
	}

	for _, rs := range d.stations {
		for port, q := range rs.readyQueues {
			var kept []*Instruction
			for _, insn := range q {
				if insn.Flushed {
					release(insn)
					continue
				}
				kept = append(kept, insn)
			}
			rs.readyQueues[port] = kept
		}
	}

	for _, w := range d.depMatrix.Purge() {
		release(w.insn)
	}

	var keptWakeups []timedWakeup
	for _, w := range d.timedWakeups {
		if w.insn.Flushed {
			release(w.insn)
			continue
		}
		keptWakeups = append(keptWakeups, w)
	}
	d.timedWakeups = keptWakeups

	var keptPermanent []waiter
	for _, w := range d.permanentWait {
		if w.insn.Flushed {
			release(w.insn)
			continue
		}
		keptPermanent = append(keptPermanent, w)
	}
	d.permanentWait = keptPermanent
}
