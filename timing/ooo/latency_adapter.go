package ooo

import "github.com/sarchlab/m2sim/timing/latency"

// tableLatencyLookup adapts timing/latency.Table (used unchanged from the
// in-order pipeline) plus a static per-group port map into the
// LatencyLookup DecodeUnit needs.
type tableLatencyLookup struct {
	table *latency.Table
	ports map[OpcodeGroup][]int
}

// NewTableLatencyLookup builds a LatencyLookup over an existing
// latency.Table, with a default port assignment: ALU ops may use any
// port, branches are routed to port 0, and loads/stores to the last two
// ports (mirroring a typical load/store-unit port split).
func NewTableLatencyLookup(table *latency.Table, numPorts int) LatencyLookup {
	all := make([]int, numPorts)
	for i := range all {
		all[i] = i
	}
	lsPorts := all
	if numPorts >= 2 {
		lsPorts = all[numPorts-2:]
	}

	return &tableLatencyLookup{
		table: table,
		ports: map[OpcodeGroup][]int{
			GroupALU:    all,
			GroupBranch: {0},
			GroupLoad:   lsPorts,
			GroupStore:  lsPorts,
		},
	}
}

// Lookup implements LatencyLookup using fixed per-group defaults; the ALU
// and branch latencies mirror timing/latency.TimingConfig's ALULatency and
// BranchLatency fields.
func (l *tableLatencyLookup) Lookup(group OpcodeGroup) (uint64, uint64, []int) {
	cfg := l.table.Config()
	switch group {
	case GroupBranch:
		return cfg.BranchLatency, 1, l.ports[GroupBranch]
	case GroupLoad:
		return cfg.LoadLatency, 1, l.ports[GroupLoad]
	case GroupStore:
		return cfg.StoreLatency, 1, l.ports[GroupStore]
	default:
		return cfg.ALULatency, 1, l.ports[GroupALU]
	}
}
