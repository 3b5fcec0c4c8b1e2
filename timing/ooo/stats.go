package ooo

import "strconv"

// Sink is the statistics collaborator named in §6: a string key/value
// store enumerated once at the end of a run.
type Sink interface {
	Set(key, value string)
	Enumerate() []Entry
}

// Entry is one key/value statistics pair.
type Entry struct {
	Key   string
	Value string
}

// memSink is the default in-memory Sink. The OoO core's Stats.Report
// writes into it; the in-order pipeline does not use it and keeps its own
// Statistics struct.
type memSink struct {
	order  []string
	values map[string]string
}

// NewSink creates an empty in-memory statistics sink.
func NewSink() Sink {
	return &memSink{values: make(map[string]string)}
}

func (s *memSink) Set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.order = append(s.order, key)
	}
	s.values[key] = value
}

func (s *memSink) Enumerate() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, Entry{Key: k, Value: s.values[k]})
	}
	return out
}

// Stats is the OoO core's statistics snapshot, reported through a Sink via
// Report().
type Stats struct {
	Cycles               uint64
	Retired              uint64
	Flushes              uint64
	BranchExecuted        uint64
	BranchMispredicts     uint64
	ROBStalls            uint64
	LSQStalls            uint64
	RSStalls             uint64
	PortBusyStalls       uint64
	FrontendStalls       uint64
	BackendStalls        uint64
	LoadViolations       uint64
	IdleTicks            uint64
	ContextSwitches      uint64
	CacheHits            uint64
	CacheMisses          uint64
}

// IPC returns instructions retired per cycle.
func (s Stats) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Retired) / float64(s.Cycles)
}

// MispredictRate returns the fraction of executed branches mispredicted.
func (s Stats) MispredictRate() float64 {
	if s.BranchExecuted == 0 {
		return 0
	}
	return float64(s.BranchMispredicts) / float64(s.BranchExecuted)
}

// Report enumerates s into sink as the string key/value pairs named in §6.
func (s Stats) Report(sink Sink) {
	u := strconv.FormatUint
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

	sink.Set("cycles", u(s.Cycles, 10))
	sink.Set("retired", u(s.Retired, 10))
	sink.Set("ipc", f(s.IPC()))
	sink.Set("flushes", u(s.Flushes, 10))
	sink.Set("branch.executed", u(s.BranchExecuted, 10))
	sink.Set("branch.mispredict", u(s.BranchMispredicts, 10))
	sink.Set("branch.mispredict_rate", f(s.MispredictRate()))
	sink.Set("stalls.rob", u(s.ROBStalls, 10))
	sink.Set("stalls.lsq", u(s.LSQStalls, 10))
	sink.Set("stalls.rs", u(s.RSStalls, 10))
	sink.Set("stalls.port_busy", u(s.PortBusyStalls, 10))
	sink.Set("stalls.frontend", u(s.FrontendStalls, 10))
	sink.Set("stalls.backend", u(s.BackendStalls, 10))
	sink.Set("lsq.load_violations", u(s.LoadViolations, 10))
	sink.Set("idle_ticks", u(s.IdleTicks, 10))
	sink.Set("context_switches", u(s.ContextSwitches, 10))
	sink.Set("cache.hits", u(s.CacheHits, 10))
	sink.Set("cache.misses", u(s.CacheMisses, 10))
}
