package reaper

import "sort"

// Status is the result of handling one port.
type Status string

const (
	StatusKilled   Status = "killed"
	StatusNotFound Status = "not-found"
	StatusFailed   Status = "failed"
	StatusDryRun   Status = "dry-run"
)

// Outcome is the result for one port.
type Outcome struct {
	Port   int
	PIDs   []int // owners targeted, excluding protected PIDs
	Status Status
	Err    error // set for StatusNotFound and StatusFailed
}

// Report collects the outcomes of a run, ordered by port.
type Report struct {
	Outcomes []Outcome
	counts   map[Status]int
}

func newReport(outcomes []Outcome) *Report {
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Port < outcomes[j].Port
	})

	counts := make(map[Status]int)
	for _, o := range outcomes {
		counts[o.Status]++
	}

	return &Report{Outcomes: outcomes, counts: counts}
}

// Count returns the number of ports with status s.
func (r *Report) Count(s Status) int {
	return r.counts[s]
}

// Matching returns the outcomes with status s.
func (r *Report) Matching(s Status) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == s {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the result for port.
func (r *Report) Outcome(port int) (Outcome, bool) {
	i := sort.Search(len(r.Outcomes), func(i int) bool {
		return r.Outcomes[i].Port >= port
	})
	if i < len(r.Outcomes) && r.Outcomes[i].Port == port {
		return r.Outcomes[i], true
	}
	return Outcome{}, false
}
