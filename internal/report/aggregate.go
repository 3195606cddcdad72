package report

import (
	"sort"
	"sync"
)

// Summary holds corpus-level statistics derived from records.
type Summary struct {
	Total int `json:"total"`
	OK    int `json:"ok"`
	Skip  int `json:"skip"`
	Fail  int `json:"fail"`

	// Timing over OK records whose samples are both positive.
	Timed         int     `json:"timed"`
	MeanRefMicros float64 `json:"mean_ref_us,omitempty"`
	MeanOurMicros float64 `json:"mean_our_us,omitempty"`
	Ratio         float64 `json:"ratio,omitempty"` // ratio of means; zero when Timed is zero
}

// Summarize derives the summary of records. The headline Ratio is the
// ratio of the means, not the mean of per-case ratios.
func Summarize(records []Record) Summary {
	var s Summary
	var sumRef, sumOur float64
	for _, r := range records {
		s.Total++
		switch r.Verdict {
		case OK:
			s.OK++
			if r.Timed() {
				s.Timed++
				sumRef += float64(r.RefMicros)
				sumOur += float64(r.OurMicros)
			}
		case Skip:
			s.Skip++
		default:
			s.Fail++
		}
	}
	if s.Timed > 0 {
		s.MeanRefMicros = sumRef / float64(s.Timed)
		s.MeanOurMicros = sumOur / float64(s.Timed)
		s.Ratio = s.MeanOurMicros / s.MeanRefMicros
	}
	return s
}

// Aggregator collects records from concurrent case workers and returns
// them in corpus order.
type Aggregator struct {
	mu    sync.Mutex
	order map[string]int
	recs  []Record
}

// NewAggregator returns an Aggregator ordering records like cases.
func NewAggregator(cases []string) *Aggregator {
	order := make(map[string]int, len(cases))
	for i, c := range cases {
		order[c] = i
	}
	return &Aggregator{order: order}
}

// Add records the outcome of one case.
func (a *Aggregator) Add(r Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, r)
}

// Records returns a copy of the records sorted by corpus order. Unknown
// cases sort last, by name.
func (a *Aggregator) Records() []Record {
	a.mu.Lock()
	out := append([]Record(nil), a.recs...)
	a.mu.Unlock()

	rank := func(r Record) int {
		if i, ok := a.order[r.Case]; ok {
			return i
		}
		return len(a.order)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i].Case < out[j].Case
	})
	return out
}

// Summary derives the current summary.
func (a *Aggregator) Summary() Summary {
	return Summarize(a.Records())
}
