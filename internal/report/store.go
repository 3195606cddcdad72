// Package report aggregates case records into a corpus summary and
// persists them as a text report and a JSON run result.
package report

import (
	"fmt"
	"path"
	"time"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// RunResult is the persisted outcome of one run.
type RunResult struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Mode     string    `json:"mode"`
	Root     string    `json:"root"` // run output directory
	Report   string    `json:"report"`
	Summary  Summary   `json:"summary"`
	Records  []Record  `json:"records"`
}

// ByVerdict returns the records with verdict v.
func ByVerdict(result *RunResult, v Verdict) []Record {
	var out []Record
	for _, r := range result.Records {
		if r.Verdict == v {
			out = append(out, r)
		}
	}
	return out
}

// ByCase returns the record for a case path. A bare file name matches
// when it is unambiguous.
func ByCase(result *RunResult, rel string) (Record, error) {
	var matches []Record
	for _, r := range result.Records {
		if r.Case == rel {
			return r, nil
		}
		if path.Base(r.Case) == rel {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return Record{}, fmt.Errorf("case %q not in run %s", rel, result.ID)
	case 1:
		return matches[0], nil
	default:
		return Record{}, fmt.Errorf("case %q is ambiguous in run %s (%d matches)", rel, result.ID, len(matches))
	}
}
