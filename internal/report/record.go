package report

import "math"

// Verdict is the terminal classification of a case.
type Verdict string

const (
	OK   Verdict = "OK"
	Skip Verdict = "SKIP"
	Fail Verdict = "FAIL"
)

// Reason qualifies a SKIP or FAIL verdict.
type Reason string

const (
	ReasonInvalidIR          Reason = "invalid-intermediate-form"
	ReasonTimeout            Reason = "timeout"
	ReasonOutputMismatch     Reason = "output-mismatch"
	ReasonReturnCodeMismatch Reason = "return-code-mismatch"
	ReasonUpstreamTool       Reason = "upstream-tool-error"
	ReasonInterrupted        Reason = "user-interrupted"
	ReasonAlreadyProcessed   Reason = "already-processed"
)

// Record is the outcome of one case.
type Record struct {
	Case       string  `json:"case"` // relative path
	Verdict    Verdict `json:"verdict"`
	Reason     Reason  `json:"reason,omitempty"`
	Detail     string  `json:"detail,omitempty"` // tool error text, link reason, ...
	RefMicros  int64   `json:"ref_us,omitempty"`
	OurMicros  int64   `json:"our_us,omitempty"`
	OutputDiff string  `json:"output_diff,omitempty"`
	ReturnDiff string  `json:"return_diff,omitempty"`
	DiagPath   string  `json:"diag_path,omitempty"` // link diagnostics side file
	Dir        string  `json:"dir,omitempty"`
}

// Timed reports whether both timing samples are positive.
func (r Record) Timed() bool {
	return r.RefMicros > 0 && r.OurMicros > 0
}

// Ratio is our/ref. It is +Inf when the reference sample is zero or
// missing, and NaN when only the under-test sample is.
func (r Record) Ratio() float64 {
	if r.RefMicros <= 0 {
		return math.Inf(1)
	}
	if r.OurMicros <= 0 {
		return math.NaN()
	}
	return float64(r.OurMicros) / float64(r.RefMicros)
}

// Label renders the verdict with its reason, e.g. "SKIP (timeout)".
func (r Record) Label() string {
	if r.Reason == "" {
		return string(r.Verdict)
	}
	return string(r.Verdict) + " (" + string(r.Reason) + ")"
}
