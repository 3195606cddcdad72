// Package normalize turns captured program output into the canonical form
// both sides of a comparison are judged on.
package normalize

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Separator is the line that divides program output from the return-code marker.
const Separator = "---"

var (
	timerRE = regexp.MustCompile(`(?i)(?:Timer@[0-9A-Fa-f\-]+:\s*\d+H-\d+M-\d+S-\d+us)|(?:TOTAL:\s*\d+H-\d+M-\d+S-\d+us)`)
	blankRE = regexp.MustCompile(`[ \t]{2,}`)
)

// Output is normalized program output.
type Output struct {
	Lines  []string
	Marker string // e.g. "RETVAL=0"; empty when the run had no trailer
}

// Equal reports whether both the lines and the marker match.
func (o Output) Equal(p Output) bool {
	return o.LinesEqual(p) && o.Marker == p.Marker
}

// LinesEqual reports whether the primary output lines match.
func (o Output) LinesEqual(p Output) bool {
	return slices.Equal(o.Lines, p.Lines)
}

// Split separates raw output at the first Separator line. CRLF line endings
// are treated as LF.
func Split(raw string) (lines []string, marker string) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	all := strings.Split(raw, "\n")
	if n := len(all); n > 0 && all[n-1] == "" {
		all = all[:n-1]
	}
	i := slices.Index(all, Separator)
	if i < 0 {
		return all, ""
	}
	if i+1 < len(all) {
		marker = all[i+1]
	}
	return all[:i], marker
}

// Clean strips timing instrumentation, collapses runs of spaces and tabs,
// and trims trailing whitespace. Lines that held nothing but
// instrumentation are dropped, as are trailing blank lines. With filter
// false only trailing blank lines are dropped. Clean is idempotent.
func Clean(lines []string, filter bool) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if filter {
			stripped := timerRE.ReplaceAllString(line, "")
			hadTimer := len(stripped) != len(line)
			stripped = strings.TrimRight(blankRE.ReplaceAllString(stripped, " "), " \t")
			if hadTimer && strings.TrimSpace(stripped) == "" {
				continue
			}
			line = stripped
		}
		out = append(out, line)
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return out
}

// Text splits and cleans raw in one step.
func Text(raw string, filter bool) Output {
	lines, marker := Split(raw)
	return Output{
		Lines:  Clean(lines, filter),
		Marker: strings.TrimSpace(marker),
	}
}

// WithTrailer appends the return-code trailer used by persisted run outputs.
func WithTrailer(output []byte, exitCode int) []byte {
	out := slices.Clip(output)
	out = append(out, "\n"+Separator+"\nRETVAL="...)
	out = strconv.AppendInt(out, int64(exitCode), 10)
	return append(out, '\n')
}
