// Package pipeline drives one case through generation, execution and
// comparison, and runs a corpus of cases under a shared RunContext.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/normalize"
	"github.com/deixis/crosscheck/internal/report"
	"github.com/deixis/crosscheck/internal/substrate"
	"github.com/deixis/crosscheck/internal/timing"
	"github.com/deixis/crosscheck/internal/toolchain"
)

// Pipeline classifies cases. One Pipeline serves every mode; the mode
// only selects the generators and substrates it is built with.
type Pipeline struct {
	Ref    toolchain.Generator
	Our    toolchain.Generator
	RefSub substrate.Substrate
	OurSub substrate.Substrate

	Timeout      time.Duration // per execution
	Filter       bool          // strip timing instrumentation before comparing
	SkipExisting bool
	// Existing lists files in the case dir whose presence marks the case
	// as already processed.
	Existing []string

	Log *zap.Logger
	// OnTransition, when set, observes every state change.
	OnTransition func(c *corpus.Case, from, to State)
}

// tracker walks a case through the state table.
type tracker struct {
	p     *Pipeline
	c     *corpus.Case
	state State
}

func (t *tracker) move(to State) {
	if err := Transition(t.state, to); err != nil {
		// A bug in Process, not in the case.
		panic(err)
	}
	if t.p.OnTransition != nil {
		t.p.OnTransition(t.c, t.state, to)
	}
	t.state = to
}

// Process drives c to a verdict. It never returns an error: every
// failure mode maps to a SKIP or FAIL record.
func (p *Pipeline) Process(ctx context.Context, c *corpus.Case) report.Record {
	log := p.logger().With(zap.String("case", c.Rel))
	t := &tracker{p: p, c: c, state: Pending}
	rec := report.Record{Case: c.Rel, Dir: c.Dir}

	if p.SkipExisting && p.processed(c) {
		t.move(Skipped)
		rec.Verdict, rec.Reason = report.Skip, report.ReasonAlreadyProcessed
		return rec
	}

	t.move(Generating)
	refArts, ourArts, err := p.generate(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			t.move(Skipped)
			return interrupted(rec)
		}
		log.Warn("generation failed", zap.Error(err))
		t.move(Failed)
		rec.Verdict, rec.Reason, rec.Detail = report.Fail, report.ReasonUpstreamTool, err.Error()
		return rec
	}

	t.move(Running)
	refOut, refErr := p.execute(ctx, p.RefSub, c, toolchain.Reference, refArts)
	ourOut, ourErr := p.execute(ctx, p.OurSub, c, toolchain.UnderTest, ourArts)

	refRun, refOK := refOut.(substrate.Executed)
	ourRun, ourOK := ourOut.(substrate.Executed)
	if refOK {
		rec.RefMicros = timing.Sample(string(refRun.Output), refRun.Wall)
	}
	if ourOK {
		rec.OurMicros = timing.Sample(string(ourRun.Output), ourRun.Wall)
	}

	switch {
	case ctx.Err() != nil:
		t.move(Skipped)
		return interrupted(rec)
	case (refOK && refRun.TimedOut()) || (ourOK && ourRun.TimedOut()):
		t.move(Skipped)
		rec.Verdict, rec.Reason = report.Skip, report.ReasonTimeout
		rec.Detail = timedOutSides(refOK && refRun.TimedOut(), ourOK && ourRun.TimedOut())
		return rec
	}
	for _, o := range []substrate.Outcome{ourOut, refOut} {
		if lr, ok := o.(substrate.LinkRejected); ok {
			log.Info("link rejected", zap.String("side", string(lr.Side)), zap.String("reason", lr.Reason))
			t.move(Skipped)
			rec.Verdict, rec.Reason = report.Skip, report.ReasonInvalidIR
			rec.Detail = fmt.Sprintf("%s: %s", lr.Side, lr.Reason)
			rec.DiagPath = lr.DiagPath
			return rec
		}
	}
	err = errors.Join(refErr, ourErr)
	if err == nil && (!refOK || !ourOK) {
		err = errors.New("substrate returned no outcome")
	}
	if err != nil {
		log.Warn("execution failed", zap.Error(err))
		t.move(Failed)
		rec.Verdict, rec.Reason, rec.Detail = report.Fail, report.ReasonUpstreamTool, err.Error()
		return rec
	}

	t.move(Comparing)
	refRaw := normalize.WithTrailer(refRun.Output, *refRun.ExitCode)
	ourRaw := normalize.WithTrailer(ourRun.Output, *ourRun.ExitCode)
	if err := persist(c.Dir, refRaw, ourRaw); err != nil {
		log.Warn("persisting outputs", zap.Error(err))
	}

	ref := normalize.Text(string(refRaw), p.Filter)
	our := normalize.Text(string(ourRaw), p.Filter)
	if ref.Equal(our) {
		t.move(Passed)
		rec.Verdict = report.OK
		return rec
	}

	t.move(Failed)
	rec.Verdict = report.Fail
	if !ref.LinesEqual(our) {
		rec.Reason = report.ReasonOutputMismatch
		rec.OutputDiff = Diff(ref.Lines, our.Lines)
	} else {
		rec.Reason = report.ReasonReturnCodeMismatch
	}
	if ref.Marker != our.Marker {
		rec.ReturnDiff = fmt.Sprintf("ref=%s | our=%s", orEmpty(ref.Marker), orEmpty(our.Marker))
	}
	return rec
}

func (p *Pipeline) generate(ctx context.Context, c *corpus.Case) (ref, our []toolchain.Artifact, err error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating case dir: %w", err)
	}
	if ref, err = p.Ref.Generate(ctx, c); err != nil {
		return nil, nil, err
	}
	if our, err = p.Our.Generate(ctx, c); err != nil {
		return nil, nil, err
	}
	return ref, our, nil
}

func (p *Pipeline) execute(ctx context.Context, sub substrate.Substrate, c *corpus.Case, side toolchain.Side, arts []toolchain.Artifact) (substrate.Outcome, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return sub.Execute(ctx, substrate.Request{
		Side:      side,
		Label:     c.Rel,
		Artifacts: arts,
		Stdin:     c.Stdin,
		Dir:       c.Dir,
		Timeout:   p.Timeout,
	})
}

func (p *Pipeline) processed(c *corpus.Case) bool {
	if len(p.Existing) == 0 {
		return false
	}
	for _, name := range p.Existing {
		if _, err := os.Stat(filepath.Join(c.Dir, name)); err != nil {
			return false
		}
	}
	return true
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}

// Diff renders a unified diff of normalized lines, reference first.
func Diff(ref, our []string) string {
	d, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        asDiffLines(ref),
		B:        asDiffLines(our),
		FromFile: "ref",
		ToFile:   "our",
		Context:  3,
	})
	if err != nil {
		return err.Error()
	}
	if len(ref) == 0 || len(our) == 0 {
		d = "(one side empty)\n" + d
	}
	return d
}

func asDiffLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}

func persist(dir string, ref, our []byte) error {
	return errors.Join(
		os.WriteFile(filepath.Join(dir, "run.ref.out"), ref, 0o644),
		os.WriteFile(filepath.Join(dir, "run.our.out"), our, 0o644),
	)
}

func interrupted(rec report.Record) report.Record {
	rec.Verdict, rec.Reason = report.Skip, report.ReasonInterrupted
	return rec
}

func timedOutSides(ref, our bool) string {
	var sides []string
	if ref {
		sides = append(sides, string(toolchain.Reference))
	}
	if our {
		sides = append(sides, string(toolchain.UnderTest))
	}
	return strings.Join(sides, ",") + " timed out"
}

func orEmpty(s string) string {
	if s == "" {
		return "Ø"
	}
	return s
}
