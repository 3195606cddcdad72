package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/logging"
	"github.com/deixis/crosscheck/internal/report"
	"github.com/deixis/crosscheck/internal/runner"
	"github.com/deixis/crosscheck/internal/substrate"
	"github.com/deixis/crosscheck/internal/toolchain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGen struct {
	side  toolchain.Side
	err   error
	calls atomic.Int32
}

func (g *fakeGen) Side() toolchain.Side { return g.side }

func (g *fakeGen) Generate(ctx context.Context, c *corpus.Case) ([]toolchain.Artifact, error) {
	g.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.err != nil {
		return nil, g.err
	}
	path := filepath.Join(c.Dir, string(g.side)+".ll")
	if err := os.WriteFile(path, []byte("; ir\n"), 0o644); err != nil {
		return nil, err
	}
	return []toolchain.Artifact{{Side: g.side, Kind: toolchain.Intermediate, Path: path}}, nil
}

type fakeSub struct {
	fn func(ctx context.Context, req substrate.Request) (substrate.Outcome, error)
}

func (s *fakeSub) Name() string { return "fake" }

func (s *fakeSub) Execute(ctx context.Context, req substrate.Request) (substrate.Outcome, error) {
	return s.fn(ctx, req)
}

func executed(out string, code int) substrate.Executed {
	return substrate.Executed{ExitCode: &code, Output: []byte(out), Wall: 5 * time.Millisecond}
}

func returns(o substrate.Outcome, err error) *fakeSub {
	return &fakeSub{fn: func(context.Context, substrate.Request) (substrate.Outcome, error) { return o, err }}
}

func newPipeline(t *testing.T, refSub, ourSub substrate.Substrate) *Pipeline {
	t.Helper()
	return &Pipeline{
		Ref:     &fakeGen{side: toolchain.Reference},
		Our:     &fakeGen{side: toolchain.UnderTest},
		RefSub:  refSub,
		OurSub:  ourSub,
		Timeout: time.Second,
		Filter:  true,
		Log:     zaptest.NewLogger(t),
	}
}

func newCase(t *testing.T, rel string) *corpus.Case {
	t.Helper()
	c := &corpus.Case{Rel: rel, Source: "/src/" + rel}
	c.Place(t.TempDir())
	return c
}

func TestTransition(t *testing.T) {
	allowed := [][2]State{
		{Pending, Generating}, {Pending, Skipped},
		{Generating, Running}, {Generating, Failed}, {Generating, Skipped},
		{Running, Comparing}, {Running, Skipped}, {Running, Failed},
		{Comparing, Passed}, {Comparing, Failed},
	}
	for _, tr := range allowed {
		assert.NoError(t, Transition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	denied := [][2]State{
		{Pending, Running}, {Pending, Passed}, {Generating, Passed},
		{Comparing, Skipped}, {Passed, Failed}, {Failed, Pending}, {Skipped, Generating},
	}
	for _, tr := range denied {
		assert.Error(t, Transition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	assert.True(t, Passed.Terminal())
	assert.False(t, Comparing.Terminal())
}

func TestProcess_OK(t *testing.T) {
	ref := returns(executed("1\n2\nTOTAL: 0H-0M-2S-0us\n", 0), nil)
	our := returns(executed("1\n2  \nTimer@ab-12: 0H-0M-0S-5us\nTOTAL: 0H-0M-3S-0us\n", 0), nil)
	p := newPipeline(t, ref, our)

	var seen []State
	p.OnTransition = func(_ *corpus.Case, _, to State) { seen = append(seen, to) }

	c := newCase(t, "functional/00_main.sy")
	rec := p.Process(context.Background(), c)

	assert.Equal(t, report.OK, rec.Verdict)
	assert.Empty(t, rec.Reason)
	assert.Equal(t, int64(2_000_000), rec.RefMicros)
	assert.Equal(t, int64(3_000_000), rec.OurMicros)
	assert.InDelta(t, 1.5, rec.Ratio(), 1e-9)
	if diff := cmp.Diff([]State{Generating, Running, Comparing, Passed}, seen); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(c.Dir, "run.ref.out"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n---\nRETVAL=0\n"))
	assert.FileExists(t, filepath.Join(c.Dir, "run.our.out"))
}

func TestProcess_WallClockFallback(t *testing.T) {
	p := newPipeline(t, returns(executed("x\n", 0), nil), returns(executed("x\n", 0), nil))
	rec := p.Process(context.Background(), newCase(t, "a.sy"))
	assert.Equal(t, report.OK, rec.Verdict)
	assert.Equal(t, int64(5000), rec.RefMicros)
	assert.Equal(t, int64(5000), rec.OurMicros)
}

func TestProcess_OutputMismatch(t *testing.T) {
	p := newPipeline(t, returns(executed("1\n2\n", 0), nil), returns(executed("1\n3\n", 4), nil))
	rec := p.Process(context.Background(), newCase(t, "a.sy"))

	assert.Equal(t, report.Fail, rec.Verdict)
	assert.Equal(t, report.ReasonOutputMismatch, rec.Reason)
	assert.Contains(t, rec.OutputDiff, "--- ref")
	assert.Contains(t, rec.OutputDiff, "-2\n")
	assert.Contains(t, rec.OutputDiff, "+3\n")
	assert.Equal(t, "ref=RETVAL=0 | our=RETVAL=4", rec.ReturnDiff)
}

func TestProcess_ReturnCodeMismatch(t *testing.T) {
	p := newPipeline(t, returns(executed("same\n", 0), nil), returns(executed("same\n", 1), nil))
	rec := p.Process(context.Background(), newCase(t, "a.sy"))

	assert.Equal(t, report.Fail, rec.Verdict)
	assert.Equal(t, report.ReasonReturnCodeMismatch, rec.Reason)
	assert.Empty(t, rec.OutputDiff)
	assert.Equal(t, "ref=RETVAL=0 | our=RETVAL=1", rec.ReturnDiff)
}

func TestProcess_TimeoutIsSkip(t *testing.T) {
	timedOut := substrate.Executed{Output: []byte("partial"), Wall: time.Second}
	p := newPipeline(t, returns(executed("1\n", 0), nil), returns(timedOut, nil))
	rec := p.Process(context.Background(), newCase(t, "a.sy"))

	assert.Equal(t, report.Skip, rec.Verdict)
	assert.Equal(t, report.ReasonTimeout, rec.Reason)
	assert.Equal(t, "our timed out", rec.Detail)
}

type linkHangRunner struct{}

func (linkHangRunner) Run(_ context.Context, inv runner.Invocation) (*runner.Result, error) {
	if filepath.Base(inv.Argv[0]) == "llvm-link" {
		return &runner.Result{TimedOut: true, ExitCode: -1, Wall: time.Second}, nil
	}
	return &runner.Result{Output: []byte("1\n")}, nil
}

func TestProcess_HungLinkIsTimeoutSkip(t *testing.T) {
	bc := filepath.Join(t.TempDir(), "sylib.bc")
	require.NoError(t, os.WriteFile(bc, nil, 0o644))
	lli := &substrate.Interpreter{
		Runner:         linkHangRunner{},
		LLVMLink:       "llvm-link",
		LLI:            "lli",
		RuntimeBitcode: bc,
	}
	p := newPipeline(t, lli, lli)
	rec := p.Process(context.Background(), newCase(t, "functional/00_main.sy"))

	assert.Equal(t, report.Skip, rec.Verdict)
	assert.Equal(t, report.ReasonTimeout, rec.Reason)
	assert.Equal(t, "ref,our timed out", rec.Detail)
}

func TestProcess_LinkRejectedIsSkip(t *testing.T) {
	rejected := substrate.LinkRejected{
		Side:     toolchain.UnderTest,
		Reason:   "invalid IR: dominance",
		DiagPath: "/out/a/our.link.err",
	}
	p := newPipeline(t, returns(executed("1\n", 0), nil), returns(rejected, nil))
	rec := p.Process(context.Background(), newCase(t, "a.sy"))

	assert.Equal(t, report.Skip, rec.Verdict)
	assert.Equal(t, report.ReasonInvalidIR, rec.Reason)
	assert.Equal(t, "our: invalid IR: dominance", rec.Detail)
	assert.Equal(t, "/out/a/our.link.err", rec.DiagPath)
}

func TestProcess_TimeoutOutranksLinkRejection(t *testing.T) {
	rejected := substrate.LinkRejected{Side: toolchain.UnderTest, Reason: "invalid IR (llvm-link failed)"}
	p := newPipeline(t, returns(substrate.Executed{}, nil), returns(rejected, nil))
	rec := p.Process(context.Background(), newCase(t, "a.sy"))
	assert.Equal(t, report.ReasonTimeout, rec.Reason)
}

func TestProcess_GeneratorFailureIsFail(t *testing.T) {
	p := newPipeline(t, returns(executed("", 0), nil), returns(executed("", 0), nil))
	p.Our = &fakeGen{side: toolchain.UnderTest, err: &toolchain.ToolError{Side: toolchain.UnderTest, Stage: "compile", ExitCode: 1}}

	var seen []State
	p.OnTransition = func(_ *corpus.Case, _, to State) { seen = append(seen, to) }
	rec := p.Process(context.Background(), newCase(t, "a.sy"))

	assert.Equal(t, report.Fail, rec.Verdict)
	assert.Equal(t, report.ReasonUpstreamTool, rec.Reason)
	assert.Contains(t, rec.Detail, "our compile: exit code 1")
	assert.Equal(t, []State{Generating, Failed}, seen)
}

func TestProcess_SubstrateErrorIsFail(t *testing.T) {
	toolErr := &toolchain.ToolError{Side: toolchain.Reference, Stage: "cross-link", ExitCode: 1}
	p := newPipeline(t, returns(nil, toolErr), returns(executed("1\n", 0), nil))
	rec := p.Process(context.Background(), newCase(t, "a.sy"))

	assert.Equal(t, report.Fail, rec.Verdict)
	assert.Equal(t, report.ReasonUpstreamTool, rec.Reason)
	assert.Contains(t, rec.Detail, "cross-link")
}

func TestProcess_InterruptedDuringGeneration(t *testing.T) {
	p := newPipeline(t, returns(executed("", 0), nil), returns(executed("", 0), nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := p.Process(ctx, newCase(t, "a.sy"))
	assert.Equal(t, report.Skip, rec.Verdict)
	assert.Equal(t, report.ReasonInterrupted, rec.Reason)
}

func TestProcess_InterruptedDuringExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := &fakeSub{fn: func(ctx context.Context, _ substrate.Request) (substrate.Outcome, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := newPipeline(t, blocking, returns(executed("", 0), nil))

	rec := p.Process(ctx, newCase(t, "a.sy"))
	assert.Equal(t, report.Skip, rec.Verdict)
	assert.Equal(t, report.ReasonInterrupted, rec.Reason)
}

func TestProcess_SkipExisting(t *testing.T) {
	p := newPipeline(t, returns(executed("", 0), nil), returns(executed("", 0), nil))
	p.SkipExisting = true
	p.Existing = []string{"ref.ll", "our.ll"}
	c := newCase(t, "a.sy")

	rec := p.Process(context.Background(), c)
	require.Equal(t, report.OK, rec.Verdict)

	rec = p.Process(context.Background(), c)
	assert.Equal(t, report.Skip, rec.Verdict)
	assert.Equal(t, report.ReasonAlreadyProcessed, rec.Reason)
	assert.Equal(t, int32(1), p.Ref.(*fakeGen).calls.Load())
}

func TestProcess_NoFilterKeepsTimers(t *testing.T) {
	ref := returns(executed("1\nTOTAL: 0H-0M-1S-0us\n", 0), nil)
	our := returns(executed("1\nTOTAL: 0H-0M-2S-0us\n", 0), nil)
	p := newPipeline(t, ref, our)
	p.Filter = false

	rec := p.Process(context.Background(), newCase(t, "a.sy"))
	assert.Equal(t, report.ReasonOutputMismatch, rec.Reason)
}

func TestDiff_OneSideEmpty(t *testing.T) {
	d := Diff(nil, []string{"1"})
	assert.True(t, strings.HasPrefix(d, "(one side empty)\n"))
	assert.Contains(t, d, "+1\n")
}

type nopRunner struct{}

func (nopRunner) Run(context.Context, runner.Invocation) (*runner.Result, error) {
	return nil, errors.New("not implemented")
}

func TestBuild_Modes(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		mode     string
		refSub   string
		ourSub   string
		existing []string
	}{
		{"interpreter", "lli", "lli", []string{"ref.ll", "our.ll"}},
		{"cross", "qemu-armv7", "qemu-aarch64", []string{"ref.s", "our.s"}},
		{"native", "direct", "qemu-aarch64", []string{"ref.bin", "our.s"}},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := &config.Config{Root: root, RawMode: tt.mode}
			p, err := Build(cfg, nopRunner{}, nil, zaptest.NewLogger(t))
			require.NoError(t, err)
			assert.Equal(t, tt.refSub, p.RefSub.Name())
			assert.Equal(t, tt.ourSub, p.OurSub.Name())
			assert.Equal(t, tt.existing, p.Existing)
			assert.Equal(t, toolchain.Reference, p.Ref.Side())
			assert.Equal(t, toolchain.UnderTest, p.Our.Side())
		})
	}
}

func TestBuild_CompilerEmit(t *testing.T) {
	cfg := &config.Config{Root: t.TempDir(), PersistIntermediate: true}
	p, err := Build(cfg, nopRunner{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, toolchain.EmitIntermediateAndNative, p.Our.(*toolchain.Compiler).Emit)

	cfg.RawMode = "native"
	p, err = Build(cfg, nopRunner{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, toolchain.EmitNative, p.Our.(*toolchain.Compiler).Emit)
	assert.Equal(t, substrate.AArch64DebugFlags, p.OurSub.(*substrate.Emulated).Flags)
}

func TestInterrupter(t *testing.T) {
	aborted := false
	intr := NewInterrupter(func() { aborted = true })
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	intr.now = func() time.Time { return clock }

	ctx1, release1 := intr.Track(context.Background())
	ctx2, release2 := intr.Track(context.Background())
	defer release2()
	assert.Equal(t, 2, intr.InFlight())
	release1()
	assert.Equal(t, 1, intr.InFlight())
	assert.ErrorIs(t, ctx1.Err(), context.Canceled)

	assert.False(t, intr.Interrupt())
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.False(t, aborted)

	clock = clock.Add(2 * time.Second)
	assert.False(t, intr.Interrupt(), "interrupts further apart than the window")

	clock = clock.Add(500 * time.Millisecond)
	assert.True(t, intr.Interrupt())
	assert.True(t, aborted)
}

func TestInterrupter_Nil(t *testing.T) {
	var intr *Interrupter
	ctx, release := intr.Track(context.Background())
	defer release()
	assert.NoError(t, ctx.Err())
}

type fakeHistory struct{ runs []*report.RunResult }

func (h *fakeHistory) RecordRun(_ context.Context, r *report.RunResult) error {
	h.runs = append(h.runs, r)
	return nil
}

func newRunContext(t *testing.T) (*RunContext, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{Root: root, OutDir: "out"}
	var console bytes.Buffer
	rc, err := NewRunContext(cfg, zaptest.NewLogger(t), logging.NewConsole(&console))
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, &console
}

func TestBatch_Execute(t *testing.T) {
	rc, console := newRunContext(t)
	hist := &fakeHistory{}
	rc.History = hist

	// Case b diverges; the rest pass.
	sub := func(side toolchain.Side) *fakeSub {
		return &fakeSub{fn: func(_ context.Context, req substrate.Request) (substrate.Outcome, error) {
			if side == toolchain.UnderTest && req.Label == "functional/b.sy" {
				return executed("2\n", 0), nil
			}
			return executed("1\nTOTAL: 0H-0M-1S-0us\n", 0), nil
		}}
	}
	p := newPipeline(t, sub(toolchain.Reference), sub(toolchain.UnderTest))

	cases := []corpus.Case{
		{Rel: "functional/a.sy", Source: "/src/a.sy"},
		{Rel: "functional/b.sy", Source: "/src/b.sy"},
		{Rel: "performance/c.sy", Source: "/src/c.sy"},
	}
	b := &Batch{Pipeline: p, Run: rc, Mode: "lli", Jobs: 2, Interrupts: NewInterrupter(nil)}
	result, err := b.Execute(context.Background(), cases)
	require.NoError(t, err)

	assert.True(t, HasFailures(result))
	assert.Equal(t, report.Summary{Total: 3, OK: 2, Fail: 1, Timed: 2, MeanRefMicros: 1e6, MeanOurMicros: 1e6, Ratio: 1}, result.Summary)
	var order []string
	for _, r := range result.Records {
		order = append(order, r.Case)
	}
	assert.Equal(t, []string{"functional/a.sy", "functional/b.sy", "performance/c.sy"}, order)
	assert.DirExists(t, filepath.Join(rc.CaseRoot, "performance", "c"))

	text, err := os.ReadFile(filepath.Join(rc.Dir, ReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(text), "# RUN MODE: lli")
	assert.Contains(t, string(text), "FAIL  functional/b.sy (output-mismatch)")
	assert.Contains(t, string(text), "=== OK:2  SKIP:0  FAIL:1  TOTAL:3 ===")

	saved, err := rc.Store.Load(rc.ID)
	require.NoError(t, err)
	assert.Len(t, saved.Records, 3)
	require.Len(t, hist.runs, 1)
	assert.Equal(t, rc.ID, hist.runs[0].ID)

	assert.Contains(t, console.String(), "[PASS] functional/a.sy")
	assert.Contains(t, console.String(), "[TIME lli] functional/a.sy")
}

func TestBatch_AbortedBeforeStart(t *testing.T) {
	rc, _ := newRunContext(t)
	p := newPipeline(t, returns(executed("", 0), nil), returns(executed("", 0), nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &Batch{Pipeline: p, Run: rc, Mode: "lli"}
	result, err := b.Execute(ctx, []corpus.Case{{Rel: "a.sy", Source: "/src/a.sy"}})
	assert.ErrorIs(t, err, ErrAborted)
	require.NotNil(t, result)
	assert.Zero(t, result.Summary.Total)
}

type failingPrep struct{ fakeSub }

func (failingPrep) Prepare(context.Context) error { return errors.New("no runtime") }

func TestBatch_PrepareFailure(t *testing.T) {
	rc, _ := newRunContext(t)
	prep := &failingPrep{}
	p := newPipeline(t, prep, prep)
	b := &Batch{Pipeline: p, Run: rc, Mode: "lli"}
	_, err := b.Execute(context.Background(), nil)
	assert.ErrorContains(t, err, "no runtime")
}

func TestNewRunID(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	id := NewRunID(at)
	assert.True(t, strings.HasPrefix(id, "20261019-083000-"))
	assert.Len(t, id, len("20261019-083000-")+8)
}
