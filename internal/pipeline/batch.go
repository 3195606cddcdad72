package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/report"
	"github.com/deixis/crosscheck/internal/substrate"
)

// Batch processes a corpus under one RunContext.
type Batch struct {
	Pipeline *Pipeline
	Run      *RunContext
	Mode     string // label for report and TIME lines
	Jobs     int
	// Interrupts, when set, supplies per-case contexts so that a user
	// interrupt skips in-flight cases without aborting the run.
	Interrupts *Interrupter
}

// Execute places, processes and reports every case, then finalizes the
// run. Cases not yet started when ctx is cancelled are left out of the
// report and ErrAborted is returned alongside the partial result.
func (b *Batch) Execute(ctx context.Context, cases []corpus.Case) (*report.RunResult, error) {
	rc := b.Run
	if err := b.prepare(ctx); err != nil {
		return nil, err
	}
	if err := rc.Report.Header(report.Header{
		RunID:    rc.ID,
		Started:  rc.Started,
		Mode:     b.Mode,
		RefOpt:   rc.Config.OptimizeReference(),
		Root:     rc.CaseRoot,
		Resource: rc.Config.ResourceRoot(),
	}); err != nil {
		return nil, err
	}
	rc.Console.Headline("crosscheck %s: %d case(s), mode %s", rc.ID, len(cases), b.Mode)

	rels := make([]string, len(cases))
	for i := range cases {
		cases[i].Place(rc.CaseRoot)
		rels[i] = cases[i].Rel
	}
	agg := report.NewAggregator(rels)

	jobs := b.Jobs
	if jobs < 1 {
		jobs = 1
	}
	var g errgroup.Group
	g.SetLimit(jobs)
	started := 0
	for i := range cases {
		if ctx.Err() != nil {
			break
		}
		c := &cases[i]
		started++
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			caseCtx, release := b.Interrupts.Track(ctx)
			defer release()
			rec := b.Pipeline.Process(caseCtx, c)
			agg.Add(rec)
			b.emit(rec)
			return nil
		})
	}
	_ = g.Wait()

	records := agg.Records()
	result, err := rc.Finalize(ctx, b.Mode, records)
	if err != nil {
		return result, err
	}
	if ctx.Err() != nil && len(records) < len(cases) {
		rc.Log.Warn("run aborted", zap.Int("processed", len(records)), zap.Int("total", len(cases)), zap.Int("scheduled", started))
		return result, ErrAborted
	}
	return result, nil
}

func (b *Batch) prepare(ctx context.Context) error {
	seen := map[substrate.Substrate]bool{}
	for _, s := range []substrate.Substrate{b.Pipeline.RefSub, b.Pipeline.OurSub} {
		if seen[s] {
			continue
		}
		seen[s] = true
		if p, ok := s.(substrate.Preparer); ok {
			if err := p.Prepare(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Batch) emit(rec report.Record) {
	rc := b.Run
	if err := rc.Report.Record(rec, b.Mode); err != nil {
		rc.Log.Warn("writing report", zap.String("case", rec.Case), zap.Error(err))
	}
	detail := string(rec.Reason)
	if rec.Verdict == report.Skip && rec.Detail != "" {
		detail += ": " + rec.Detail
	}
	rc.Console.Verdict(string(rec.Verdict), rec.Case, detail)
	if rec.Verdict == report.OK && rec.Timed() {
		rc.Console.Timing(b.Mode, rec.Case, float64(rec.OurMicros)/1e6, float64(rec.RefMicros)/1e6, rec.Ratio())
	}
	rc.Log.Debug("case finished",
		zap.String("case", rec.Case),
		zap.String("verdict", string(rec.Verdict)),
		zap.String("reason", string(rec.Reason)),
		zap.Int64("ref_us", rec.RefMicros),
		zap.Int64("our_us", rec.OurMicros))
}

// AbortWindow is how soon a second interrupt must follow the first to
// abort the whole run.
const AbortWindow = time.Second

// Interrupter turns user interrupts into per-case cancellation. The first
// interrupt cancels the cases in flight; a second one within AbortWindow
// also cancels the run.
type Interrupter struct {
	mu      sync.Mutex
	abort   context.CancelFunc
	cancels map[int]context.CancelFunc
	next    int
	last    time.Time
	now     func() time.Time
}

// NewInterrupter returns an Interrupter that calls abort on a double interrupt.
func NewInterrupter(abort context.CancelFunc) *Interrupter {
	return &Interrupter{
		abort:   abort,
		cancels: map[int]context.CancelFunc{},
		now:     time.Now,
	}
}

// Track derives a case context from parent. release must be called when
// the case ends. A nil Interrupter returns parent unchanged.
func (i *Interrupter) Track(parent context.Context) (context.Context, func()) {
	if i == nil {
		return parent, func() {}
	}
	ctx, cancel := context.WithCancel(parent)
	i.mu.Lock()
	id := i.next
	i.next++
	i.cancels[id] = cancel
	i.mu.Unlock()
	return ctx, func() {
		i.mu.Lock()
		delete(i.cancels, id)
		i.mu.Unlock()
		cancel()
	}
}

// Interrupt cancels every case in flight. It reports whether the run was
// aborted.
func (i *Interrupter) Interrupt() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now()
	aborted := !i.last.IsZero() && now.Sub(i.last) < AbortWindow
	i.last = now
	for id, cancel := range i.cancels {
		cancel()
		delete(i.cancels, id)
	}
	if aborted && i.abort != nil {
		i.abort()
	}
	return aborted
}

// InFlight returns the number of tracked cases.
func (i *Interrupter) InFlight() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.cancels)
}
