// Package orchestrator drives a single reserved job through the
// generate/execute model loop to a terminal outcome.
package orchestrator

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/breaker"
	"github.com/insightqueue/insightqueue/internal/config"
	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/execsandbox"
	"github.com/insightqueue/insightqueue/internal/inflation"
	"github.com/insightqueue/insightqueue/internal/loader"
	"github.com/insightqueue/insightqueue/internal/modelclient"
	"github.com/insightqueue/insightqueue/internal/obs"
	"github.com/insightqueue/insightqueue/internal/queue"
	"github.com/insightqueue/insightqueue/internal/schema"
)

// CancelChecker reports whether jobID has received an advisory cancel
// signal. Implemented by broker.Backend.Canceled; kept as a narrow function
// type here so this package does not need to import the broker interface.
type CancelChecker func(ctx context.Context, jobID string) (bool, error)

// Orchestrator implements worker.Orchestrator: it holds no per-job state
// between invocations, pulling everything it needs from its arguments.
type Orchestrator struct {
	Model        modelclient.Client
	ModelBreaker *breaker.CircuitBreaker
	Exec         execsandbox.Runner
	Loader       *loader.Loader
	Inspector    *schema.Inspector
	Inflation    *inflation.Manager
	DataDir      string
	Cfg          config.Orchestrator
	ModelTimeout time.Duration
	Canceled     CancelChecker
	Log          *zap.Logger
}

// Run drives job from RESERVED to a terminal outcome, publishing a
// progress event at every state boundary via progress.
func (o *Orchestrator) Run(ctx context.Context, job queue.Job, progress func(queue.ProgressEvent)) (queue.Job, error) {
	b := newBudget(o.Cfg)
	emit := func(phase queue.Phase, detail string) {
		progress(queue.ProgressEvent{At: time.Now().UTC(), Phase: phase, Detail: detail})
	}

	checkBoundary := func() error {
		if o.Canceled != nil {
			canceled, err := o.Canceled(ctx, job.ID)
			if err == nil && canceled {
				return corerr.New(corerr.Canceled, "canceled by caller")
			}
		}
		return b.checkWallClock()
	}

	// --- prepare / context ---
	if err := checkBoundary(); err != nil {
		return job, err
	}
	pc, err := o.assembleContext(ctx, job)
	if err != nil {
		return job, err
	}
	emit(queue.PhaseLoadingContext, "enumerated data files and computed schemas")

	messages := []modelclient.Message{{Role: "user", Text: buildInitialPrompt(pc)}}

	// --- generate ⇄ execute loop ---
	for {
		if err := checkBoundary(); err != nil {
			return job, err
		}
		if err := b.checkRound(); err != nil {
			return job, err
		}

		emit(queue.PhasePrompting, "requesting model completion")
		if o.ModelBreaker != nil && !o.ModelBreaker.Allow() {
			return job, corerr.New(corerr.ModelUnavailable, "model circuit breaker open")
		}
		reqCtx, cancel := context.WithTimeout(ctx, o.modelTimeout())
		reply, err := o.Model.Complete(reqCtx, messages)
		cancel()
		o.recordModelBreaker(err == nil)
		b.recordRound()
		if err != nil {
			return job, err // ModelUnavailable is transient, ModelProtocolError terminal — both surfaced as-is
		}

		if !reply.HasCode {
			emit(queue.PhaseSummarizing, "model returned a final answer")
			job.Result = reply.Answer
			emit(queue.PhaseCompleted, reply.Answer)
			return job, nil
		}

		emit(queue.PhaseGeneratingCode, "model emitted a code block")
		if err := checkBoundary(); err != nil {
			return job, err
		}
		if err := b.checkExecBudget(b.perExecTimeout()); err != nil {
			return job, err
		}

		result, execErr := o.Exec.Run(ctx, reply.Code, b.perExecTimeout())
		b.recordExec(result.Duration)

		if execErr != nil && corerr.TerminalForJob(execErr) {
			return job, execErr
		}

		var obsResult observationResult
		if execErr != nil {
			obsResult.err = execErr.Error()
		} else if result.ExitStatus != 0 {
			obsResult.err = result.Stderr
		} else {
			obsResult.stdout = result.Stdout
			obsResult.finalValue = result.FinalValueText
		}

		tail := obsResult.stdout
		if len(tail) > 500 {
			tail = tail[len(tail)-500:]
		}
		emit(queue.PhaseExecutingCode, tail)

		messages = append(messages, modelclient.Message{Role: "model", Text: "```python\n" + reply.Code + "\n```"})
		messages = append(messages, observationMessage(obsResult))
	}
}

func (o *Orchestrator) modelTimeout() time.Duration {
	if o.ModelTimeout <= 0 {
		return o.Cfg.PerExecTimeout
	}
	return o.ModelTimeout
}

// recordModelBreaker records a model completion outcome and reports a trip
// the moment the breaker's state actually flips to Open.
func (o *Orchestrator) recordModelBreaker(ok bool) {
	if o.ModelBreaker == nil {
		return
	}
	prev := o.ModelBreaker.State()
	o.ModelBreaker.Record(ok)
	if curr := o.ModelBreaker.State(); prev != curr && curr == breaker.Open {
		obs.CircuitBreakerTrips.Inc()
		if o.Log != nil {
			o.Log.Warn("model circuit breaker tripped open", obs.String("breaker_state", curr.String()))
		}
	}
	switch o.ModelBreaker.State() {
	case breaker.Closed:
		obs.CircuitBreakerState.Set(0)
	case breaker.HalfOpen:
		obs.CircuitBreakerState.Set(1)
	case breaker.Open:
		obs.CircuitBreakerState.Set(2)
	}
}

func (o *Orchestrator) assembleContext(ctx context.Context, job queue.Job) (promptContext, error) {
	files, err := loader.ListDataFiles(o.DataDir)
	if err != nil {
		return promptContext{}, corerr.Wrap(corerr.NotFound, "enumerate data directory", err)
	}
	if len(files) == 0 {
		return promptContext{}, corerr.New(corerr.InputRejected, "no data files available for this job")
	}

	schemas := make([]schema.Schema, 0, len(files))
	for _, f := range files {
		s, err := o.Inspector.Inspect(f, filepath.Join(o.DataDir, f.Name))
		if err != nil {
			continue
		}
		schemas = append(schemas, s)
	}

	pc := promptContext{
		question:    job.Question,
		primaryFile: job.PrimaryFile,
		files:       files,
		schemas:     schemas,
	}

	if o.Inflation != nil && needsInflation(job.Question) {
		table, err := o.Inflation.Refresh(ctx, false)
		if err != nil {
			o.Log.Warn("inflation refresh failed during context assembly", obs.Err(err))
		} else {
			start, end := yearRangeFromQuestion(job.Question)
			pc.inflationNeeded = true
			pc.inflationBlock = table.Summary(start, end)
		}
	}

	return pc, nil
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

func yearRangeFromQuestion(question string) (int, int) {
	matches := yearPattern.FindAllString(question, -1)
	years := make([]int, 0, len(matches))
	for _, m := range matches {
		if y, err := strconv.Atoi(m); err == nil {
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		now := time.Now().UTC().Year()
		return now - 5, now
	}
	min, max := years[0], years[0]
	for _, y := range years[1:] {
		if y < min {
			min = y
		}
		if y > max {
			max = y
		}
	}
	if min == max {
		max = time.Now().UTC().Year()
	}
	return min, max
}
