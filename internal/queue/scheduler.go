// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue runs job chains on a bounded worker pool.
//
// A chain is a list of jobs for one sample. The scheduler dispatches link
// k+1 only after link k returned Success; a Failure halts the chain and is
// reported to the FailureHook. At most one chain per sample is active at a
// time, later chains for the same sample wait in a per-sample lane. Chains for
// different samples run in parallel, bounded by the worker count.
//
// Unfinished chains are recorded in a Journal so that Recover can resume them
// at their current link after a restart. Links may therefore run more than
// once and must be idempotent.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/ManuGH/samplr/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrQueueUnavailable is returned when the scheduler is saturated or stopped.
	// Callers may retry later.
	ErrQueueUnavailable = errors.New("queue: unavailable")
	// ErrUnknownJobKind is returned for links without a registered handler.
	ErrUnknownJobKind = errors.New("queue: unknown job kind")
	// ErrChainNotFound is returned for unknown chain ids.
	ErrChainNotFound = errors.New("queue: chain not found")
	// ErrChainFinished is returned when abandoning a chain that already ended.
	ErrChainFinished = errors.New("queue: chain already finished")
	// ErrEmptyChain is returned for chains without links.
	ErrEmptyChain = errors.New("queue: chain has no links")
)

// Failure kinds produced by the scheduler itself.
const (
	FailurePanic         = "panic"
	FailureInvalidResult = "invalid_result"
	FailureUnknownKind   = "unknown_kind"
)

const failureHookTimeout = 30 * time.Second

// Config sizes the scheduler.
type Config struct {
	// Workers is the number of jobs executed concurrently.
	Workers int
	// Capacity bounds the number of unfinished chains.
	Capacity int
	// History is the number of finished chain statuses kept for Status.
	History int
}

// DefaultConfig returns the stock sizing.
func DefaultConfig() Config {
	return Config{Workers: 4, Capacity: 256, History: 1024}
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Workers    int
	Capacity   int
	Unfinished int
	Queued     int
	Busy       int
	Completed  uint64
	Failed     uint64
	Abandoned  uint64
}

type run struct {
	chain     Chain
	next      int
	state     ChainState
	abandoned bool
	submitted time.Time
	failure   *Failure
	final     ChainStatus
	done      chan struct{}
}

func (r *run) status() ChainStatus {
	return ChainStatus{
		ChainID:   r.chain.ID,
		SampleID:  r.chain.SampleID,
		State:     r.state,
		Link:      r.next,
		Links:     len(r.chain.Links),
		Failure:   r.failure,
		Submitted: r.submitted,
	}
}

type lane struct {
	active  *run
	waiting []*run
}

type task struct {
	run  *run
	link int
}

// Handle refers to a submitted chain.
type Handle struct {
	ChainID string
	r       *run
}

// Done is closed when the chain reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.r.done }

// Wait blocks until the chain finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (ChainStatus, error) {
	select {
	case <-h.r.done:
		return h.r.final, nil
	case <-ctx.Done():
		return ChainStatus{}, ctx.Err()
	}
}

// Scheduler is the chain scheduler.
type Scheduler struct {
	cfg     Config
	journal Journal
	logger  zerolog.Logger
	tracer  trace.Tracer

	handlersMu sync.RWMutex
	handlers   map[Kind]Handler
	onFailure  FailureHook

	// every unfinished chain has at most one task buffered, and unfinished
	// chains are bounded by Capacity, so sends never block
	tasks chan task

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup

	mu            sync.Mutex
	runs          map[string]*run
	lanes         map[string]*lane
	finished      map[string]ChainStatus
	finishedOrder []string
	stopped       bool
	busy          int
	completed     uint64
	failed        uint64
	abandoned     uint64

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a scheduler. A nil journal disables durability.
func New(cfg Config, journal Journal) *Scheduler {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if journal == nil {
		journal = NopJournal{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		journal:  journal,
		logger:   xglog.WithComponent("queue"),
		tracer:   telemetry.Tracer("samplr/queue"),
		handlers: make(map[Kind]Handler),
		tasks:    make(chan task, cfg.Capacity),
		ctx:      ctx,
		cancel:   cancel,
		quit:     make(chan struct{}),
		runs:     make(map[string]*run),
		lanes:    make(map[string]*lane),
		finished: make(map[string]ChainStatus),
	}
}

// Register installs the handler for kind, replacing any previous one.
func (s *Scheduler) Register(kind Kind, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("queue: nil handler for %q", kind))
	}
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[kind] = h
}

// SetFailureHook installs the callback for halted chains.
func (s *Scheduler) SetFailureHook(h FailureHook) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.onFailure = h
}

func (s *Scheduler) handler(kind Kind) (Handler, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	h, ok := s.handlers[kind]
	return h, ok
}

func (s *Scheduler) failureHook() FailureHook {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.onFailure
}

// Start launches the workers. Chains submitted before Start wait in the queue.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
		s.logger.Info().
			Int("workers", s.cfg.Workers).
			Int("capacity", s.cfg.Capacity).
			Msg("scheduler started")
	})
}

// Stop refuses new chains and waits for in-flight links to finish. Links
// still queued stay in the journal. When ctx ends first, the context passed
// to running handlers is canceled and Stop returns ctx.Err() once they exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.quit)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			s.cancel()
			<-done
		}
		s.cancel()

		// no worker will pick up queued runs any more
		s.mu.Lock()
		for _, r := range s.runs {
			if r.abandoned {
				s.finish(r, ChainAbandoned, nil)
			}
		}
		s.mu.Unlock()
		s.logger.Info().Msg("scheduler stopped")
	})
	return err
}

// SubmitChain admits a chain. It fails with ErrQueueUnavailable when the
// scheduler is stopped or already holds Capacity unfinished chains.
func (s *Scheduler) SubmitChain(ctx context.Context, chain Chain) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.validate(chain); err != nil {
		return nil, err
	}
	if chain.ID == "" {
		chain.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		metrics.IncQueueRejection("stopped")
		return nil, fmt.Errorf("%w: scheduler stopped", ErrQueueUnavailable)
	}
	if len(s.runs) >= s.cfg.Capacity {
		metrics.IncQueueRejection("full")
		return nil, fmt.Errorf("%w: %d chains pending", ErrQueueUnavailable, len(s.runs))
	}
	if _, dup := s.runs[chain.ID]; dup {
		return nil, fmt.Errorf("queue: chain %s already submitted", chain.ID)
	}

	now := time.Now()
	if err := s.journal.Save(ChainRecord{Chain: chain, Next: 0, SubmittedAt: now, UpdatedAt: now}); err != nil {
		return nil, fmt.Errorf("queue: journal chain: %w", err)
	}

	r := newRun(chain, 0, now)
	s.runs[chain.ID] = r
	s.admit(r)

	s.logger.Debug().
		Str(xglog.FieldChainID, chain.ID).
		Str(xglog.FieldSampleID, chain.SampleID).
		Int("links", len(chain.Links)).
		Str("state", string(r.state)).
		Msg("chain submitted")
	return &Handle{ChainID: chain.ID, r: r}, nil
}

func newRun(chain Chain, next int, submitted time.Time) *run {
	return &run{chain: chain, next: next, submitted: submitted, done: make(chan struct{})}
}

func (s *Scheduler) validate(chain Chain) error {
	if len(chain.Links) == 0 {
		return ErrEmptyChain
	}
	if chain.SampleID == "" {
		return errors.New("queue: chain without sample id")
	}
	for i, l := range chain.Links {
		if l.SampleID != chain.SampleID {
			return fmt.Errorf("queue: link %d targets sample %q, chain targets %q", i, l.SampleID, chain.SampleID)
		}
		if _, ok := s.handler(l.Kind); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownJobKind, l.Kind)
		}
	}
	return nil
}

// admit places r in its sample lane. Caller holds s.mu.
func (s *Scheduler) admit(r *run) {
	ln := s.lanes[r.chain.SampleID]
	if ln == nil {
		ln = &lane{}
		s.lanes[r.chain.SampleID] = ln
	}
	if ln.active != nil {
		r.state = ChainWaiting
		ln.waiting = append(ln.waiting, r)
		return
	}
	ln.active = r
	s.dispatch(r)
}

// dispatch queues r's next link. Caller holds s.mu.
func (s *Scheduler) dispatch(r *run) {
	r.state = ChainQueued
	select {
	case s.tasks <- task{run: r, link: r.next}:
		metrics.SetQueueDepth(len(s.tasks))
	default:
		// unreachable while the capacity invariant holds
		s.logger.Error().Str(xglog.FieldChainID, r.chain.ID).Msg("task buffer full, failing chain")
		f := Failure{Kind: "queue_full", Err: ErrQueueUnavailable, Detail: ErrQueueUnavailable.Error()}
		s.finish(r, ChainFailed, &f)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		// prefer quitting over draining
		select {
		case <-s.quit:
			return
		default:
		}
		select {
		case <-s.quit:
			return
		case t := <-s.tasks:
			metrics.SetQueueDepth(len(s.tasks))
			s.execute(t)
		}
	}
}

func (s *Scheduler) execute(t task) {
	r := t.run
	s.mu.Lock()
	if r.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if r.abandoned {
		s.finish(r, ChainAbandoned, nil)
		s.mu.Unlock()
		return
	}
	r.state = ChainRunning
	s.busy++
	job := r.chain.Links[t.link]
	s.mu.Unlock()

	metrics.AddWorkersBusy(1)
	res, elapsed := s.runLink(r.chain, t.link, job)
	metrics.AddWorkersBusy(-1)

	s.complete(r, t.link, job, res, elapsed)
}

func (s *Scheduler) runLink(chain Chain, link int, job Job) (Result, time.Duration) {
	ctx := xglog.ContextWithSampleID(s.ctx, chain.SampleID)
	ctx = xglog.ContextWithChainID(ctx, chain.ID)
	ctx, span := s.tracer.Start(ctx, "queue.link."+string(job.Kind),
		trace.WithAttributes(telemetry.JobAttributes(chain.SampleID, chain.ID, string(job.Kind), link)...))
	defer span.End()

	logger := xglog.WithContext(ctx, s.logger).With().
		Str(xglog.FieldJobKind, string(job.Kind)).
		Int(xglog.FieldLink, link).
		Logger()
	ctx = logger.WithContext(ctx)

	logger.Info().Str(xglog.FieldEvent, "job.start").Msg("chain link started")
	start := time.Now()

	res := s.call(ctx, job)
	elapsed := time.Since(start)

	switch v := res.(type) {
	case Success:
		span.SetAttributes(attribute.String(telemetry.JobResultKey, "success"))
		logger.Info().
			Str(xglog.FieldEvent, "job.success").
			Dur(xglog.FieldDuration, elapsed).
			Msg("chain link succeeded")
	case Failure:
		span.SetAttributes(attribute.String(telemetry.JobResultKey, v.Kind))
		telemetry.RecordError(span, v)
		logger.Warn().
			Str(xglog.FieldEvent, "job.failure").
			Str("failure_kind", v.Kind).
			Str("detail", v.Detail).
			Dur(xglog.FieldDuration, elapsed).
			Msg("chain link failed")
	}
	return res, elapsed
}

// call runs the handler and converts panics and nil results into Failures.
func (s *Scheduler) call(ctx context.Context, job Job) (res Result) {
	h, ok := s.handler(job.Kind)
	if !ok {
		return Fail(FailureUnknownKind, fmt.Errorf("%w: %q", ErrUnknownJobKind, job.Kind))
	}
	defer func() {
		if p := recover(); p != nil {
			xglog.FromContext(ctx).Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("chain link panicked")
			res = Failure{Kind: FailurePanic, Detail: fmt.Sprint(p)}
		}
	}()
	res = h(ctx, job)
	switch res.(type) {
	case Success, Failure:
		return res
	default:
		return Failure{Kind: FailureInvalidResult, Detail: fmt.Sprintf("handler returned %T", res)}
	}
}

func (s *Scheduler) complete(r *run, link int, job Job, res Result, elapsed time.Duration) {
	s.mu.Lock()
	s.busy--
	if r.abandoned {
		metrics.ObserveJob(string(job.Kind), "discarded", elapsed)
		s.finish(r, ChainAbandoned, nil)
		s.mu.Unlock()
		return
	}

	switch v := res.(type) {
	case Success:
		metrics.ObserveJob(string(job.Kind), "success", elapsed)
		if link+1 >= len(r.chain.Links) {
			s.finish(r, ChainCompleted, nil)
			s.mu.Unlock()
			return
		}
		r.next = link + 1
		r.state = ChainQueued
		if err := s.journal.Save(ChainRecord{Chain: r.chain, Next: r.next, SubmittedAt: r.submitted, UpdatedAt: time.Now()}); err != nil {
			s.logger.Error().Err(err).Str(xglog.FieldChainID, r.chain.ID).Msg("journal chain position")
		}
		if !s.stopped {
			s.dispatch(r)
		}
		s.mu.Unlock()

	case Failure:
		metrics.ObserveJob(string(job.Kind), "failure", elapsed)
		r.failure = &v
		s.mu.Unlock()

		// the lane stays occupied until the hook has recorded the failure
		if hook := s.failureHook(); hook != nil {
			s.runHook(hook, r.chain, link, v)
		}

		s.mu.Lock()
		s.finish(r, ChainFailed, &v)
		s.mu.Unlock()
	}
}

func (s *Scheduler) runHook(hook FailureHook, chain Chain, link int, f Failure) {
	ctx := xglog.ContextWithSampleID(context.WithoutCancel(s.ctx), chain.SampleID)
	ctx = xglog.ContextWithChainID(ctx, chain.ID)
	ctx, cancel := context.WithTimeout(ctx, failureHookTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().
				Interface("panic", p).
				Str(xglog.FieldChainID, chain.ID).
				Msg("failure hook panicked")
		}
	}()
	hook(ctx, chain, link, f)
}

// finish moves r to a terminal state and starts the next chain of its
// sample. Caller holds s.mu.
func (s *Scheduler) finish(r *run, state ChainState, f *Failure) {
	if r.state.Terminal() {
		return
	}
	r.state = state
	r.failure = f
	r.final = r.status()
	r.final.FinishedAt = time.Now()

	delete(s.runs, r.chain.ID)
	s.remember(r.final)
	if err := s.journal.Delete(r.chain.ID); err != nil {
		s.logger.Error().Err(err).Str(xglog.FieldChainID, r.chain.ID).Msg("journal delete chain")
	}

	switch state {
	case ChainCompleted:
		s.completed++
		metrics.IncChain("completed")
	case ChainFailed:
		s.failed++
		metrics.IncChain("failed")
	case ChainAbandoned:
		s.abandoned++
		metrics.IncChain("abandoned")
	}
	close(r.done)

	ln := s.lanes[r.chain.SampleID]
	if ln == nil {
		return
	}
	if ln.active == r {
		ln.active = nil
	} else {
		for i, w := range ln.waiting {
			if w == r {
				ln.waiting = append(ln.waiting[:i], ln.waiting[i+1:]...)
				break
			}
		}
	}
	if ln.active == nil && len(ln.waiting) > 0 && !s.stopped {
		next := ln.waiting[0]
		ln.waiting = ln.waiting[1:]
		ln.active = next
		s.dispatch(next)
	}
	if ln.active == nil && len(ln.waiting) == 0 {
		delete(s.lanes, r.chain.SampleID)
	}
}

func (s *Scheduler) remember(st ChainStatus) {
	s.finished[st.ChainID] = st
	s.finishedOrder = append(s.finishedOrder, st.ChainID)
	for len(s.finishedOrder) > s.cfg.History {
		delete(s.finished, s.finishedOrder[0])
		s.finishedOrder = s.finishedOrder[1:]
	}
}

// Abandon marks a chain so that its outstanding result is discarded and no
// further links run. A running link is not interrupted. Queued chains left
// abandoned by Stop are finished there, so their Done channel always closes.
func (s *Scheduler) Abandon(chainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[chainID]
	if !ok {
		if _, done := s.finished[chainID]; done {
			return ErrChainFinished
		}
		return ErrChainNotFound
	}
	r.abandoned = true
	// running chains and chains queued on a live scheduler are finished by
	// their worker
	if r.state == ChainWaiting || (s.stopped && r.state == ChainQueued) {
		s.finish(r, ChainAbandoned, nil)
	}
	s.logger.Info().Str(xglog.FieldChainID, chainID).Str("state", string(r.state)).Msg("chain abandoned")
	return nil
}

// Status returns a snapshot of a chain.
func (s *Scheduler) Status(chainID string) (ChainStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[chainID]; ok {
		return r.status(), nil
	}
	if st, ok := s.finished[chainID]; ok {
		return st, nil
	}
	return ChainStatus{}, ErrChainNotFound
}

// Recover resubmits journaled chains at their recorded link. It returns the
// number of chains resumed. Records for unknown kinds are dropped; records
// beyond Capacity stay in the journal for the next start.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	recs, err := s.journal.List()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		logger := s.logger.With().Str(xglog.FieldChainID, rec.Chain.ID).Logger()
		if err := s.validate(rec.Chain); err != nil || rec.Next < 0 || rec.Next >= len(rec.Chain.Links) {
			logger.Warn().Err(err).Int("next", rec.Next).Msg("dropping unrecoverable journal record")
			if derr := s.journal.Delete(rec.Chain.ID); derr != nil {
				logger.Error().Err(derr).Msg("journal delete chain")
			}
			continue
		}

		s.mu.Lock()
		switch {
		case s.stopped:
			s.mu.Unlock()
			return n, fmt.Errorf("%w: scheduler stopped", ErrQueueUnavailable)
		case s.runs[rec.Chain.ID] != nil:
			s.mu.Unlock()
			continue
		case len(s.runs) >= s.cfg.Capacity:
			s.mu.Unlock()
			logger.Warn().Msg("capacity reached, leaving chain in journal")
			continue
		}
		r := newRun(rec.Chain, rec.Next, rec.SubmittedAt)
		s.runs[rec.Chain.ID] = r
		s.admit(r)
		s.mu.Unlock()

		logger.Info().
			Str(xglog.FieldSampleID, rec.Chain.SampleID).
			Int("next", rec.Next).
			Msg("chain recovered")
		n++
	}
	return n, nil
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Workers:    s.cfg.Workers,
		Capacity:   s.cfg.Capacity,
		Unfinished: len(s.runs),
		Queued:     len(s.tasks),
		Busy:       s.busy,
		Completed:  s.completed,
		Failed:     s.failed,
		Abandoned:  s.abandoned,
	}
}
