// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	kindA Kind = "a"
	kindB Kind = "b"
	kindC Kind = "c"
)

// recorder collects the order in which links ran per sample.
type recorder struct {
	mu   sync.Mutex
	runs map[string][]Kind
}

func newRecorder() *recorder { return &recorder{runs: make(map[string][]Kind)} }

func (r *recorder) add(sampleID string, k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[sampleID] = append(r.runs[sampleID], k)
}

func (r *recorder) get(sampleID string) []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Kind(nil), r.runs[sampleID]...)
}

func jitterHandler(rec *recorder, max time.Duration) Handler {
	return func(ctx context.Context, job Job) Result {
		time.Sleep(time.Duration(rand.Int63n(int64(max))))
		rec.add(job.SampleID, job.Kind)
		return Success{}
	}
}

func newTestScheduler(t *testing.T, cfg Config, j Journal) *Scheduler {
	t.Helper()
	s := New(cfg, j)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitAll(t *testing.T, hs ...*Handle) []ChainStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := make([]ChainStatus, len(hs))
	for i, h := range hs {
		st, err := h.Wait(ctx)
		require.NoError(t, err, "chain %s", h.ChainID)
		out[i] = st
	}
	return out
}

func TestSubmitChain_RunsLinksInOrder(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, Config{Workers: 4, Capacity: 16}, nil)
	for _, k := range []Kind{kindA, kindB, kindC} {
		s.Register(k, jitterHandler(rec, 5*time.Millisecond))
	}
	s.Start()

	h, err := s.SubmitChain(context.Background(), NewChain("s1", Job{Kind: kindA}, Job{Kind: kindB}, Job{Kind: kindC}))
	require.NoError(t, err)

	st := waitAll(t, h)[0]
	assert.Equal(t, ChainCompleted, st.State)
	assert.Equal(t, []Kind{kindA, kindB, kindC}, rec.get("s1"))
	assert.False(t, st.FinishedAt.IsZero())
}

func TestSubmitChain_FailureHaltsChain(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, Config{Workers: 2, Capacity: 16}, nil)
	s.Register(kindA, jitterHandler(rec, time.Millisecond))
	s.Register(kindB, func(ctx context.Context, job Job) Result {
		rec.add(job.SampleID, job.Kind)
		return Fail("transcode_failed", errors.New("exit status 1"))
	})
	s.Register(kindC, jitterHandler(rec, time.Millisecond))

	type hookCall struct {
		chainID string
		link    int
		kind    string
	}
	calls := make(chan hookCall, 1)
	s.SetFailureHook(func(ctx context.Context, c Chain, link int, f Failure) {
		calls <- hookCall{chainID: c.ID, link: link, kind: f.Kind}
	})
	s.Start()

	chain := NewChain("s1", Job{Kind: kindA}, Job{Kind: kindB}, Job{Kind: kindC})
	h, err := s.SubmitChain(context.Background(), chain)
	require.NoError(t, err)

	st := waitAll(t, h)[0]
	assert.Equal(t, ChainFailed, st.State)
	require.NotNil(t, st.Failure)
	assert.Equal(t, "transcode_failed", st.Failure.Kind)
	assert.Equal(t, 1, st.Link)
	assert.Equal(t, []Kind{kindA, kindB}, rec.get("s1"))

	// the hook ran before the chain was reported finished
	select {
	case c := <-calls:
		assert.Equal(t, hookCall{chainID: chain.ID, link: 1, kind: "transcode_failed"}, c)
	default:
		t.Fatal("failure hook not called")
	}
}

func TestSubmitChain_FailureIsIsolated(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, Config{Workers: 4, Capacity: 16}, nil)
	s.Register(kindA, func(ctx context.Context, job Job) Result {
		rec.add(job.SampleID, job.Kind)
		if job.SampleID == "bad" {
			return Fail("boom", nil)
		}
		return Success{}
	})
	s.Register(kindB, jitterHandler(rec, time.Millisecond))
	s.Start()

	bad, err := s.SubmitChain(context.Background(), NewChain("bad", Job{Kind: kindA}, Job{Kind: kindB}))
	require.NoError(t, err)
	good, err := s.SubmitChain(context.Background(), NewChain("good", Job{Kind: kindA}, Job{Kind: kindB}))
	require.NoError(t, err)

	sts := waitAll(t, bad, good)
	assert.Equal(t, ChainFailed, sts[0].State)
	assert.Equal(t, ChainCompleted, sts[1].State)
	assert.Equal(t, []Kind{kindA, kindB}, rec.get("good"))
}

func TestSubmitChain_ManyChainsConcurrently(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, Config{Workers: 8, Capacity: 128}, nil)
	for _, k := range []Kind{kindA, kindB, kindC} {
		s.Register(k, jitterHandler(rec, 3*time.Millisecond))
	}
	s.Start()

	const n = 50
	var (
		mu sync.Mutex
		hs []*Handle
		wg sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.SubmitChain(context.Background(),
				NewChain(fmt.Sprintf("s%d", i), Job{Kind: kindA}, Job{Kind: kindB}, Job{Kind: kindC}))
			assert.NoError(t, err)
			mu.Lock()
			hs = append(hs, h)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	require.Len(t, hs, n)

	for _, st := range waitAll(t, hs...) {
		assert.Equal(t, ChainCompleted, st.State)
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, []Kind{kindA, kindB, kindC}, rec.get(fmt.Sprintf("s%d", i)))
	}
	stats := s.Stats()
	assert.Equal(t, uint64(n), stats.Completed)
	assert.Zero(t, stats.Unfinished)
}

func TestSubmitChain_SerializesPerSample(t *testing.T) {
	var (
		active  atomic.Int32
		overlap atomic.Bool
		order   []string
		mu      sync.Mutex
	)
	s := newTestScheduler(t, Config{Workers: 4, Capacity: 16}, nil)
	s.Register(kindA, func(ctx context.Context, job Job) Result {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		defer active.Add(-1)
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		order = append(order, job.Payload["tag"])
		mu.Unlock()
		return Success{}
	})
	s.Start()

	var hs []*Handle
	for _, tag := range []string{"first", "second", "third"} {
		c := NewChain("same",
			Job{Kind: kindA, Payload: map[string]string{"tag": tag + ".1"}},
			Job{Kind: kindA, Payload: map[string]string{"tag": tag + ".2"}})
		h, err := s.SubmitChain(context.Background(), c)
		require.NoError(t, err)
		hs = append(hs, h)
	}
	waitAll(t, hs...)

	assert.False(t, overlap.Load(), "links of the same sample overlapped")
	assert.Equal(t, []string{"first.1", "first.2", "second.1", "second.2", "third.1", "third.2"}, order)
}

func TestSubmitChain_Rejections(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1, Capacity: 2}, nil)
	s.Register(kindA, func(ctx context.Context, job Job) Result { return Success{} })

	_, err := s.SubmitChain(context.Background(), Chain{SampleID: "s"})
	assert.ErrorIs(t, err, ErrEmptyChain)

	_, err = s.SubmitChain(context.Background(), NewChain("s", Job{Kind: "nope"}))
	assert.ErrorIs(t, err, ErrUnknownJobKind)

	// not started: chains stay unfinished and fill capacity
	_, err = s.SubmitChain(context.Background(), NewChain("s1", Job{Kind: kindA}))
	require.NoError(t, err)
	_, err = s.SubmitChain(context.Background(), NewChain("s2", Job{Kind: kindA}))
	require.NoError(t, err)
	_, err = s.SubmitChain(context.Background(), NewChain("s3", Job{Kind: kindA}))
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	require.NoError(t, s.Stop(context.Background()))
	_, err = s.SubmitChain(context.Background(), NewChain("s4", Job{Kind: kindA}))
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestSubmitChain_CapacityFreesUp(t *testing.T) {
	release := make(chan struct{})
	s := newTestScheduler(t, Config{Workers: 1, Capacity: 1}, nil)
	s.Register(kindA, func(ctx context.Context, job Job) Result {
		<-release
		return Success{}
	})
	s.Start()

	h, err := s.SubmitChain(context.Background(), NewChain("s1", Job{Kind: kindA}))
	require.NoError(t, err)
	_, err = s.SubmitChain(context.Background(), NewChain("s2", Job{Kind: kindA}))
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	close(release)
	waitAll(t, h)

	h2, err := s.SubmitChain(context.Background(), NewChain("s2", Job{Kind: kindA}))
	require.NoError(t, err)
	waitAll(t, h2)
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1, Capacity: 4}, nil)
	s.Register(kindA, func(ctx context.Context, job Job) Result { panic("kaboom") })
	s.Register(kindB, func(ctx context.Context, job Job) Result { return nil })
	s.Start()

	h1, err := s.SubmitChain(context.Background(), NewChain("s1", Job{Kind: kindA}))
	require.NoError(t, err)
	h2, err := s.SubmitChain(context.Background(), NewChain("s2", Job{Kind: kindB}))
	require.NoError(t, err)

	sts := waitAll(t, h1, h2)
	require.NotNil(t, sts[0].Failure)
	assert.Equal(t, FailurePanic, sts[0].Failure.Kind)
	assert.Equal(t, "kaboom", sts[0].Failure.Detail)
	require.NotNil(t, sts[1].Failure)
	assert.Equal(t, FailureInvalidResult, sts[1].Failure.Kind)
}

func TestAbandon(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var ranB atomic.Bool
	s := newTestScheduler(t, Config{Workers: 2, Capacity: 8}, nil)
	s.Register(kindA, func(ctx context.Context, job Job) Result {
		close(started)
		<-release
		return Success{}
	})
	s.Register(kindB, func(ctx context.Context, job Job) Result {
		ranB.Store(true)
		return Success{}
	})
	s.Start()

	running, err := s.SubmitChain(context.Background(), NewChain("s1", Job{Kind: kindA}, Job{Kind: kindB}))
	require.NoError(t, err)
	waiting, err := s.SubmitChain(context.Background(), NewChain("s1", Job{Kind: kindB}))
	require.NoError(t, err)
	<-started

	st, err := s.Status(waiting.ChainID)
	require.NoError(t, err)
	assert.Equal(t, ChainWaiting, st.State)

	require.NoError(t, s.Abandon(waiting.ChainID))
	require.NoError(t, s.Abandon(running.ChainID))
	close(release)

	sts := waitAll(t, running, waiting)
	assert.Equal(t, ChainAbandoned, sts[0].State)
	assert.Equal(t, ChainAbandoned, sts[1].State)
	assert.False(t, ranB.Load(), "links after an abandoned link must not run")

	assert.ErrorIs(t, s.Abandon(running.ChainID), ErrChainFinished)
	assert.ErrorIs(t, s.Abandon("unknown"), ErrChainNotFound)
	assert.Equal(t, uint64(2), s.Stats().Abandoned)
}

func TestStopFinishesAbandonedQueuedChains(t *testing.T) {
	started := make(chan struct{})
	s := newTestScheduler(t, Config{Workers: 1, Capacity: 8}, nil)
	// returns only once Stop gives up waiting and cancels the link context
	s.Register(kindA, func(ctx context.Context, job Job) Result {
		close(started)
		<-ctx.Done()
		return Success{}
	})
	s.Register(kindB, func(ctx context.Context, job Job) Result { return Success{} })
	s.Start()

	running, err := s.SubmitChain(context.Background(), NewChain("s1", Job{Kind: kindA}))
	require.NoError(t, err)
	<-started
	queuedBefore, err := s.SubmitChain(context.Background(), NewChain("s2", Job{Kind: kindB}))
	require.NoError(t, err)
	queuedAfter, err := s.SubmitChain(context.Background(), NewChain("s3", Job{Kind: kindB}))
	require.NoError(t, err)

	st, err := s.Status(queuedBefore.ChainID)
	require.NoError(t, err)
	require.Equal(t, ChainQueued, st.State)
	require.NoError(t, s.Abandon(queuedBefore.ChainID))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	sts := waitAll(t, running, queuedBefore)
	assert.Equal(t, ChainCompleted, sts[0].State)
	assert.Equal(t, ChainAbandoned, sts[1].State)

	st, err = s.Status(queuedAfter.ChainID)
	require.NoError(t, err)
	require.Equal(t, ChainQueued, st.State)

	// abandoning a chain stranded in the queue after Stop finishes it at once
	require.NoError(t, s.Abandon(queuedAfter.ChainID))
	select {
	case <-queuedAfter.Done():
	case <-time.After(time.Second):
		t.Fatal("abandoned chain never finished")
	}
	st, err = s.Status(queuedAfter.ChainID)
	require.NoError(t, err)
	assert.Equal(t, ChainAbandoned, st.State)
	assert.Equal(t, uint64(2), s.Stats().Abandoned)
}

func TestStatusUnknown(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig(), nil)
	_, err := s.Status("missing")
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestHandlerContextCarriesIDs(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1, Capacity: 2}, nil)
	got := make(chan [2]string, 1)
	s.Register(kindA, func(ctx context.Context, job Job) Result {
		got <- [2]string{xglog.SampleIDFromContext(ctx), xglog.ChainIDFromContext(ctx)}
		return Success{}
	})
	s.Start()

	c := NewChain("s1", Job{Kind: kindA})
	h, err := s.SubmitChain(context.Background(), c)
	require.NoError(t, err)
	waitAll(t, h)
	assert.Equal(t, [2]string{"s1", c.ID}, <-got)
}

func TestRecoverResumesAtRecordedLink(t *testing.T) {
	j, err := OpenInMemoryJournal()
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	rec := newRecorder()
	chain := NewChain("s1", Job{Kind: kindA}, Job{Kind: kindB}, Job{Kind: kindC})
	now := time.Now()
	require.NoError(t, j.Save(ChainRecord{Chain: chain, Next: 1, SubmittedAt: now, UpdatedAt: now}))
	require.NoError(t, j.Save(ChainRecord{
		Chain:       NewChain("s2", Job{Kind: "retired"}),
		SubmittedAt: now.Add(time.Second),
	}))

	s := newTestScheduler(t, Config{Workers: 2, Capacity: 8}, j)
	for _, k := range []Kind{kindA, kindB, kindC} {
		s.Register(k, jitterHandler(rec, time.Millisecond))
	}
	n, err := s.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.Start()

	require.Eventually(t, func() bool {
		st, err := s.Status(chain.ID)
		return err == nil && st.State == ChainCompleted
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Kind{kindB, kindC}, rec.get("s1"))

	recs, err := j.List()
	require.NoError(t, err)
	assert.Empty(t, recs, "finished and unrecoverable chains leave the journal")
}

func TestStopKeepsQueuedChainsJournaled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	j := newMapJournal()

	started := make(chan struct{})
	s := New(Config{Workers: 1, Capacity: 8}, j)
	s.Register(kindA, func(ctx context.Context, job Job) Result {
		close(started)
		<-ctx.Done()
		return Fail("canceled", ctx.Err())
	})
	s.Register(kindB, func(ctx context.Context, job Job) Result { return Success{} })
	s.Start()

	_, err := s.SubmitChain(context.Background(), NewChain("s1", Job{Kind: kindA}))
	require.NoError(t, err)
	queued, err := s.SubmitChain(context.Background(), NewChain("s2", Job{Kind: kindB}))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	recs, err := j.List()
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.Chain.ID)
	}
	assert.Contains(t, ids, queued.ChainID)
	// a second Stop is a no-op
	assert.NoError(t, s.Stop(context.Background()))
}
