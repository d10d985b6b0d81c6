// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a job handler.
type Kind string

// Job is one link of a chain.
type Job struct {
	SampleID string            `json:"sample_id"`
	Kind     Kind              `json:"kind"`
	Payload  map[string]string `json:"payload,omitempty"`
}

// Chain is an ordered list of jobs for one sample. Link k+1 runs only after
// link k succeeded.
type Chain struct {
	ID       string `json:"id"`
	SampleID string `json:"sample_id"`
	Links    []Job  `json:"links"`
}

// NewChain builds a chain with a fresh id. Every link is bound to sampleID.
func NewChain(sampleID string, links ...Job) Chain {
	c := Chain{ID: uuid.NewString(), SampleID: sampleID, Links: make([]Job, len(links))}
	for i, l := range links {
		l.SampleID = sampleID
		c.Links[i] = l
	}
	return c
}

// Result is the outcome of a link: either Success or Failure.
type Result interface {
	isResult()
}

// Success advances the chain. Artifacts maps artifact names to paths.
type Success struct {
	Artifacts map[string]string
}

// Failure halts the chain.
type Failure struct {
	Kind   string
	Detail string
	Err    error
}

func (Success) isResult() {}
func (Failure) isResult() {}

// Error implements error so a Failure can be wrapped and logged.
func (f Failure) Error() string {
	if f.Detail == "" {
		return f.Kind
	}
	return f.Kind + ": " + f.Detail
}

// Unwrap exposes the underlying error.
func (f Failure) Unwrap() error { return f.Err }

// Fail converts err into a Failure of the given kind.
func Fail(kind string, err error) Failure {
	f := Failure{Kind: kind, Err: err}
	if err != nil {
		f.Detail = err.Error()
	}
	return f
}

// Handler executes one job. It must be safe to re-run for the same job.
type Handler func(ctx context.Context, job Job) Result

// FailureHook is told about every chain that halts on a Failure.
type FailureHook func(ctx context.Context, chain Chain, link int, failure Failure)

// ChainState is the lifecycle of a chain inside the scheduler.
type ChainState string

const (
	ChainWaiting   ChainState = "waiting" // behind another chain for the same sample
	ChainQueued    ChainState = "queued"
	ChainRunning   ChainState = "running"
	ChainCompleted ChainState = "completed"
	ChainFailed    ChainState = "failed"
	ChainAbandoned ChainState = "abandoned"
)

// Terminal reports whether the chain has finished.
func (s ChainState) Terminal() bool {
	return s == ChainCompleted || s == ChainFailed || s == ChainAbandoned
}

// ChainStatus is a snapshot of one chain.
type ChainStatus struct {
	ChainID  string
	SampleID string
	State    ChainState
	// Link is the index of the current (or last executed) link.
	Link       int
	Links      int
	Failure    *Failure
	Submitted  time.Time
	FinishedAt time.Time
}

func (s ChainStatus) String() string {
	return fmt.Sprintf("chain %s (%s) %s at link %d/%d", s.ChainID, s.SampleID, s.State, s.Link+1, s.Links)
}
