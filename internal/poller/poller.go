// Package poller watches one submitted job until it reaches a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/infra"
)

// DefaultInterval matches the cadence of the web client.
const DefaultInterval = 2 * time.Second

var (
	// ErrJobGone means the server no longer knows the job (or refuses to show it).
	ErrJobGone = errors.New("poller: job is gone")
	// ErrPollLimit means MaxAttempts or MaxDuration ran out before a terminal state.
	ErrPollLimit = errors.New("poller: poll limit reached")
	// ErrAlreadyTerminal is returned when Run is called again after the job finished.
	ErrAlreadyTerminal = errors.New("poller: job already reached a terminal state")
	// ErrAlreadyRunning is returned when Run is called while another Run is active.
	ErrAlreadyRunning = errors.New("poller: already running")
)

// StatusSource queries the server-side job record.
type StatusSource interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

// Options tunes a Poller. Zero MaxAttempts and MaxDuration mean unbounded.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	MaxDuration time.Duration
	Logger      *infra.Logger
}

// Outcome is the terminal result surfaced exactly once per job.
type Outcome struct {
	JobID     string
	Status    domain.JobStatus
	ResultURL string
	Error     string
	Attempts  int
}

// Succeeded reports whether the job completed.
func (o Outcome) Succeeded() bool {
	return o.Status == domain.JobStatusCompleted
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateDone
)

// Poller ties one job id to a sequential status query loop.
type Poller struct {
	source StatusSource
	jobID  string
	opts   Options

	mu    sync.Mutex
	state runState
}

// New builds a poller for jobID.
func New(source StatusSource, jobID string, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = infra.NopLogger()
	}
	return &Poller{source: source, jobID: jobID, opts: opts}
}

// JobID returns the watched job identifier.
func (p *Poller) JobID() string {
	return p.jobID
}

// Run blocks until the job is Completed or Failed, ctx is cancelled, the
// job disappears, or a configured limit is hit. Queries never overlap: the
// next one is scheduled only after the previous response arrived.
func (p *Poller) Run(ctx context.Context) (Outcome, error) {
	if err := p.begin(); err != nil {
		return Outcome{JobID: p.jobID}, err
	}
	outcome, err := p.loop(ctx)
	p.finish(err == nil)
	return outcome, err
}

func (p *Poller) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case stateRunning:
		return ErrAlreadyRunning
	case stateDone:
		return ErrAlreadyTerminal
	}
	p.state = stateRunning
	return nil
}

func (p *Poller) finish(terminal bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if terminal {
		p.state = stateDone
		return
	}
	p.state = stateIdle
}

func (p *Poller) loop(ctx context.Context) (Outcome, error) {
	log := p.opts.Logger.With().Str("job_id", p.jobID).Logger()
	var deadline <-chan time.Time
	if p.opts.MaxDuration > 0 {
		limit := time.NewTimer(p.opts.MaxDuration)
		defer limit.Stop()
		deadline = limit.C
	}
	tick := time.NewTimer(p.opts.Interval)
	defer tick.Stop()

	attempts := 0
	transient := 0
	for {
		select {
		case <-ctx.Done():
			return Outcome{JobID: p.jobID, Attempts: attempts}, ctx.Err()
		case <-deadline:
			return Outcome{JobID: p.jobID, Attempts: attempts}, fmt.Errorf("%w: exceeded %s", ErrPollLimit, p.opts.MaxDuration)
		case <-tick.C:
		}

		attempts++
		job, err := p.source.GetJob(ctx, p.jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return Outcome{JobID: p.jobID, Attempts: attempts}, ctx.Err()
		case err != nil && isPermanent(err):
			log.Warn().Err(err).Int("attempt", attempts).Msg("poller: job no longer available")
			return Outcome{JobID: p.jobID, Attempts: attempts}, fmt.Errorf("%w: %v", ErrJobGone, err)
		case err != nil:
			transient++
			log.Debug().Err(err).Int("attempt", attempts).Int("transient", transient).Msg("poller: status query failed, retrying")
		case job.Status == domain.JobStatusCompleted:
			log.Debug().Int("attempt", attempts).Msg("poller: job completed")
			return Outcome{JobID: p.jobID, Status: job.Status, ResultURL: job.ResultURL, Attempts: attempts}, nil
		case job.Status == domain.JobStatusFailed:
			log.Debug().Int("attempt", attempts).Str("reason", job.ErrorMessage).Msg("poller: job failed")
			return Outcome{JobID: p.jobID, Status: job.Status, Error: job.ErrorMessage, Attempts: attempts}, nil
		default:
			log.Debug().Int("attempt", attempts).Str("status", string(job.Status)).Msg("poller: job in progress")
		}

		if p.opts.MaxAttempts > 0 && attempts >= p.opts.MaxAttempts {
			return Outcome{JobID: p.jobID, Attempts: attempts}, fmt.Errorf("%w: %d attempts", ErrPollLimit, attempts)
		}
		tick.Reset(p.opts.Interval)
	}
}

// isPermanent separates a dead job from network jitter: only an explicit
// not-found or auth refusal stops the loop.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthorized)
}

// Watch runs the poller in the background and calls done exactly once with
// the terminal outcome. The returned stop func cancels future queries (the
// owning view went away) and waits for the loop to exit. done never starts
// once stop has been called; a callback already running finishes before stop
// returns.
func (p *Poller) Watch(ctx context.Context, done func(Outcome, error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	var mu sync.Mutex
	stopped := false
	go func() {
		defer close(finished)
		outcome, err := p.Run(ctx)
		mu.Lock()
		suppressed := stopped
		mu.Unlock()
		if suppressed {
			return
		}
		done(outcome, err)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
			cancel()
			<-finished
		})
	}
}
