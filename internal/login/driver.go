// Package login drives the scan-to-login challenge and hands any deferred
// action back to the workflow once a credential arrives.
package login

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xprocessing/neoaigc/internal/deferred"
	"github.com/xprocessing/neoaigc/internal/domain"
	"github.com/xprocessing/neoaigc/internal/infra"
	"github.com/xprocessing/neoaigc/internal/remote"
)

// DefaultInterval is the probe cadence of the web client.
const DefaultInterval = 2 * time.Second

var (
	// ErrLoginInProgress is returned by Start while a challenge is already being polled.
	ErrLoginInProgress = errors.New("login: already in progress")
	// ErrAbandoned is reported on Done when the attempt was dismissed.
	ErrAbandoned = errors.New("login: abandoned")
	// ErrTimeout is reported on Done when LoginTimeout elapsed first.
	ErrTimeout = errors.New("login: timed out")
)

// Challenge is the scan-to-login artifact shown to the user.
type Challenge = remote.Challenge

// State of the login driver.
type State int

const (
	StateIdle State = iota
	StateChallengeRequested
	StatePolling
	StateResolved
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChallengeRequested:
		return "challenge_requested"
	case StatePolling:
		return "polling"
	case StateResolved:
		return "resolved"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Authenticator issues challenges and probes them.
type Authenticator interface {
	LoginChallenge(ctx context.Context) (*remote.Challenge, error)
	ProbeLogin(ctx context.Context, challenge *remote.Challenge) (*remote.LoginResult, error)
}

// Credentials is the part of the credential store the driver writes to.
type Credentials interface {
	Set(ctx context.Context, token domain.Credential) error
	Clear(ctx context.Context) error
}

// Presenter shows the challenge and dismisses it once the login resolves.
type Presenter interface {
	Show(Challenge)
	Close()
}

// Replayer re-runs a deferred action after login.
type Replayer interface {
	Replay(ctx context.Context, action deferred.PendingAction) error
}

// Options tunes the driver. Timeout 0 polls until resolved or abandoned.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *infra.Logger
}

// Result is delivered once per attempt on the channel returned by Done.
type Result struct {
	State     State
	User      *domain.User
	Replayed  *deferred.PendingAction
	ReplayErr error
	Err       error
}

// Driver owns one login attempt at a time.
type Driver struct {
	auth      Authenticator
	creds     Credentials
	registry  *deferred.Registry
	presenter Presenter
	replayer  Replayer
	opts      Options

	mu      sync.Mutex
	state   State
	attempt uint64
	cancel  context.CancelFunc
	done    chan Result
}

// NewDriver wires the driver. replayer may be nil when nothing is ever deferred.
func NewDriver(auth Authenticator, creds Credentials, registry *deferred.Registry, presenter Presenter, replayer Replayer, opts Options) *Driver {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = infra.NopLogger()
	}
	return &Driver{
		auth:      auth,
		creds:     creds,
		registry:  registry,
		presenter: presenter,
		replayer:  replayer,
		opts:      opts,
	}
}

// State returns the current driver state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Done returns the result channel of the latest attempt, or nil if none started.
func (d *Driver) Done() <-chan Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Start requests a challenge, presents it and begins probing in the background.
func (d *Driver) Start(ctx context.Context) (*Challenge, error) {
	d.mu.Lock()
	if d.state == StateChallengeRequested || d.state == StatePolling {
		d.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	d.attempt++
	attempt := d.attempt
	d.state = StateChallengeRequested
	d.mu.Unlock()

	challenge, err := d.auth.LoginChallenge(ctx)
	if err != nil {
		d.mu.Lock()
		if d.attempt == attempt {
			d.state = StateIdle
		}
		d.mu.Unlock()
		return nil, err
	}

	var pollCtx context.Context
	var cancel context.CancelFunc
	if d.opts.Timeout > 0 {
		pollCtx, cancel = context.WithTimeoutCause(ctx, d.opts.Timeout, ErrTimeout)
	} else {
		pollCtx, cancel = context.WithCancel(ctx)
	}
	done := make(chan Result, 1)

	d.mu.Lock()
	if d.attempt != attempt || d.state != StateChallengeRequested {
		// Abandoned or logged out while the challenge was in flight.
		d.mu.Unlock()
		cancel()
		d.opts.Logger.Info().Msg("login: challenge dropped, attempt abandoned")
		return nil, ErrAbandoned
	}
	d.state = StatePolling
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	d.presenter.Show(*challenge)
	d.opts.Logger.Info().Str("state", challenge.State).Msg("login: challenge issued")

	go d.poll(ctx, pollCtx, attempt, challenge, done)
	return challenge, nil
}

// Abandon stops the current attempt, whether its challenge is still being
// requested or already polled. A deferred action stays registered for the
// next attempt.
func (d *Driver) Abandon() {
	d.mu.Lock()
	cancel := d.cancel
	if d.state == StatePolling || d.state == StateChallengeRequested {
		d.state = StateAbandoned
	}
	d.attempt++
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Logout clears the credential and drops anything waiting for replay.
func (d *Driver) Logout(ctx context.Context) error {
	d.Abandon()
	d.registry.Discard()
	d.setState(StateIdle)
	return d.creds.Clear(ctx)
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Driver) poll(parent, ctx context.Context, attempt uint64, challenge *Challenge, done chan<- Result) {
	log := d.opts.Logger
	timer := time.NewTimer(d.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			done <- d.stop(ctx, attempt)
			return
		case <-timer.C:
		}

		res, err := d.auth.ProbeLogin(ctx, challenge)
		switch {
		case err == nil:
			done <- d.resolve(parent, attempt, res)
			return
		case ctx.Err() != nil:
			done <- d.stop(ctx, attempt)
			return
		case errors.Is(err, remote.ErrLoginPending):
			log.Debug().Msg("login: not resolved yet")
		default:
			log.Warn().Err(err).Msg("login: probe failed, retrying")
		}
		timer.Reset(d.opts.Interval)
	}
}

func (d *Driver) stop(ctx context.Context, attempt uint64) Result {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTimeout) {
		d.presenter.Close()
		d.opts.Logger.Info().Msg("login: challenge timed out")
	}
	if cause == nil || errors.Is(cause, context.Canceled) {
		cause = ErrAbandoned
	}
	d.mu.Lock()
	if d.attempt == attempt && d.state == StatePolling {
		d.state = StateAbandoned
		d.cancel = nil
	}
	d.mu.Unlock()
	return Result{State: StateAbandoned, Err: cause}
}

func (d *Driver) resolve(ctx context.Context, attempt uint64, res *remote.LoginResult) Result {
	d.mu.Lock()
	if d.attempt != attempt || d.state != StatePolling {
		// Abandoned between the probe and here; the late credential is ignored.
		d.mu.Unlock()
		return Result{State: StateAbandoned, Err: ErrAbandoned}
	}
	d.state = StateResolved
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	defer cancel()

	if err := d.creds.Set(ctx, res.Token); err != nil {
		d.opts.Logger.Warn().Err(err).Msg("login: credential not persisted")
	}
	d.presenter.Close()

	out := Result{State: StateResolved, User: res.User}
	if res.User != nil {
		d.opts.Logger.Info().Str("user", res.User.DisplayName()).Msg("login: resolved")
	}

	if d.replayer == nil {
		return out
	}
	action, ok := d.registry.Consume()
	if !ok {
		return out
	}
	out.Replayed = &action
	d.opts.Logger.Info().Str("modality", string(action.Modality)).Msg("login: replaying deferred action")
	out.ReplayErr = d.replayer.Replay(ctx, action)
	return out
}
