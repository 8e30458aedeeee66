// Package scanner owns the optical input device lifecycle and drives
// repeated decode attempts until a code is found or the operator cancels.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gatherly-backend/qrtoken"
)

type State int

const (
	StateIdle State = iota
	StateRequesting
	StateActive
	StateScanning
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateActive:
		return "active"
	case StateScanning:
		return "scanning"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Reason distinguishes device failures so the presentation layer can show
// actionable guidance.
type Reason string

const (
	ReasonDenied      Reason = "permission-denied"
	ReasonUnsupported Reason = "unsupported"
	ReasonTimeout     Reason = "timeout"
	ReasonOther       Reason = "other"
)

// DecodeFunc attempts to read a code out of one frame.
type DecodeFunc func(pix []byte, w, h int) (string, bool)

var ErrAlreadyRunning = errors.New("capture loop already running")

const (
	DefaultInterval     = 500 * time.Millisecond
	DefaultOpenTimeout  = 15 * time.Second
	DefaultReadyTimeout = 10 * time.Second
)

type Config struct {
	Device   Device
	Profiles []Profile

	// Interval between decode attempts. The frame source has no native
	// "new frame" signal, so sampling is a polling trade-off between
	// latency and CPU cost.
	Interval     time.Duration
	OpenTimeout  time.Duration
	ReadyTimeout time.Duration

	Decode DecodeFunc

	// OnState observes every state transition.
	OnState func(State)
	// OnDecoded receives the single decoded code of a capture session,
	// after the device is released and the sampling timer cancelled.
	OnDecoded func(code string)
	// OnError receives device failures with a classified reason.
	OnError func(reason Reason, err error)
}

// Loop is the capture state machine:
// Idle → Requesting → Active → Scanning → {Stopped | Error}.
type Loop struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	opened   bool
	devClose sync.Once
}

func New(cfg Config, logger *zap.Logger) (*Loop, error) {
	if cfg.Device == nil {
		return nil, errors.New("scanner: device is required")
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = DefaultProfiles()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.Decode == nil {
		cfg.Decode = qrtoken.DecodeFrame
	}
	return &Loop{cfg: cfg, logger: logger, state: StateIdle}, nil
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start begins a capture session. It returns immediately; progress is
// reported through the callbacks. A session ends in Stopped or Error.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateRequesting, StateActive, StateScanning:
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.opened = false
	l.devClose = sync.Once{}
	l.mu.Unlock()

	l.setState(StateRequesting)
	go l.run(runCtx)
	return nil
}

// Stop cancels the session and synchronously releases the device and the
// sampling timer. Safe to call multiple times and from any state.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	if err := l.acquire(ctx); err != nil {
		l.fail(classify(err), err)
		return
	}

	// Readiness: the device must produce a first frame within bounds.
	readyCtx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	_, err := l.cfg.Device.ReadFrame(readyCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			l.teardown(StateStopped)
			return
		}
		l.closeDevice()
		l.fail(classify(err), fmt.Errorf("device never became ready: %w", err))
		return
	}

	l.setState(StateActive)
	l.sample(ctx)
}

func (l *Loop) acquire(ctx context.Context) error {
	var lastErr error
	for _, p := range l.cfg.Profiles {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, l.cfg.OpenTimeout)
		err := l.cfg.Device.Open(attemptCtx, p)
		cancel()
		if err == nil {
			l.mu.Lock()
			l.opened = true
			l.mu.Unlock()
			l.logger.Info("device acquired", zap.String("profile", p.Name))
			return nil
		}

		// Relaxing constraints cannot cure a denial or a missing capture
		// capability.
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnsupported) {
			return err
		}

		l.logger.Warn("profile rejected, trying next",
			zap.String("profile", p.Name), zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no constraint profile accepted")
	}
	return lastErr
}

func (l *Loop) sample(ctx context.Context) {
	l.setState(StateScanning)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.teardown(StateStopped)
			return
		case <-ticker.C:
			frameCtx, cancel := context.WithTimeout(ctx, l.cfg.Interval)
			fr, err := l.cfg.Device.ReadFrame(frameCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					l.teardown(StateStopped)
					return
				}
				// A frame miss is retried; a dead stream is not.
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				l.closeDevice()
				l.fail(ReasonOther, fmt.Errorf("stream became inactive: %w", err))
				return
			}

			code, ok := l.cfg.Decode(fr.Pix, fr.Width, fr.Height)
			if !ok {
				continue
			}

			// Stop the loop before dispatching: at most one code per
			// capture session ever reaches verification, even while
			// repeated frames of the same physical code are in view.
			ticker.Stop()
			l.teardown(StateStopped)
			l.logger.Info("code decoded", zap.String("code", code))
			if l.cfg.OnDecoded != nil {
				l.cfg.OnDecoded(code)
			}
			return
		}
	}
}

func (l *Loop) teardown(final State) {
	l.closeDevice()
	l.setState(final)
}

func (l *Loop) closeDevice() {
	l.mu.Lock()
	opened := l.opened
	l.mu.Unlock()
	if !opened {
		return
	}
	l.devClose.Do(func() {
		if err := l.cfg.Device.Close(); err != nil {
			l.logger.Warn("device close failed", zap.Error(err))
		}
	})
}

func (l *Loop) fail(reason Reason, err error) {
	l.logger.Error("capture failed", zap.String("reason", string(reason)), zap.Error(err))
	l.setState(StateError)
	if l.cfg.OnError != nil {
		l.cfg.OnError(reason, err)
	}
}

// setState runs OnState synchronously so transitions are observed in
// order. Callbacks must not call Stop; that would wait on the very
// goroutine they run in.
func (l *Loop) setState(s State) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	l.mu.Unlock()
	if l.cfg.OnState != nil {
		l.cfg.OnState(s)
	}
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ReasonDenied
	case errors.Is(err, ErrUnsupported):
		return ReasonUnsupported
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonOther
	}
}
