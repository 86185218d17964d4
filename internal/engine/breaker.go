package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karmaloop/automation-server-go/internal/model"
)

type BreakerConfig struct {
	// FailureThreshold failures within the last WindowSize attempts trip
	// the breaker.
	FailureThreshold int
	WindowSize       int
	// BaseCooldown is the first open period; each re-open from a failed
	// probe doubles it up to MaxCooldown.
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
}

// TransitionFunc observes breaker state changes. It is called outside the
// breaker's lock and must not call back into the registry for the same key
// synchronously with Admit or ReportOutcome on the same goroutine stack.
type TransitionFunc func(key model.ActionKey, from, to model.BreakerState, cooldown time.Duration)

// breaker holds one key's state. The outcome ring covers the trailing
// WindowSize attempts; quota denials and window misses never enter it.
type breaker struct {
	mu sync.Mutex

	state    model.BreakerState
	cooldown time.Duration
	openedAt time.Time

	// ring of attempt outcomes, true = failure
	outcomes []bool
	next     int
	filled   int

	probeInFlight bool
	probeJobID    string

	// recently processed job ids, for idempotent outcome reports
	seen      map[string]struct{}
	seenOrder []string
	dedupeCap int
}

func (b *breaker) record(failure bool) {
	b.outcomes[b.next] = failure
	b.next = (b.next + 1) % len(b.outcomes)
	if b.filled < len(b.outcomes) {
		b.filled++
	}
}

func (b *breaker) failures() int {
	n := 0
	for i := 0; i < b.filled; i++ {
		if b.outcomes[i] {
			n++
		}
	}
	return n
}

func (b *breaker) resetOutcomes() {
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.next = 0
	b.filled = 0
}

func (b *breaker) remember(jobID string) {
	for len(b.seenOrder) >= b.dedupeCap {
		oldest := b.seenOrder[0]
		b.seenOrder = b.seenOrder[1:]
		delete(b.seen, oldest)
	}
	b.seen[jobID] = struct{}{}
	b.seenOrder = append(b.seenOrder, jobID)
}

// BreakerRegistry keeps one circuit breaker per (account, action) key.
// Breakers are created lazily and live in memory only; a process restart
// starts every key closed again.
type BreakerRegistry struct {
	cfg          BreakerConfig
	onTransition TransitionFunc
	log          zerolog.Logger

	mu       sync.RWMutex
	breakers map[model.ActionKey]*breaker
}

func NewBreakerRegistry(cfg BreakerConfig, onTransition TransitionFunc, logger zerolog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:          cfg,
		onTransition: onTransition,
		log:          logger.With().Str("component", "breaker").Logger(),
		breakers:     make(map[model.ActionKey]*breaker),
	}
}

func (r *BreakerRegistry) get(key model.ActionKey) *breaker {
	r.mu.RLock()
	b := r.breakers[key]
	r.mu.RUnlock()
	if b != nil {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b := r.breakers[key]; b != nil {
		return b
	}
	dedupeCap := 2 * r.cfg.WindowSize
	if dedupeCap < 16 {
		dedupeCap = 16
	}
	b = &breaker{
		state:     model.BreakerClosed,
		cooldown:  r.cfg.BaseCooldown,
		outcomes:  make([]bool, r.cfg.WindowSize),
		seen:      make(map[string]struct{}, dedupeCap),
		seenOrder: make([]string, 0, dedupeCap),
		dedupeCap: dedupeCap,
	}
	r.breakers[key] = b
	return b
}

type transition struct {
	key      model.ActionKey
	from, to model.BreakerState
	cooldown time.Duration
}

func (r *BreakerRegistry) emit(tr *transition) {
	if tr == nil {
		return
	}
	breakerTransitionCount.WithLabelValues(string(tr.to)).Inc()
	r.log.Info().
		Str("key", tr.key.String()).
		Str("from", string(tr.from)).
		Str("to", string(tr.to)).
		Dur("cooldown", tr.cooldown).
		Msg("breaker transition")
	if r.onTransition != nil {
		r.onTransition(tr.key, tr.from, tr.to, tr.cooldown)
	}
}

// Admit reports whether an attempt may proceed for the key. An Open breaker
// whose cooldown has elapsed moves to HalfOpen and grants the caller the
// single probe slot; the caller must then either create a job and
// BindProbe it, or CancelProbe when a later admission gate denies.
func (r *BreakerRegistry) Admit(key model.ActionKey, now time.Time) bool {
	b := r.get(key)

	b.mu.Lock()
	var tr *transition
	admitted := false
	switch b.state {
	case model.BreakerClosed:
		admitted = true
	case model.BreakerOpen:
		if now.Sub(b.openedAt) >= b.cooldown {
			tr = &transition{key: key, from: b.state, to: model.BreakerHalfOpen, cooldown: b.cooldown}
			b.state = model.BreakerHalfOpen
			b.probeInFlight = true
			b.probeJobID = ""
			admitted = true
		}
	case model.BreakerHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			b.probeJobID = ""
			admitted = true
		}
	}
	b.mu.Unlock()

	r.emit(tr)
	return admitted
}

// BindProbe associates the granted probe slot with the job that will carry
// it. Outcomes for any other job id cannot consume the probe.
func (r *BreakerRegistry) BindProbe(key model.ActionKey, jobID string) {
	b := r.get(key)
	b.mu.Lock()
	if b.state == model.BreakerHalfOpen && b.probeInFlight && b.probeJobID == "" {
		b.probeJobID = jobID
	}
	b.mu.Unlock()
}

// CancelProbe releases an unbound probe slot when a gate after Admit denied
// the attempt. The breaker stays HalfOpen; a later tick may probe again.
func (r *BreakerRegistry) CancelProbe(key model.ActionKey) {
	b := r.get(key)
	b.mu.Lock()
	if b.state == model.BreakerHalfOpen && b.probeInFlight && b.probeJobID == "" {
		b.probeInFlight = false
	}
	b.mu.Unlock()
}

// ReleaseProbe frees a bound probe slot whose job ended without the platform
// ever seeing an attempt, such as a pending job expiring unclaimed. No
// outcome is recorded: the breaker stays HalfOpen and the next tick may
// probe again. A jobID that does not match the bound probe is ignored.
func (r *BreakerRegistry) ReleaseProbe(key model.ActionKey, jobID string) {
	b := r.get(key)
	b.mu.Lock()
	if b.state == model.BreakerHalfOpen && b.probeInFlight && b.probeJobID == jobID {
		b.probeInFlight = false
		b.probeJobID = ""
	}
	b.mu.Unlock()
}

// ReportOutcome records one attempt outcome. Reports are idempotent per job
// id: replays and duplicate deliveries change nothing.
func (r *BreakerRegistry) ReportOutcome(key model.ActionKey, jobID string, success bool, now time.Time) {
	b := r.get(key)

	b.mu.Lock()
	if _, dup := b.seen[jobID]; dup {
		b.mu.Unlock()
		return
	}
	b.remember(jobID)

	var tr *transition
	if b.probeInFlight && b.probeJobID == jobID {
		b.probeInFlight = false
		b.probeJobID = ""
		if success {
			tr = &transition{key: key, from: b.state, to: model.BreakerClosed, cooldown: r.cfg.BaseCooldown}
			b.state = model.BreakerClosed
			b.cooldown = r.cfg.BaseCooldown
			b.resetOutcomes()
			b.record(false)
		} else {
			doubled := b.cooldown * 2
			if doubled > r.cfg.MaxCooldown {
				doubled = r.cfg.MaxCooldown
			}
			b.cooldown = doubled
			b.openedAt = now
			tr = &transition{key: key, from: b.state, to: model.BreakerOpen, cooldown: b.cooldown}
			b.state = model.BreakerOpen
		}
		b.mu.Unlock()
		r.emit(tr)
		return
	}

	b.record(!success)
	if b.state == model.BreakerClosed && b.failures() >= r.cfg.FailureThreshold {
		b.openedAt = now
		tr = &transition{key: key, from: b.state, to: model.BreakerOpen, cooldown: b.cooldown}
		b.state = model.BreakerOpen
	}
	b.mu.Unlock()

	r.emit(tr)
}

// Sweep proactively moves cooled-down Open breakers to HalfOpen so the next
// tick can probe without waiting for an Admit to notice.
func (r *BreakerRegistry) Sweep(now time.Time) int {
	r.mu.RLock()
	keys := make([]model.ActionKey, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	moved := 0
	for _, key := range keys {
		b := r.get(key)
		b.mu.Lock()
		var tr *transition
		if b.state == model.BreakerOpen && now.Sub(b.openedAt) >= b.cooldown {
			tr = &transition{key: key, from: b.state, to: model.BreakerHalfOpen, cooldown: b.cooldown}
			b.state = model.BreakerHalfOpen
			b.probeInFlight = false
			b.probeJobID = ""
			moved++
		}
		b.mu.Unlock()
		r.emit(tr)
	}
	return moved
}

// State returns the current state for a key without creating a breaker.
func (r *BreakerRegistry) State(key model.ActionKey) model.BreakerState {
	r.mu.RLock()
	b := r.breakers[key]
	r.mu.RUnlock()
	if b == nil {
		return model.BreakerClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot exports every breaker's state for reports.
func (r *BreakerRegistry) Snapshot() []model.BreakerSnapshot {
	r.mu.RLock()
	keys := make([]model.ActionKey, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	snapshots := make([]model.BreakerSnapshot, 0, len(keys))
	for _, key := range keys {
		b := r.get(key)
		b.mu.Lock()
		snap := model.BreakerSnapshot{
			Key:             key,
			State:           b.state,
			Failures:        b.failures(),
			Attempts:        b.filled,
			CooldownSeconds: b.cooldown.Seconds(),
			ProbeInFlight:   b.probeInFlight,
		}
		if b.state != model.BreakerClosed {
			openedAt := b.openedAt
			snap.OpenedAt = &openedAt
		}
		b.mu.Unlock()
		snapshots = append(snapshots, snap)
	}
	return snapshots
}
