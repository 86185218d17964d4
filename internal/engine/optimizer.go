package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karmaloop/automation-server-go/internal/audit"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

type OptimizerConfig struct {
	// ReviewPeriod is how far back outcome stats reach.
	ReviewPeriod time.Duration
	// MinSample is the minimum number of terminal jobs per action before
	// the optimizer will touch its tuning.
	MinSample       int
	SoftFailureRate float64
	HighSuccessRate float64
	// NarrowFactor is the fraction of window width removed per tightening
	// step. Restoration widens by the inverse factor.
	NarrowFactor float64
	// Jitter spreads adjusted window placement by up to this fraction of
	// the new width in either direction, so tuned accounts do not move in
	// lockstep.
	Jitter         float64
	MinWindowWidth int
	MinMaxScale    float64
}

// Optimizer reviews each account's recent outcomes and adjusts the tuning
// overlay: tighter windows and smaller volume when an action keeps failing,
// stepwise restoration toward the operator's settings when it recovers.
// Operator-set windows and caps are never modified, only overlaid.
type Optimizer struct {
	cfg      OptimizerConfig
	accounts repository.AccountRepository
	jobs     repository.JobRepository
	log      zerolog.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewOptimizer(
	cfg OptimizerConfig,
	accounts repository.AccountRepository,
	jobs repository.JobRepository,
	logger zerolog.Logger,
) *Optimizer {
	return &Optimizer{
		cfg:      cfg,
		accounts: accounts,
		jobs:     jobs,
		log:      logger.With().Str("component", "optimizer").Logger(),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (o *Optimizer) jitter() float64 {
	o.randMu.Lock()
	defer o.randMu.Unlock()
	return o.cfg.Jitter * (2*o.rand.Float64() - 1)
}

// OptimizeAll reviews every schedulable account. Per-account failures are
// logged and skipped.
func (o *Optimizer) OptimizeAll(ctx context.Context, now time.Time) error {
	accounts, err := o.accounts.FindSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("optimize all: %w", err)
	}

	adjusted := 0
	for i := range accounts {
		changed, err := o.Optimize(ctx, &accounts[i], now)
		if err != nil {
			o.log.Error().Err(err).Str("accountId", accounts[i].ID).Msg("optimize failed")
			continue
		}
		if changed {
			adjusted++
		}
	}
	o.log.Info().Int("accounts", len(accounts)).Int("adjusted", adjusted).Msg("optimization pass complete")
	return nil
}

// Optimize reviews one account and persists a new tuning overlay when any
// action's stats warrant a change. Returns whether tuning changed.
func (o *Optimizer) Optimize(ctx context.Context, account *model.Account, now time.Time) (bool, error) {
	stats, err := o.jobs.OutcomeStats(ctx, account.ID, now.Add(-o.cfg.ReviewPeriod))
	if err != nil {
		return false, fmt.Errorf("outcome stats: %w", err)
	}
	byAction := make(map[model.ActionType]model.OutcomeStats, len(stats))
	for _, st := range stats {
		byAction[st.Action] = st
	}

	tuning := make(model.TuningMap, len(account.Tuning))
	for action, t := range account.Tuning {
		tuning[action] = t
	}

	changed := false
	details := map[string]interface{}{}
	for _, action := range model.ActionTypes {
		if !account.ActionEnabled(action) {
			continue
		}
		st := byAction[action]
		total := st.Succeeded + st.Failed
		if total < o.cfg.MinSample {
			continue
		}

		base := account.Windows[action]
		current, hasTuning := tuning[action]

		switch {
		case st.FailureRate() >= o.cfg.SoftFailureRate:
			next := o.tighten(base, current, hasTuning, now)
			tuning[action] = next
			changed = true
			details[string(action)] = fmt.Sprintf("tightened: failure rate %.2f over %d jobs", st.FailureRate(), total)

		case st.SuccessRate() >= o.cfg.HighSuccessRate && hasTuning:
			next, restored := o.relax(base, current, now)
			if restored {
				delete(tuning, action)
				details[string(action)] = fmt.Sprintf("restored: success rate %.2f over %d jobs", st.SuccessRate(), total)
			} else {
				tuning[action] = next
				details[string(action)] = fmt.Sprintf("relaxed: success rate %.2f over %d jobs", st.SuccessRate(), total)
			}
			changed = true
		}
	}

	if !changed {
		return false, nil
	}

	if _, err := o.accounts.UpdateTuning(ctx, account.ID, tuning); err != nil {
		return false, fmt.Errorf("update tuning: %w", err)
	}
	account.Tuning = tuning
	audit.Log(ctx, audit.Event{
		Type:      audit.EventTuningAdjust,
		AccountID: account.ID,
		Details:   details,
	})
	o.log.Info().Str("accountId", account.ID).Interface("changes", details).Msg("tuning adjusted")
	return true, nil
}

// tighten produces the next, more conservative tuning step for an action.
func (o *Optimizer) tighten(base []model.ScheduleWindow, current model.ActionTuning, hasTuning bool, now time.Time) model.ActionTuning {
	windows := base
	scale := 1.0
	if hasTuning {
		if len(current.Windows) > 0 {
			windows = current.Windows
		}
		if current.MaxScale > 0 {
			scale = current.MaxScale
		}
	}

	next := model.ActionTuning{UpdatedAt: now.UTC()}

	next.MaxScale = scale / 2
	if next.MaxScale < o.cfg.MinMaxScale {
		next.MaxScale = o.cfg.MinMaxScale
	}

	// Accounts with no operator windows run around the clock; for those
	// only the volume scale tightens.
	if len(windows) > 0 {
		narrowed := make([]model.ScheduleWindow, len(windows))
		for i, w := range windows {
			narrowed[i] = o.narrowWindow(w)
		}
		next.Windows = narrowed
	}
	return next
}

// narrowWindow shrinks one window around its center, with jittered
// placement, never leaving the window's original extent.
func (o *Optimizer) narrowWindow(w model.ScheduleWindow) model.ScheduleWindow {
	width := w.Width()
	newWidth := int(math.Round(float64(width) * (1 - o.cfg.NarrowFactor)))
	if newWidth < o.cfg.MinWindowWidth {
		newWidth = o.cfg.MinWindowWidth
	}
	if newWidth > width {
		newWidth = width
	}

	center := w.Start + width/2
	offset := int(math.Round(float64(newWidth) * o.jitter()))
	start := center - newWidth/2 + offset
	if start < w.Start {
		start = w.Start
	}
	if start+newWidth > w.End {
		start = w.End - newWidth
	}
	return model.ScheduleWindow{Start: start, End: start + newWidth}
}

// relax widens a tuned action one step back toward the operator's base
// settings. The second return value reports full restoration, meaning the
// tuning entry should be dropped entirely.
func (o *Optimizer) relax(base []model.ScheduleWindow, current model.ActionTuning, now time.Time) (model.ActionTuning, bool) {
	next := model.ActionTuning{UpdatedAt: now.UTC()}

	scale := current.MaxScale
	if scale <= 0 {
		scale = 1.0
	}
	next.MaxScale = scale * 2
	if next.MaxScale > 1 {
		next.MaxScale = 1
	}

	windowsRestored := true
	switch {
	case len(current.Windows) == 0:
		// Only the scale was tuned.
	case len(current.Windows) != len(base):
		// The operator reshaped the windows since tuning; drop straight
		// back to their settings.
	default:
		widened := make([]model.ScheduleWindow, len(current.Windows))
		for i, w := range current.Windows {
			widened[i] = widenWindow(w, base[i], o.cfg.NarrowFactor)
			if widened[i] != base[i] {
				windowsRestored = false
			}
		}
		if !windowsRestored {
			next.Windows = widened
		}
	}

	restored := windowsRestored && next.MaxScale >= 1
	return next, restored
}

// widenWindow grows a tuned window one step, centered, capped at the base
// window it came from.
func widenWindow(w, base model.ScheduleWindow, narrowFactor float64) model.ScheduleWindow {
	width := w.Width()
	newWidth := int(math.Round(float64(width) / (1 - narrowFactor)))
	if newWidth >= base.Width() {
		return base
	}

	center := w.Start + width/2
	start := center - newWidth/2
	if start < base.Start {
		start = base.Start
	}
	if start+newWidth > base.End {
		start = base.End - newWidth
	}
	return model.ScheduleWindow{Start: start, End: start + newWidth}
}
