package engine

import (
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"

	"github.com/karmaloop/automation-server-go/internal/model"
)

// PaceConfig holds the rolling per-hour caps that smooth activity inside
// the daily quota. A zero cap disables pacing for that action.
type PaceConfig struct {
	UpvotesPerHour  int
	CommentsPerHour int
	PostsPerHour    int
}

func (c PaceConfig) capFor(action model.ActionType) int64 {
	switch action {
	case model.ActionUpvote:
		return int64(c.UpvotesPerHour)
	case model.ActionComment:
		return int64(c.CommentsPerHour)
	case model.ActionPost:
		return int64(c.PostsPerHour)
	}
	return 0
}

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

// Pacer enforces per-key hourly caps in front of the daily quota so a day's
// budget cannot be burned in one burst. A pacing denial is a scheduler
// rejection, not a breaker-countable attempt.
type Pacer struct {
	cfg PaceConfig

	mu       sync.RWMutex
	limiters map[model.ActionKey]*slidingwindow.Limiter
}

func NewPacer(cfg PaceConfig) *Pacer {
	return &Pacer{
		cfg:      cfg,
		limiters: make(map[model.ActionKey]*slidingwindow.Limiter),
	}
}

// Allow consumes one pacing slot for the key if the hourly cap permits.
func (p *Pacer) Allow(key model.ActionKey) bool {
	limit := p.cfg.capFor(key.Action)
	if limit <= 0 {
		return true
	}
	return p.limiterFor(key, limit).Allow()
}

func (p *Pacer) limiterFor(key model.ActionKey, limit int64) *slidingwindow.Limiter {
	p.mu.RLock()
	lim := p.limiters[key]
	p.mu.RUnlock()
	if lim != nil {
		return lim
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if lim := p.limiters[key]; lim != nil {
		return lim
	}
	lim, _ = slidingwindow.NewLimiter(time.Hour, limit, windowFunc)
	p.limiters[key] = lim
	return lim
}
