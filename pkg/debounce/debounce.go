package debounce

import (
	"time"

	"golang.org/x/time/rate"
)

const DefaultWindow = 2 * time.Second

// Gate drops calls that arrive within window of the last admitted call.
// Dropped calls are not queued and do not move the window.
type Gate struct {
	limiter *rate.Limiter
}

func New(window time.Duration) *Gate {
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(window), 1),
	}
}

// Admit is safe for concurrent use; only one of two simultaneous callers passes.
func (g *Gate) Admit(now time.Time) bool {
	return g.limiter.AllowN(now, 1)
}
