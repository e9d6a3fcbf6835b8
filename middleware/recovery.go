package middleware

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"metals_scanner/utils"
)

var (
	circuitBreaker *gobreaker.CircuitBreaker
	once           sync.Once
)

func breaker() *gobreaker.CircuitBreaker {
	once.Do(func() {
		circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "clickhouse-breaker",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				if utils.Logger != nil {
					utils.Logger.Infow("Circuit breaker state changed",
						"name", name,
						"from", from.String(),
						"to", to.String())
				}
			},
		})
	})
	return circuitBreaker
}

// WithCircuitBreaker runs a store write behind the shared breaker so a
// flapping database sheds load instead of stalling every scan.
func WithCircuitBreaker(fn func() error) error {
	_, err := breaker().Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Recover wraps the scheduled scan so a panic in one pass does not take the
// process down.
func Recover(next func()) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			if utils.Logger != nil {
				utils.Logger.Errorw("Panic recovered",
					"error", r,
					"stack", string(stack))
			}
		}
	}()
	next()
}
