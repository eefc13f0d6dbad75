package engine

/*
Файл reliability.go оборачивает вызов хендлера контуром надежности:
rate limiter -> circuit breaker -> retries с учетом ThrottleError.
Таймаутов своих у ядра нет — они ответственность реестра хендлеров,
здесь только ограничение одной попытки.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/agentgate/internal/connectors"
	"github.com/xela07ax/agentgate/internal/guard"
)

// ReliabilitySettings — параметры контура, приходят из конфига.
type ReliabilitySettings struct {
	CBMaxRequests    uint32
	CBInterval       time.Duration
	CBTimeout        time.Duration
	RatePerSecond    float64
	RateBurst        int
	RetryAttempts    uint
	AttemptTimeout   time.Duration
	FailureThreshold uint32 // подряд идущих ошибок до открытия CB
}

func DefaultReliabilitySettings() ReliabilitySettings {
	return ReliabilitySettings{
		CBMaxRequests:    3,
		CBInterval:       5 * time.Second,
		CBTimeout:        30 * time.Second,
		RatePerSecond:    100,
		RateBurst:        20,
		RetryAttempts:    3,
		AttemptTimeout:   10 * time.Second,
		FailureThreshold: 5,
	}
}

type ReliabilityWrapper struct {
	next    guard.ActionHandler
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	retries uint
}

func NewReliabilityWrapper(next guard.ActionHandler, s ReliabilitySettings, metrics *Metrics) *ReliabilityWrapper {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "action-handler",
		MaxRequests: s.CBMaxRequests,
		Interval:    s.CBInterval,
		Timeout:     s.CBTimeout, // время, через которое CB попробует закрыться
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics == nil {
				return
			}
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1.0
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
		},
	})

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(s.RatePerSecond), s.RateBurst),
		timeout: s.AttemptTimeout,
		retries: s.RetryAttempts,
	}
}

func (w *ReliabilityWrapper) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalData []byte

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.retries),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Коннектор вернул ThrottleError — уважаем его Retry-After
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Сетевой лаг, 500-ка — экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			finalData, callErr = w.next.Call(tCtx, action, payload)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.([]byte), nil
}
