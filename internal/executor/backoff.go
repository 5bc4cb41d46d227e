package executor

import (
	"math/rand/v2"
	"time"

	"github.com/shaiso/Materia/internal/domain"
)

// backoffDelay вычисляет задержку перед повтором после неудачной попытки
// attempt (нумерация с 1). Без политики возвращает 1 секунду.
func backoffDelay(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	initial := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initial
	if policy.Backoff == domain.BackoffExponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay >= maxDelay {
				break
			}
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if policy.Jitter == domain.JitterSymmetricRandom {
		// Равномерная добавка из [-initial, +initial].
		delay += time.Duration(rand.Int64N(2*int64(initial)+1)) - initial
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
