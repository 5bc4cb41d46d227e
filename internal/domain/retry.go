package domain

import "fmt"

// BackoffKind — форма роста задержки между повторными попытками.
type BackoffKind string

const (
	// BackoffConstant — задержка постоянна и равна initial_delay_ms.
	BackoffConstant BackoffKind = "constant"

	// BackoffExponential — задержка удваивается с каждой попыткой:
	// initial * 2^(n-1), с ограничением max_delay_ms.
	BackoffExponential BackoffKind = "exponential"
)

// JitterKind — способ рандомизации задержки.
type JitterKind string

const (
	// JitterNone — без рандомизации.
	JitterNone JitterKind = "none"

	// JitterSymmetricRandom — к задержке прибавляется равномерная
	// случайная добавка из [-initial_delay, +initial_delay].
	JitterSymmetricRandom JitterKind = "symmetric-random"
)

// RetryPolicy — политика повторных попыток шага.
//
// Управляет повторным выполнением после raised-ошибки вычисления или
// инфраструктурной ошибки store/load. Сознательный отказ от выпуска
// output (decline) повторной попытки не вызывает.
type RetryPolicy struct {
	// MaxRetries — число повторов сверх первой попытки.
	// MaxRetries=3 означает максимум 4 попытки всего.
	MaxRetries int `json:"max_retries"`

	// InitialDelayMs — базовая задержка перед повтором, мс (default: 1000).
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка, мс (default: 30000).
	MaxDelayMs int `json:"max_delay_ms,omitempty"`

	// Backoff — форма роста задержки (default: constant).
	Backoff BackoffKind `json:"backoff,omitempty"`

	// Jitter — рандомизация задержки (default: none).
	Jitter JitterKind `json:"jitter,omitempty"`
}

// MaxAttempts возвращает общее число попыток: первая плюс повторы.
func (p *RetryPolicy) MaxAttempts() int {
	if p == nil || p.MaxRetries < 0 {
		return 1
	}
	return 1 + p.MaxRetries
}

// Validate проверяет согласованность политики.
func (p *RetryPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", p.MaxRetries)
	}
	if p.InitialDelayMs < 0 {
		return fmt.Errorf("initial_delay_ms must not be negative, got %d", p.InitialDelayMs)
	}
	if p.MaxDelayMs < 0 {
		return fmt.Errorf("max_delay_ms must not be negative, got %d", p.MaxDelayMs)
	}
	switch p.Backoff {
	case "", BackoffConstant, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff kind %q", p.Backoff)
	}
	switch p.Jitter {
	case "", JitterNone, JitterSymmetricRandom:
	default:
		return fmt.Errorf("unknown jitter kind %q", p.Jitter)
	}
	return nil
}
