package executor

import "errors"

// Нарушения контракта вычисления. Обе ошибки фиксируются до любых
// побочных эффектов: при нарушении ни одно значение не сохраняется
// и ни одно событие не записывается.
var (
	// ErrMissingRequiredOutput — вычисление отказалось от required-слота.
	// Нарушение детерминировано, повторные попытки не планируются.
	ErrMissingRequiredOutput = errors.New("required output slot was not produced")

	// ErrUnrequestedOutput — вычисление выпустило слот, не входящий
	// в запрошенное подмножество.
	ErrUnrequestedOutput = errors.New("computation produced an unrequested output slot")
)
