// Package ledger реализует правила учёта кредитов: месячный сброс с переносом
// остатка, списание отправляемых кредитов и начисление/погашение полученных.
package ledger

import (
	"errors"

	"github.com/mkovalev/kudos-system/internal/model"
	"github.com/mkovalev/kudos-system/internal/period"
)

// Политика начисления кредитов.
const (
	// MonthlyBaseCredits - базовое количество кредитов для отправки в каждом периоде.
	MonthlyBaseCredits = 100
	// MonthlySendingLimit - максимальная сумма, которую можно отправить за один период.
	MonthlySendingLimit = 100
	// CarryForwardCap - максимальный перенос неиспользованного остатка в следующий период.
	CarryForwardCap = 50
)

// ErrInvalidAmount возвращается для неположительной суммы операции.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrSelfRecognition возвращается при попытке отправить признание самому себе.
	ErrSelfRecognition = errors.New("self-recognition is not allowed")
	// ErrInsufficientCredits возвращается, если остатка кредитов не хватает на отправку.
	ErrInsufficientCredits = errors.New("insufficient available credits")
	// ErrMonthlyLimitExceeded возвращается при превышении месячного лимита отправки.
	ErrMonthlyLimitExceeded = errors.New("monthly sending limit exceeded")
	// ErrInsufficientRedeemable возвращается, если полученных кредитов не хватает на погашение.
	ErrInsufficientRedeemable = errors.New("insufficient received credits to redeem")
)

// EnsureCurrentPeriod выполняет ленивый месячный сброс балансов отправки.
// Переход выполняется ровно один раз вне зависимости от числа пропущенных
// месяцев: перенос считается от последнего сохранённого остатка. Повторный
// вызов в том же периоде ничего не меняет. Возвращает true, если сброс был выполнен.
func EnsureCurrentPeriod(s *model.Student, current period.Period) bool {
	if !s.LastResetPeriod.Before(current) {
		return false
	}

	carry := s.SendingRemaining
	if carry < 0 {
		carry = 0
	}
	if carry > CarryForwardCap {
		carry = CarryForwardCap
	}

	s.SendingRemaining = MonthlyBaseCredits + carry
	s.SentThisPeriod = 0
	s.LastResetPeriod = current

	return true
}

// DebitSending списывает кредиты на отправку признания. Проверки выполняются
// до любых изменений: сначала остаток, затем месячный лимит, поэтому перенос
// остатка не позволяет отправить больше MonthlySendingLimit за период.
func DebitSending(s *model.Student, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > s.SendingRemaining {
		return ErrInsufficientCredits
	}
	if s.SentThisPeriod+amount > MonthlySendingLimit {
		return ErrMonthlyLimitExceeded
	}

	s.SendingRemaining -= amount
	s.SentThisPeriod += amount

	return nil
}

// CreditReceived начисляет полученные кредиты. Верхней границы нет.
func CreditReceived(s *model.Student, amount int) {
	s.ReceivedTotal += amount
	s.ReceivedAvailable += amount
}

// DebitReceived списывает полученные кредиты при погашении.
// ReceivedTotal не изменяется: таблица лидеров отражает заработанное за всё время.
func DebitReceived(s *model.Student, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > s.ReceivedAvailable {
		return ErrInsufficientRedeemable
	}

	s.ReceivedAvailable -= amount

	return nil
}

// NewStudentBalances возвращает начальные балансы нового студента.
func NewStudentBalances(current period.Period) model.Student {
	return model.Student{
		SendingRemaining: MonthlyBaseCredits,
		LastResetPeriod:  current,
	}
}
