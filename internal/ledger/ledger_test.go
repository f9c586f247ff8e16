package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/mkovalev/kudos-system/internal/model"
	"github.com/mkovalev/kudos-system/internal/period"
)

var (
	january  = period.Period{Year: 2025, Month: time.January}
	february = period.Period{Year: 2025, Month: time.February}
	may      = period.Period{Year: 2025, Month: time.May}
)

func newStudent(p period.Period) *model.Student {
	s := NewStudentBalances(p)
	return &s
}

func TestEnsureCurrentPeriod_CarryForward(t *testing.T) {
	tests := []struct {
		name          string
		remaining     int
		wantRemaining int
	}{
		{name: "unused below cap", remaining: 30, wantRemaining: 130},
		{name: "unused at cap", remaining: 50, wantRemaining: 150},
		{name: "unused above cap", remaining: 100, wantRemaining: 150},
		{name: "nothing left", remaining: 0, wantRemaining: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStudent(january)
			s.SendingRemaining = tt.remaining
			s.SentThisPeriod = 40

			if !EnsureCurrentPeriod(s, february) {
				t.Fatalf("expected reset to happen")
			}

			if s.SendingRemaining != tt.wantRemaining {
				t.Fatalf("SendingRemaining = %d, want %d", s.SendingRemaining, tt.wantRemaining)
			}
			if s.SentThisPeriod != 0 {
				t.Fatalf("SentThisPeriod = %d, want 0", s.SentThisPeriod)
			}
			if s.LastResetPeriod != february {
				t.Fatalf("LastResetPeriod = %v, want %v", s.LastResetPeriod, february)
			}
			if s.SendingRemaining > MonthlyBaseCredits+CarryForwardCap {
				t.Fatalf("SendingRemaining %d exceeds 150 after reset", s.SendingRemaining)
			}
		})
	}
}

func TestEnsureCurrentPeriod_Idempotent(t *testing.T) {
	s := newStudent(january)
	s.SendingRemaining = 70

	if !EnsureCurrentPeriod(s, february) {
		t.Fatalf("first call must reset")
	}
	remaining := s.SendingRemaining

	if EnsureCurrentPeriod(s, february) {
		t.Fatalf("second call in same period must be a no-op")
	}
	if s.SendingRemaining != remaining || s.SentThisPeriod != 0 || s.LastResetPeriod != february {
		t.Fatalf("second call changed state: %+v", s)
	}
}

func TestEnsureCurrentPeriod_SingleTransitionAcrossGap(t *testing.T) {
	// Пропуск нескольких месяцев эквивалентен пропуску одного:
	// перенос считается от последнего сохранённого остатка.
	s := newStudent(january)
	s.SendingRemaining = 80

	if !EnsureCurrentPeriod(s, may) {
		t.Fatalf("expected reset to happen")
	}
	if s.SendingRemaining != 150 {
		t.Fatalf("SendingRemaining = %d, want 150", s.SendingRemaining)
	}
	if s.LastResetPeriod != may {
		t.Fatalf("LastResetPeriod = %v, want %v", s.LastResetPeriod, may)
	}
}

func TestEnsureCurrentPeriod_FuturePeriodUntouched(t *testing.T) {
	s := newStudent(may)
	if EnsureCurrentPeriod(s, february) {
		t.Fatalf("stored period ahead of clock must not be rolled back")
	}
	if s.LastResetPeriod != may {
		t.Fatalf("LastResetPeriod = %v, want %v", s.LastResetPeriod, may)
	}
}

func TestDebitSending(t *testing.T) {
	s := newStudent(january)

	if err := DebitSending(s, 30); err != nil {
		t.Fatalf("DebitSending error: %v", err)
	}
	if s.SendingRemaining != 70 || s.SentThisPeriod != 30 {
		t.Fatalf("after debit: remaining=%d sent=%d, want 70/30", s.SendingRemaining, s.SentThisPeriod)
	}
}

func TestDebitSending_Errors(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		sent      int
		amount    int
		wantErr   error
	}{
		{name: "zero amount", remaining: 100, amount: 0, wantErr: ErrInvalidAmount},
		{name: "negative amount", remaining: 100, amount: -5, wantErr: ErrInvalidAmount},
		{name: "insufficient credits", remaining: 10, amount: 11, wantErr: ErrInsufficientCredits},
		{name: "monthly limit", remaining: 150, sent: 100, amount: 1, wantErr: ErrMonthlyLimitExceeded},
		{name: "limit over by large amount", remaining: 150, sent: 50, amount: 60, wantErr: ErrMonthlyLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStudent(january)
			s.SendingRemaining = tt.remaining
			s.SentThisPeriod = tt.sent

			err := DebitSending(s, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DebitSending error = %v, want %v", err, tt.wantErr)
			}
			// Отказ не должен ничего менять.
			if s.SendingRemaining != tt.remaining || s.SentThisPeriod != tt.sent {
				t.Fatalf("rejected debit mutated state: %+v", s)
			}
		})
	}
}

func TestDebitReceived(t *testing.T) {
	s := newStudent(january)
	CreditReceived(s, 130)

	if err := DebitReceived(s, 20); err != nil {
		t.Fatalf("DebitReceived error: %v", err)
	}
	if s.ReceivedAvailable != 110 {
		t.Fatalf("ReceivedAvailable = %d, want 110", s.ReceivedAvailable)
	}
	if s.ReceivedTotal != 130 {
		t.Fatalf("redemption must not lower ReceivedTotal, got %d", s.ReceivedTotal)
	}

	if err := DebitReceived(s, 111); !errors.Is(err, ErrInsufficientRedeemable) {
		t.Fatalf("expected ErrInsufficientRedeemable, got %v", err)
	}
	if err := DebitReceived(s, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreditReceived_NoUpperBound(t *testing.T) {
	s := newStudent(january)
	for i := 0; i < 10; i++ {
		CreditReceived(s, 1000)
	}
	if s.ReceivedTotal != 10000 || s.ReceivedAvailable != 10000 {
		t.Fatalf("totals = %d/%d, want 10000/10000", s.ReceivedTotal, s.ReceivedAvailable)
	}
	if s.ReceivedAvailable > s.ReceivedTotal {
		t.Fatalf("invariant violated: available > total")
	}
}

// Сценарий из постановки: отправка, перенос остатка, ровный месячный лимит.
func TestScenario_CarryForwardAndMonthlyCap(t *testing.T) {
	sender := newStudent(january)
	recipient := newStudent(january)

	if err := DebitSending(sender, 30); err != nil {
		t.Fatalf("send 30: %v", err)
	}
	CreditReceived(recipient, 30)

	if sender.SendingRemaining != 70 || sender.SentThisPeriod != 30 {
		t.Fatalf("sender after first send: %+v", sender)
	}
	if recipient.ReceivedTotal != 30 || recipient.ReceivedAvailable != 30 {
		t.Fatalf("recipient after first send: %+v", recipient)
	}

	// Новый период: перенос min(70, 50) = 50.
	EnsureCurrentPeriod(sender, february)
	if sender.SendingRemaining != 150 || sender.SentThisPeriod != 0 {
		t.Fatalf("sender after reset: %+v", sender)
	}

	// Отправка 100 достигает месячного лимита ровно.
	if err := DebitSending(sender, 100); err != nil {
		t.Fatalf("send 100: %v", err)
	}
	CreditReceived(recipient, 100)

	if sender.SendingRemaining != 50 || sender.SentThisPeriod != 100 {
		t.Fatalf("sender after second send: %+v", sender)
	}

	// Ещё одна единица запрещена лимитом, хотя остаток позволяет.
	if err := DebitSending(sender, 1); !errors.Is(err, ErrMonthlyLimitExceeded) {
		t.Fatalf("expected ErrMonthlyLimitExceeded, got %v", err)
	}

	// Погашение не влияет на накопленный итог.
	if err := DebitReceived(recipient, 20); err != nil {
		t.Fatalf("redeem 20: %v", err)
	}
	if recipient.ReceivedAvailable != 110 || recipient.ReceivedTotal != 130 {
		t.Fatalf("recipient after redemption: %+v", recipient)
	}
}

func TestNewStudentBalances(t *testing.T) {
	s := NewStudentBalances(january)
	if s.SendingRemaining != MonthlyBaseCredits {
		t.Fatalf("SendingRemaining = %d, want %d", s.SendingRemaining, MonthlyBaseCredits)
	}
	if s.SentThisPeriod != 0 || s.ReceivedTotal != 0 || s.ReceivedAvailable != 0 {
		t.Fatalf("new student must start with zero counters: %+v", s)
	}
	if s.LastResetPeriod != january {
		t.Fatalf("LastResetPeriod = %v, want %v", s.LastResetPeriod, january)
	}
}
