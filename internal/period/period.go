// Package period содержит календарный период (год-месяц) для сброса кредитов.
package period

import (
	"fmt"
	"time"
)

// Period представляет канонический период в виде пары (год, месяц).
// Сравнение на равенство выполняется обычным ==.
type Period struct {
	Year  int
	Month time.Month
}

// FromTime возвращает период, которому принадлежит указанный момент времени (в UTC).
func FromTime(t time.Time) Period {
	t = t.UTC()
	return Period{
		Year:  t.Year(),
		Month: t.Month(),
	}
}

// Parse разбирает строковое представление периода в формате "YYYY-MM".
func Parse(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("parse period %q: %w", s, err)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// String возвращает каноническое строковое представление "YYYY-MM".
// Эта форма хранится в БД.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Before возвращает true, если период p строго раньше периода other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}
