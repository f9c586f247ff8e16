// Package model содержит доменные сущности сервиса кудос.
package model

import (
	"time"

	"github.com/mkovalev/kudos-system/internal/period"
)

// Student представляет студента с балансами отправляемых и полученных кредитов.
type Student struct {
	ID   int64
	Name string

	// SendingRemaining - остаток кредитов для отправки в текущем периоде.
	SendingRemaining int
	// SentThisPeriod - сумма, отправленная в текущем периоде (месячный лимит).
	SentThisPeriod int

	// ReceivedTotal - полученные кредиты за всё время (погашения его не уменьшают).
	ReceivedTotal int
	// ReceivedAvailable - полученные кредиты, ещё не погашенные на ваучер.
	ReceivedAvailable int

	// LastResetPeriod - период, по состоянию на который рассчитаны балансы отправки.
	LastResetPeriod period.Period

	CreatedAt time.Time
}

// Recognition описывает единичный перевод кредитов от одного студента другому.
type Recognition struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Amount      int
	Message     string

	// CreatedPeriod - период отправителя на момент создания признания.
	CreatedPeriod period.Period
	CreatedAt     time.Time

	// Endorsements - количество одобрений этого признания (только для чтения).
	Endorsements int
}

// Endorsement описывает одобрение признания другим студентом.
// Пара (RecognitionID, EndorserID) уникальна.
type Endorsement struct {
	ID            int64
	RecognitionID int64
	EndorserID    int64
	CreatedAt     time.Time
}

// Redemption описывает погашение полученных кредитов на денежный ваучер.
type Redemption struct {
	ID        int64
	StudentID int64
	Amount    int
	// Value - денежная стоимость ваучера: Amount * курс погашения.
	Value     int
	CreatedAt time.Time
}

// LeaderboardEntry содержит позицию таблицы лидеров по полученным кредитам.
type LeaderboardEntry struct {
	StudentID     int64  `json:"student_id"`
	Name          string `json:"name"`
	ReceivedTotal int    `json:"total_credits_received"`
	Recognitions  int    `json:"recognitions_count"`
	Endorsements  int    `json:"endorsements_count"`
}

// ResetSummary содержит итог массового сброса периодов.
type ResetSummary struct {
	Period     period.Period
	Processed  int
	Updated    int
	UpdatedIDs []int64
}
