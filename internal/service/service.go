// Package service реализует бизнес-логику сервиса кудос.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/mkovalev/kudos-system/internal/ledger"
	"github.com/mkovalev/kudos-system/internal/model"
	"github.com/mkovalev/kudos-system/internal/period"
	"github.com/mkovalev/kudos-system/internal/validation"
)

// ErrInvalidName возвращается для пустого или некорректного имени студента.
var ErrInvalidName = errors.New("student name is required")

// listRecognitionsLimit ограничивает размер выдачи списка признаний.
const listRecognitionsLimit = 200

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateStudent(ctx context.Context, name string, current period.Period) (*model.Student, error)
	GetStudent(ctx context.Context, id int64, current period.Period) (*model.Student, error)
	CreateRecognition(ctx context.Context, senderID, recipientID int64, amount int, message string, current period.Period) (*model.Recognition, error)
	GetRecognition(ctx context.Context, id int64) (*model.Recognition, error)
	ListRecognitions(ctx context.Context, senderID, recipientID int64, limit int) ([]model.Recognition, error)
	CreateEndorsement(ctx context.Context, recognitionID, endorserID int64) (*model.Endorsement, int, error)
	CreateRedemption(ctx context.Context, studentID int64, amount, rate int) (*model.Redemption, error)
	ListRedemptions(ctx context.Context, studentID int64) ([]model.Redemption, error)
	GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
	ResetAllPeriods(ctx context.Context, current period.Period) (*model.ResetSummary, error)
}

// LeaderboardCache описывает необязательный кэш таблицы лидеров.
type LeaderboardCache interface {
	Get(ctx context.Context, limit int) ([]model.LeaderboardEntry, bool, error)
	Set(ctx context.Context, limit int, entries []model.LeaderboardEntry) error
	Invalidate(ctx context.Context) error
}

// Service содержит бизнес-логику сервиса кудос.
type Service struct {
	repo           Repository
	cache          LeaderboardCache
	redemptionRate int
	now            func() time.Time
}

// NewService создаёт новый сервис. cache может быть nil, тогда таблица
// лидеров всегда читается из БД.
func NewService(repo Repository, cache LeaderboardCache, redemptionRate int) *Service {
	return &Service{
		repo:           repo,
		cache:          cache,
		redemptionRate: redemptionRate,
		now:            time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RedemptionRate возвращает курс погашения: денежных единиц за один кредит.
func (s *Service) RedemptionRate() int {
	return s.redemptionRate
}

func (s *Service) currentPeriod() period.Period {
	return period.FromTime(s.now())
}

// RegisterStudent регистрирует нового студента с базовыми месячными кредитами.
func (s *Service) RegisterStudent(ctx context.Context, name string) (*model.Student, error) {
	name = validation.NormalizeStudentName(name)
	if !validation.IsValidStudentName(name) {
		return nil, ErrInvalidName
	}

	return s.repo.CreateStudent(ctx, name, s.currentPeriod())
}

// GetStudent возвращает студента с актуальными (после ленивого сброса) балансами.
func (s *Service) GetStudent(ctx context.Context, id int64) (*model.Student, error) {
	return s.repo.GetStudent(ctx, id, s.currentPeriod())
}

// CreateRecognition создаёт признание: списывает кредиты отправителя и
// начисляет их получателю одной транзакцией.
func (s *Service) CreateRecognition(ctx context.Context, senderID, recipientID int64, amount int, message string) (*model.Recognition, error) {
	if senderID == recipientID {
		return nil, ledger.ErrSelfRecognition
	}
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	rec, err := s.repo.CreateRecognition(ctx, senderID, recipientID, amount, message, s.currentPeriod())
	if err != nil {
		return nil, err
	}

	s.invalidateLeaderboard(ctx)

	return rec, nil
}

// GetRecognition возвращает признание с количеством одобрений.
func (s *Service) GetRecognition(ctx context.Context, id int64) (*model.Recognition, error) {
	return s.repo.GetRecognition(ctx, id)
}

// ListRecognitions возвращает признания от новых к старым с необязательными
// фильтрами по отправителю и получателю (0 - без фильтра).
func (s *Service) ListRecognitions(ctx context.Context, senderID, recipientID int64) ([]model.Recognition, error) {
	return s.repo.ListRecognitions(ctx, senderID, recipientID, listRecognitionsLimit)
}

// CreateEndorsement сохраняет одобрение признания. Возвращает одобрение и
// общее количество одобрений признания.
func (s *Service) CreateEndorsement(ctx context.Context, recognitionID, endorserID int64) (*model.Endorsement, int, error) {
	e, total, err := s.repo.CreateEndorsement(ctx, recognitionID, endorserID)
	if err != nil {
		return nil, 0, err
	}

	s.invalidateLeaderboard(ctx)

	return e, total, nil
}

// CreateRedemption погашает полученные кредиты на ваучер по текущему курсу.
// Накопленный итог студента не уменьшается, таблица лидеров не затрагивается.
func (s *Service) CreateRedemption(ctx context.Context, studentID int64, amount int) (*model.Redemption, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	return s.repo.CreateRedemption(ctx, studentID, amount, s.redemptionRate)
}

// ListRedemptions возвращает историю погашений студента.
func (s *Service) ListRedemptions(ctx context.Context, studentID int64) ([]model.Redemption, error) {
	return s.repo.ListRedemptions(ctx, studentID)
}

// Leaderboard возвращает таблицу лидеров по накопленным полученным кредитам.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	if s.cache != nil {
		if entries, hit, err := s.cache.Get(ctx, limit); err == nil && hit {
			return entries, nil
		}
	}

	entries, err := s.repo.GetLeaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		// Кэш вспомогательный: ошибку записи игнорируем.
		_ = s.cache.Set(ctx, limit, entries)
	}

	return entries, nil
}

// ResetAllPeriods применяет ленивый сброс ко всем студентам и возвращает итог.
func (s *Service) ResetAllPeriods(ctx context.Context) (*model.ResetSummary, error) {
	return s.repo.ResetAllPeriods(ctx, s.currentPeriod())
}

func (s *Service) invalidateLeaderboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx)
}
