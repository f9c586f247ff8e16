// Package handler содержит HTTP-обработчики API сервиса кудос.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mkovalev/kudos-system/internal/ledger"
	"github.com/mkovalev/kudos-system/internal/model"
	"github.com/mkovalev/kudos-system/internal/repository"
	"github.com/mkovalev/kudos-system/internal/service"
)

// defaultLeaderboardLimit и maxLeaderboardLimit задают границы размера таблицы лидеров.
const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterStudent(ctx context.Context, name string) (*model.Student, error)
	GetStudent(ctx context.Context, id int64) (*model.Student, error)
	CreateRecognition(ctx context.Context, senderID, recipientID int64, amount int, message string) (*model.Recognition, error)
	GetRecognition(ctx context.Context, id int64) (*model.Recognition, error)
	ListRecognitions(ctx context.Context, senderID, recipientID int64) ([]model.Recognition, error)
	CreateEndorsement(ctx context.Context, recognitionID, endorserID int64) (*model.Endorsement, int, error)
	CreateRedemption(ctx context.Context, studentID int64, amount int) (*model.Redemption, error)
	ListRedemptions(ctx context.Context, studentID int64) ([]model.Redemption, error)
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
	ResetAllPeriods(ctx context.Context) (*model.ResetSummary, error)
	RedemptionRate() int
}

// Handler реализует HTTP-обработчики API сервиса кудос.
type Handler struct {
	service  Service
	logger   *zap.Logger
	validate *validator.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service:  s,
		logger:   logger,
		validate: validator.New(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

type createStudentRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type studentResponse struct {
	ID                    int64  `json:"id"`
	Name                  string `json:"name"`
	AvailableCredits      int    `json:"available_credits"`
	MonthlySent           int    `json:"monthly_sent"`
	MonthlySendingLimit   int    `json:"monthly_sending_limit"`
	RemainingMonthlyLimit int    `json:"remaining_monthly_limit"`
	LastResetMonth        string `json:"last_reset_month"`
	ReceivedBalance       int    `json:"received_balance"`
	TotalCreditsReceived  int    `json:"total_credits_received"`
	VoucherValueRedeemAll int    `json:"voucher_value_if_redeem_all"`
}

func (h *Handler) studentToResponse(s *model.Student) studentResponse {
	remaining := ledger.MonthlySendingLimit - s.SentThisPeriod
	if remaining < 0 {
		remaining = 0
	}

	return studentResponse{
		ID:                    s.ID,
		Name:                  s.Name,
		AvailableCredits:      s.SendingRemaining,
		MonthlySent:           s.SentThisPeriod,
		MonthlySendingLimit:   ledger.MonthlySendingLimit,
		RemainingMonthlyLimit: remaining,
		LastResetMonth:        s.LastResetPeriod.String(),
		ReceivedBalance:       s.ReceivedAvailable,
		TotalCreditsReceived:  s.ReceivedTotal,
		VoucherValueRedeemAll: s.ReceivedAvailable * h.service.RedemptionRate(),
	}
}

// CreateStudent обрабатывает регистрацию нового студента.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	student, err := h.service.RegisterStudent(r.Context(), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidName):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrStudentExists):
			h.writeError(w, http.StatusConflict, "student with this name already exists")
		default:
			h.logger.Error("create student error", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, h.studentToResponse(student))
}

// GetStudent возвращает студента с актуальными балансами.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	student, err := h.service.GetStudent(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("get student error", zap.Error(err), zap.Int64("studentID", id))
		h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.writeJSON(w, http.StatusOK, h.studentToResponse(student))
}

type createRecognitionRequest struct {
	SenderID    int64  `json:"sender_id" validate:"required"`
	RecipientID int64  `json:"recipient_id" validate:"required"`
	Amount      int    `json:"amount" validate:"required"`
	Message     string `json:"message" validate:"max=500"`
}

type recognitionResponse struct {
	ID            int64  `json:"id"`
	SenderID      int64  `json:"sender_id"`
	RecipientID   int64  `json:"recipient_id"`
	Amount        int    `json:"amount"`
	Message       string `json:"message"`
	CreatedPeriod string `json:"created_period"`
	CreatedAt     string `json:"created_at"`
	Endorsements  int    `json:"endorsements"`
}

func recognitionToResponse(rec *model.Recognition) recognitionResponse {
	return recognitionResponse{
		ID:            rec.ID,
		SenderID:      rec.SenderID,
		RecipientID:   rec.RecipientID,
		Amount:        rec.Amount,
		Message:       rec.Message,
		CreatedPeriod: rec.CreatedPeriod.String(),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
		Endorsements:  rec.Endorsements,
	}
}

// CreateRecognition создаёт признание между двумя студентами.
func (h *Handler) CreateRecognition(w http.ResponseWriter, r *http.Request) {
	var req createRecognitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "sender_id, recipient_id and amount are required")
		return
	}

	rec, err := h.service.CreateRecognition(r.Context(), req.SenderID, req.RecipientID, req.Amount, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrSelfRecognition),
			errors.Is(err, ledger.ErrInvalidAmount),
			errors.Is(err, ledger.ErrInsufficientCredits),
			errors.Is(err, ledger.ErrMonthlyLimitExceeded):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrStudentNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("create recognition error", zap.Error(err),
				zap.Int64("senderID", req.SenderID), zap.Int64("recipientID", req.RecipientID))
			h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, recognitionToResponse(rec))
}

// GetRecognition возвращает признание с количеством одобрений.
func (h *Handler) GetRecognition(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recognition id")
		return
	}

	rec, err := h.service.GetRecognition(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRecognitionNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("get recognition error", zap.Error(err), zap.Int64("recognitionID", id))
		h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.writeJSON(w, http.StatusOK, recognitionToResponse(rec))
}

func parseOptionalIDQuery(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// ListRecognitions возвращает признания с фильтрами по отправителю и получателю.
func (h *Handler) ListRecognitions(w http.ResponseWriter, r *http.Request) {
	senderID, err := parseOptionalIDQuery(r, "sender_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid sender_id")
		return
	}
	recipientID, err := parseOptionalIDQuery(r, "recipient_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient_id")
		return
	}

	recs, err := h.service.ListRecognitions(r.Context(), senderID, recipientID)
	if err != nil {
		h.logger.Error("list recognitions error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	resp := make([]recognitionResponse, 0, len(recs))
	for i := range recs {
		resp = append(resp, recognitionToResponse(&recs[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type createEndorsementRequest struct {
	RecognitionID int64 `json:"recognition_id" validate:"required"`
	EndorserID    int64 `json:"endorser_id" validate:"required"`
}

type endorsementResponse struct {
	ID                int64 `json:"endorsement_id"`
	RecognitionID     int64 `json:"recognition_id"`
	TotalEndorsements int   `json:"total_endorsements"`
}

// CreateEndorsement сохраняет одобрение признания.
func (h *Handler) CreateEndorsement(w http.ResponseWriter, r *http.Request) {
	var req createEndorsementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "recognition_id and endorser_id are required")
		return
	}

	e, total, err := h.service.CreateEndorsement(r.Context(), req.RecognitionID, req.EndorserID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRecognitionNotFound),
			errors.Is(err, repository.ErrStudentNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, repository.ErrDuplicateEndorsement):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("create endorsement error", zap.Error(err),
				zap.Int64("recognitionID", req.RecognitionID), zap.Int64("endorserID", req.EndorserID))
			h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, endorsementResponse{
		ID:                e.ID,
		RecognitionID:     e.RecognitionID,
		TotalEndorsements: total,
	})
}

type createRedemptionRequest struct {
	StudentID int64 `json:"student_id" validate:"required"`
	Amount    int   `json:"amount" validate:"required"`
}

type redemptionResponse struct {
	ID        int64  `json:"redemption_id"`
	StudentID int64  `json:"student_id"`
	Amount    int    `json:"amount"`
	Value     int    `json:"voucher_value"`
	CreatedAt string `json:"created_at"`
}

func redemptionToResponse(red *model.Redemption) redemptionResponse {
	return redemptionResponse{
		ID:        red.ID,
		StudentID: red.StudentID,
		Amount:    red.Amount,
		Value:     red.Value,
		CreatedAt: red.CreatedAt.Format(time.RFC3339),
	}
}

// CreateRedemption погашает полученные кредиты студента на ваучер.
func (h *Handler) CreateRedemption(w http.ResponseWriter, r *http.Request) {
	var req createRedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "student_id and amount are required")
		return
	}

	red, err := h.service.CreateRedemption(r.Context(), req.StudentID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount),
			errors.Is(err, ledger.ErrInsufficientRedeemable):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrStudentNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("create redemption error", zap.Error(err), zap.Int64("studentID", req.StudentID))
			h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, redemptionToResponse(red))
}

// ListRedemptions возвращает историю погашений студента.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	reds, err := h.service.ListRedemptions(r.Context(), id)
	if err != nil {
		h.logger.Error("list redemptions error", zap.Error(err), zap.Int64("studentID", id))
		h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	resp := make([]redemptionResponse, 0, len(reds))
	for i := range reds {
		resp = append(resp, redemptionToResponse(&reds[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Leaderboard возвращает таблицу лидеров по накопленным полученным кредитам.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	entries, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			h.writeError(w, http.StatusBadRequest, "limit must be positive")
			return
		}
		h.logger.Error("leaderboard error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	h.writeJSON(w, http.StatusOK, entries)
}

type resetMonthResponse struct {
	Status     string  `json:"status"`
	ResetMonth string  `json:"reset_month"`
	Processed  int     `json:"processed"`
	Updated    int     `json:"updated"`
	UpdatedIDs []int64 `json:"updated_ids"`
}

// ResetMonth применяет ленивый месячный сброс ко всем студентам.
func (h *Handler) ResetMonth(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ResetAllPeriods(r.Context())
	if err != nil {
		h.logger.Error("reset month error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	updatedIDs := summary.UpdatedIDs
	if updatedIDs == nil {
		updatedIDs = []int64{}
	}

	h.writeJSON(w, http.StatusOK, resetMonthResponse{
		Status:     "ok",
		ResetMonth: summary.Period.String(),
		Processed:  summary.Processed,
		Updated:    summary.Updated,
		UpdatedIDs: updatedIDs,
	})
}

// Health возвращает статус сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
