// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mkovalev/kudos-system/internal/ledger"
	"github.com/mkovalev/kudos-system/internal/model"
	"github.com/mkovalev/kudos-system/internal/period"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrStudentExists возвращается при попытке создать студента с уже существующим именем.
var (
	ErrStudentExists = errors.New("student with this name already exists")
	// ErrStudentNotFound возвращается, если студент не найден.
	ErrStudentNotFound = errors.New("student not found")
	// ErrRecognitionNotFound возвращается, если признание не найдено.
	ErrRecognitionNotFound = errors.New("recognition not found")
	// ErrDuplicateEndorsement возвращается при повторном одобрении того же признания тем же студентом.
	ErrDuplicateEndorsement = errors.New("each endorser can endorse a recognition only once")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlock: транзакции
		// признания блокируют сразу две строки студентов.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const studentColumns = `id, name, sending_remaining, sent_this_period, received_total, received_available, last_reset_period, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*model.Student, error) {
	var (
		s         model.Student
		rawPeriod string
	)
	err := row.Scan(
		&s.ID, &s.Name,
		&s.SendingRemaining, &s.SentThisPeriod,
		&s.ReceivedTotal, &s.ReceivedAvailable,
		&rawPeriod, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p, err := period.Parse(strings.TrimSpace(rawPeriod))
	if err != nil {
		return nil, fmt.Errorf("student %d: %w", s.ID, err)
	}
	s.LastResetPeriod = p

	return &s, nil
}

// lockStudent загружает строку студента с блокировкой FOR UPDATE внутри транзакции.
func lockStudent(ctx context.Context, tx pgx.Tx, id int64) (*model.Student, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`,
		id,
	)

	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("lock student: %w", err)
	}

	return s, nil
}

func updateStudentBalances(ctx context.Context, tx pgx.Tx, s *model.Student) error {
	_, err := tx.Exec(ctx,
		`UPDATE students
		 SET sending_remaining = $2, sent_this_period = $3,
		     received_total = $4, received_available = $5, last_reset_period = $6
		 WHERE id = $1`,
		s.ID,
		s.SendingRemaining, s.SentThisPeriod,
		s.ReceivedTotal, s.ReceivedAvailable,
		s.LastResetPeriod.String(),
	)
	if err != nil {
		return fmt.Errorf("update student balances: %w", err)
	}
	return nil
}

// CreateStudent создаёт нового студента с начальными балансами текущего периода.
func (r *PostgresRepository) CreateStudent(ctx context.Context, name string, current period.Period) (*model.Student, error) {
	initial := ledger.NewStudentBalances(current)

	row := r.pool.QueryRow(ctx,
		`INSERT INTO students (name, sending_remaining, sent_this_period, received_total, received_available, last_reset_period)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+studentColumns,
		name,
		initial.SendingRemaining, initial.SentThisPeriod,
		initial.ReceivedTotal, initial.ReceivedAvailable,
		current.String(),
	)

	s, err := scanStudent(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrStudentExists, name)
		}
		return nil, fmt.Errorf("create student: %w", err)
	}

	return s, nil
}

// GetStudent возвращает студента, предварительно применив ленивый сброс периода.
func (r *PostgresRepository) GetStudent(ctx context.Context, id int64, current period.Period) (*model.Student, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := lockStudent(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if ledger.EnsureCurrentPeriod(s, current) {
		if err := updateStudentBalances(ctx, tx, s); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return s, nil
}

// CreateRecognition атомарно списывает кредиты отправителя и начисляет их
// получателю. Обе строки студентов блокируются в порядке возрастания id,
// чтобы встречные признания не приводили к дедлокам.
func (r *PostgresRepository) CreateRecognition(ctx context.Context, senderID, recipientID int64, amount int, message string, current period.Period) (*model.Recognition, error) {
	var rec *model.Recognition

	err := r.withRetry(ctx, func() error {
		created, err := r.createRecognition(ctx, senderID, recipientID, amount, message, current)
		if err != nil {
			return err
		}
		rec = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (r *PostgresRepository) createRecognition(ctx context.Context, senderID, recipientID int64, amount int, message string, current period.Period) (*model.Recognition, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	first, second := senderID, recipientID
	if second < first {
		first, second = second, first
	}

	students := make(map[int64]*model.Student, 2)
	for _, id := range []int64{first, second} {
		s, err := lockStudent(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		students[id] = s
	}

	sender := students[senderID]
	recipient := students[recipientID]

	// Ленивый сброс обоих участников; для получателя это не влияет на
	// начисление, но поддерживает его балансы отправки актуальными.
	ledger.EnsureCurrentPeriod(sender, current)
	ledger.EnsureCurrentPeriod(recipient, current)

	if err := ledger.DebitSending(sender, amount); err != nil {
		return nil, err
	}
	ledger.CreditReceived(recipient, amount)

	if err := updateStudentBalances(ctx, tx, sender); err != nil {
		return nil, err
	}
	if err := updateStudentBalances(ctx, tx, recipient); err != nil {
		return nil, err
	}

	rec := &model.Recognition{
		SenderID:      senderID,
		RecipientID:   recipientID,
		Amount:        amount,
		Message:       message,
		CreatedPeriod: sender.LastResetPeriod,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO recognitions (sender_id, recipient_id, amount, message, created_period)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		senderID, recipientID, amount, message, rec.CreatedPeriod.String(),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert recognition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return rec, nil
}

// GetRecognition возвращает признание вместе с количеством одобрений.
func (r *PostgresRepository) GetRecognition(ctx context.Context, id int64) (*model.Recognition, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT r.id, r.sender_id, r.recipient_id, r.amount, COALESCE(r.message, ''), r.created_period, r.created_at,
		        (SELECT COUNT(*) FROM endorsements e WHERE e.recognition_id = r.id)
		 FROM recognitions r
		 WHERE r.id = $1`,
		id,
	)

	rec, err := scanRecognition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecognitionNotFound
		}
		return nil, fmt.Errorf("get recognition: %w", err)
	}

	return rec, nil
}

func scanRecognition(row rowScanner) (*model.Recognition, error) {
	var (
		rec       model.Recognition
		rawPeriod string
	)
	err := row.Scan(
		&rec.ID, &rec.SenderID, &rec.RecipientID,
		&rec.Amount, &rec.Message, &rawPeriod, &rec.CreatedAt,
		&rec.Endorsements,
	)
	if err != nil {
		return nil, err
	}

	p, err := period.Parse(strings.TrimSpace(rawPeriod))
	if err != nil {
		return nil, fmt.Errorf("recognition %d: %w", rec.ID, err)
	}
	rec.CreatedPeriod = p

	return &rec, nil
}

// ListRecognitions возвращает признания в порядке от новых к старым.
// Нулевые senderID/recipientID означают отсутствие фильтра.
func (r *PostgresRepository) ListRecognitions(ctx context.Context, senderID, recipientID int64, limit int) ([]model.Recognition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.sender_id, r.recipient_id, r.amount, COALESCE(r.message, ''), r.created_period, r.created_at,
		        (SELECT COUNT(*) FROM endorsements e WHERE e.recognition_id = r.id)
		 FROM recognitions r
		 WHERE ($1 = 0 OR r.sender_id = $1)
		   AND ($2 = 0 OR r.recipient_id = $2)
		 ORDER BY r.created_at DESC, r.id DESC
		 LIMIT $3`,
		senderID, recipientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recognitions: %w", err)
	}
	defer rows.Close()

	var res []model.Recognition
	for rows.Next() {
		rec, err := scanRecognition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recognition: %w", err)
		}
		res = append(res, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateEndorsement сохраняет одобрение признания. Дедупликация пары
// (recognition_id, endorser_id) обеспечивается уникальным ограничением.
// Возвращает созданное одобрение и общее число одобрений признания.
func (r *PostgresRepository) CreateEndorsement(ctx context.Context, recognitionID, endorserID int64) (*model.Endorsement, int, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recognitions WHERE id = $1)`,
		recognitionID,
	).Scan(&exists)
	if err != nil {
		return nil, 0, fmt.Errorf("check recognition: %w", err)
	}
	if !exists {
		return nil, 0, ErrRecognitionNotFound
	}

	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`,
		endorserID,
	).Scan(&exists)
	if err != nil {
		return nil, 0, fmt.Errorf("check endorser: %w", err)
	}
	if !exists {
		return nil, 0, ErrStudentNotFound
	}

	e := &model.Endorsement{
		RecognitionID: recognitionID,
		EndorserID:    endorserID,
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO endorsements (recognition_id, endorser_id)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		recognitionID, endorserID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, 0, ErrDuplicateEndorsement
		}
		return nil, 0, fmt.Errorf("insert endorsement: %w", err)
	}

	var total int
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM endorsements WHERE recognition_id = $1`,
		recognitionID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count endorsements: %w", err)
	}

	return e, total, nil
}

// CreateRedemption списывает полученные кредиты студента и сохраняет запись
// о погашении. Строка студента блокируется для сериализации списаний.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, studentID int64, amount, rate int) (*model.Redemption, error) {
	var red *model.Redemption

	err := r.withRetry(ctx, func() error {
		created, err := r.createRedemption(ctx, studentID, amount, rate)
		if err != nil {
			return err
		}
		red = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return red, nil
}

func (r *PostgresRepository) createRedemption(ctx context.Context, studentID int64, amount, rate int) (*model.Redemption, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := lockStudent(ctx, tx, studentID)
	if err != nil {
		return nil, err
	}

	if err := ledger.DebitReceived(s, amount); err != nil {
		return nil, err
	}

	if err := updateStudentBalances(ctx, tx, s); err != nil {
		return nil, err
	}

	red := &model.Redemption{
		StudentID: studentID,
		Amount:    amount,
		Value:     amount * rate,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO redemptions (student_id, amount, value)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		studentID, amount, red.Value,
	).Scan(&red.ID, &red.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return red, nil
}

// ListRedemptions возвращает историю погашений студента.
func (r *PostgresRepository) ListRedemptions(ctx context.Context, studentID int64) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, amount, value, created_at
		 FROM redemptions
		 WHERE student_id = $1
		 ORDER BY created_at DESC`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		var red model.Redemption
		if err := rows.Scan(&red.ID, &red.StudentID, &red.Amount, &red.Value, &red.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		res = append(res, red)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetLeaderboard возвращает таблицу лидеров по накопленным полученным кредитам.
// Порядок детерминирован: received_total по убыванию, затем id по возрастанию.
func (r *PostgresRepository) GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.name, s.received_total,
		        COALESCE(rc.cnt, 0), COALESCE(ec.cnt, 0)
		 FROM students s
		 LEFT JOIN (
		     SELECT recipient_id, COUNT(*) AS cnt
		     FROM recognitions
		     GROUP BY recipient_id
		 ) rc ON rc.recipient_id = s.id
		 LEFT JOIN (
		     SELECT r.recipient_id, COUNT(e.id) AS cnt
		     FROM recognitions r
		     JOIN endorsements e ON e.recognition_id = r.id
		     GROUP BY r.recipient_id
		 ) ec ON ec.recipient_id = s.id
		 ORDER BY s.received_total DESC, s.id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard: %w", err)
	}
	defer rows.Close()

	var res []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.StudentID, &e.Name, &e.ReceivedTotal, &e.Recognitions, &e.Endorsements); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ResetAllPeriods применяет ленивый сброс ко всем студентам. Операция
// идемпотентна: повторный запуск в том же периоде ничего не изменит.
func (r *PostgresRepository) ResetAllPeriods(ctx context.Context, current period.Period) (*model.ResetSummary, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+studentColumns+` FROM students ORDER BY id FOR UPDATE`,
	)
	if err != nil {
		return nil, fmt.Errorf("select students: %w", err)
	}

	var students []*model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	summary := &model.ResetSummary{
		Period:    current,
		Processed: len(students),
	}

	for _, s := range students {
		if !ledger.EnsureCurrentPeriod(s, current) {
			continue
		}
		if err := updateStudentBalances(ctx, tx, s); err != nil {
			return nil, err
		}
		summary.Updated++
		summary.UpdatedIDs = append(summary.UpdatedIDs, s.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return summary, nil
}
