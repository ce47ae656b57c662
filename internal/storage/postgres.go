package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pekka2000/radqa/internal/review"
	"github.com/pekka2000/radqa/internal/study"
)

const uniqueViolation = "23505"

// PostgresRepository реализует хранилище исследований, классификаций,
// пользователей и комментариев поверх PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository создаёт репозиторий поверх готового соединения
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NewPostgresRepositoryFromDSN создаёт репозиторий из строки подключения
func NewPostgresRepositoryFromDSN(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Настройки пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

// Close закрывает соединение с БД
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Ping проверяет доступность БД
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema создаёт таблицы и индексы, если их ещё нет.
// Частичные уникальные индексы на classifications задают ключи upsert-а:
// FOLLOW_UP — одна запись на исследование, USER — одна на пару
// (исследование, пользователь)
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_key ON users (lower(username))`,
		`CREATE TABLE IF NOT EXISTS studies (
			id BIGSERIAL PRIMARY KEY,
			accession_number TEXT NOT NULL UNIQUE,
			study_description TEXT NOT NULL,
			ai_classification TEXT NOT NULL,
			raw_result TEXT NOT NULL,
			patient_id TEXT NOT NULL DEFAULT '',
			patient_dob TEXT NOT NULL DEFAULT '',
			patient_gender TEXT NOT NULL DEFAULT 'M',
			study_uid TEXT NOT NULL DEFAULT '',
			study_time TIMESTAMPTZ NOT NULL,
			raw_hl7 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS classifications (
			id BIGSERIAL PRIMARY KEY,
			study_id BIGINT NOT NULL REFERENCES studies(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL,
			label TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS classifications_user_key
			ON classifications (study_id, user_id, kind) WHERE kind = 'USER'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS classifications_follow_up_key
			ON classifications (study_id, kind) WHERE kind = 'FOLLOW_UP'`,
		`CREATE TABLE IF NOT EXISTS comments (
			id BIGSERIAL PRIMARY KEY,
			study_id BIGINT NOT NULL REFERENCES studies(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// ===== Исследования =====

const studyColumns = `id, accession_number, study_description, ai_classification, raw_result,
	patient_id, patient_dob, patient_gender, study_uid, study_time, raw_hl7, created_at`

// InsertStudyIfAbsent атомарно сохраняет исследование, если номер доступа
// ещё не встречался. Уникальность и вставка неделимы: из двух
// конкурирующих вставок одного номера выигрывает ровно одна
func (r *PostgresRepository) InsertStudyIfAbsent(ctx context.Context, record *study.StudyRecord) (bool, error) {
	query := `
		INSERT INTO studies (accession_number, study_description, ai_classification, raw_result,
			patient_id, patient_dob, patient_gender, study_uid, study_time, raw_hl7)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (accession_number) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		record.AccessionNumber,
		record.StudyDescription,
		record.AIClassification,
		record.RawResult,
		record.PatientID,
		record.PatientDOB,
		record.PatientGender,
		record.StudyUID,
		record.StudyTime,
		record.RawMessage,
	).Scan(&record.ID, &record.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert study: %w", err)
	}
	return true, nil
}

// GetStudy возвращает исследование по идентификатору
func (r *PostgresRepository) GetStudy(ctx context.Context, id int64) (*study.StudyRecord, error) {
	query := `SELECT ` + studyColumns + ` FROM studies WHERE id = $1`
	return r.scanStudy(r.db.QueryRowContext(ctx, query, id))
}

// FindStudyByAccession возвращает исследование по номеру доступа
func (r *PostgresRepository) FindStudyByAccession(ctx context.Context, accession string) (*study.StudyRecord, error) {
	query := `SELECT ` + studyColumns + ` FROM studies WHERE accession_number = $1`
	return r.scanStudy(r.db.QueryRowContext(ctx, query, accession))
}

// ListStudies возвращает страницу исследований, новые первыми
func (r *PostgresRepository) ListStudies(ctx context.Context, limit, offset int) ([]*study.StudyRecord, error) {
	query := `SELECT ` + studyColumns + ` FROM studies ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	return r.collectStudies(rows)
}

// AllStudies возвращает все исследования для агрегации
func (r *PostgresRepository) AllStudies(ctx context.Context) ([]*study.StudyRecord, error) {
	query := `SELECT ` + studyColumns + ` FROM studies ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	return r.collectStudies(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRepository) scanStudy(row rowScanner) (*study.StudyRecord, error) {
	var record study.StudyRecord
	err := row.Scan(
		&record.ID,
		&record.AccessionNumber,
		&record.StudyDescription,
		&record.AIClassification,
		&record.RawResult,
		&record.PatientID,
		&record.PatientDOB,
		&record.PatientGender,
		&record.StudyUID,
		&record.StudyTime,
		&record.RawMessage,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, review.ErrStudyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan study: %w", err)
	}
	return &record, nil
}

func (r *PostgresRepository) collectStudies(rows *sql.Rows) ([]*study.StudyRecord, error) {
	var records []*study.StudyRecord
	for rows.Next() {
		record, err := r.scanStudy(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate studies: %w", err)
	}
	return records, nil
}

// ===== Пользователи =====

// FindUser ищет пользователя по имени без учёта регистра
func (r *PostgresRepository) FindUser(ctx context.Context, username string) (*review.User, error) {
	query := `SELECT id, username, created_at FROM users WHERE lower(username) = lower($1)`

	var user review.User
	err := r.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, review.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// CreateUser регистрирует нового пользователя
func (r *PostgresRepository) CreateUser(ctx context.Context, username string) (*review.User, error) {
	query := `INSERT INTO users (username) VALUES ($1) RETURNING id, username, created_at`

	var user review.User
	err := r.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, review.ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// GetOrCreateUser возвращает пользователя, создавая его при первом
// обращении. Существующее имя (без учёта регистра) не дублируется
func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, username string) (*review.User, error) {
	query := `
		INSERT INTO users (username) VALUES ($1)
		ON CONFLICT ((lower(username))) DO UPDATE SET username = users.username
		RETURNING id, username, created_at
	`

	var user review.User
	err := r.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return &user, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]*review.User, error) {
	query := `SELECT id, username, created_at FROM users ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*review.User
	for rows.Next() {
		var user review.User
		if err := rows.Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// ===== Классификации =====

// UpsertReview сохраняет классификацию по принципу "последняя выигрывает".
// Ключ конфликта зависит от типа: FOLLOW_UP уникален на исследование,
// USER — на пару (исследование, пользователь)
func (r *PostgresRepository) UpsertReview(ctx context.Context, rec *review.Review) error {
	var query string
	if rec.Kind == review.KindFollowUp {
		query = `
			INSERT INTO classifications (study_id, user_id, kind, label)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (study_id, kind) WHERE kind = 'FOLLOW_UP'
			DO UPDATE SET label = EXCLUDED.label, user_id = EXCLUDED.user_id, created_at = now()
			RETURNING id, created_at
		`
	} else {
		query = `
			INSERT INTO classifications (study_id, user_id, kind, label)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (study_id, user_id, kind) WHERE kind = 'USER'
			DO UPDATE SET label = EXCLUDED.label, created_at = now()
			RETURNING id, created_at
		`
	}

	err := r.db.QueryRowContext(ctx, query, rec.StudyID, rec.UserID, rec.Kind, rec.Label).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert classification: %w", err)
	}
	return nil
}

// DeleteReview удаляет классификации данного типа у исследования.
// Отсутствие записи — ошибка, а не успех
func (r *PostgresRepository) DeleteReview(ctx context.Context, studyID int64, kind review.Kind) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM classifications WHERE study_id = $1 AND kind = $2`, studyID, kind)
	if err != nil {
		return fmt.Errorf("failed to delete classification: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return review.ErrReviewNotFound
	}
	return nil
}

// ListReviews возвращает все классификации вместе с именами авторов
func (r *PostgresRepository) ListReviews(ctx context.Context) ([]*review.Review, error) {
	query := `
		SELECT c.id, c.study_id, c.user_id, u.username, c.kind, c.label, c.created_at
		FROM classifications c
		JOIN users u ON u.id = c.user_id
		ORDER BY c.created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	defer rows.Close()

	var reviews []*review.Review
	for rows.Next() {
		var rec review.Review
		err := rows.Scan(&rec.ID, &rec.StudyID, &rec.UserID, &rec.Username, &rec.Kind, &rec.Label, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		reviews = append(reviews, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate classifications: %w", err)
	}
	return reviews, nil
}

// ===== Комментарии =====

// AddComment сохраняет комментарий
func (r *PostgresRepository) AddComment(ctx context.Context, c *review.Comment) error {
	query := `
		INSERT INTO comments (study_id, user_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, c.StudyID, c.UserID, c.Text).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// GetComment возвращает комментарий по идентификатору
func (r *PostgresRepository) GetComment(ctx context.Context, id int64) (*review.Comment, error) {
	query := `
		SELECT c.id, c.study_id, c.user_id, u.username, c.body, c.created_at, c.updated_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.id = $1
	`

	var c review.Comment
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &c.StudyID, &c.UserID, &c.Username, &c.Text, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, review.ErrCommentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return &c, nil
}

// UpdateComment заменяет текст комментария
func (r *PostgresRepository) UpdateComment(ctx context.Context, id int64, text string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE comments SET body = $2, updated_at = now() WHERE id = $1`, id, text)
	if err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return review.ErrCommentNotFound
	}
	return nil
}

// DeleteComment удаляет комментарий
func (r *PostgresRepository) DeleteComment(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return review.ErrCommentNotFound
	}
	return nil
}

// ListComments возвращает комментарии исследования, новые первыми
func (r *PostgresRepository) ListComments(ctx context.Context, studyID int64) ([]*review.Comment, error) {
	query := `
		SELECT c.id, c.study_id, c.user_id, u.username, c.body, c.created_at, c.updated_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.study_id = $1
		ORDER BY c.created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*review.Comment
	for rows.Next() {
		var c review.Comment
		err := rows.Scan(&c.ID, &c.StudyID, &c.UserID, &c.Username, &c.Text, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}
