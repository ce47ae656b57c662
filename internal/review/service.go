package review

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/pekka2000/radqa/internal/study"
)

// Типизированные ошибки сервиса: доменный слой не знает про HTTP-коды,
// их сопоставляет презентационный слой
var (
	ErrStudyNotFound     = errors.New("study not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrReviewNotFound    = errors.New("classification not found")
	ErrCommentNotFound   = errors.New("comment not found")
	ErrNotOwner          = errors.New("permission denied")
	ErrEmptyUsername     = errors.New("username cannot be empty")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrEmptyComment      = errors.New("comment text cannot be empty")
)

// Repository — хранилище, которым пользуется сервис классификаций
type Repository interface {
	GetStudy(ctx context.Context, id int64) (*study.StudyRecord, error)
	FindStudyByAccession(ctx context.Context, accession string) (*study.StudyRecord, error)
	ListStudies(ctx context.Context, limit, offset int) ([]*study.StudyRecord, error)

	FindUser(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, username string) (*User, error)
	GetOrCreateUser(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	UpsertReview(ctx context.Context, r *Review) error
	DeleteReview(ctx context.Context, studyID int64, kind Kind) error
	ListReviews(ctx context.Context) ([]*Review, error)

	AddComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id int64) (*Comment, error)
	UpdateComment(ctx context.Context, id int64, text string) error
	DeleteComment(ctx context.Context, id int64) error
	ListComments(ctx context.Context, studyID int64) ([]*Comment, error)
}

// StatsCache инвалидируется при каждом изменении классификаций
type StatsCache interface {
	Invalidate(ctx context.Context) error
}

// Notifier рассылает события подключённым клиентам
type Notifier interface {
	BroadcastEvent(event string, payload interface{})
}

// Service реализует операции над классификациями, пользователями
// и комментариями поверх хранилища
type Service struct {
	repo     Repository
	cache    StatsCache
	notifier Notifier
	now      func() time.Time
}

// NewService создаёт сервис. Кэш и нотификатор могут быть nil
func NewService(repo Repository, cache StatsCache, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		now:      time.Now,
	}
}

// SubmitReview вычисляет метку по вердикту ИИ и оценке врача и сохраняет
// классификацию (последняя отправка выигрывает). Значение REMOVE удаляет
// существующую классификацию данного типа; удаление несуществующей —
// ошибка, а не успех. Возвращает сохранённую запись (nil при удалении)
func (s *Service) SubmitReview(ctx context.Context, studyID int64, username string, value Value, kind Kind) (*Review, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}

	if value == ValueRemove {
		if _, err := s.repo.FindUser(ctx, username); err != nil {
			return nil, err
		}
		if err := s.repo.DeleteReview(ctx, studyID, kind); err != nil {
			return nil, err
		}
		s.afterChange(ctx, "review_removed", map[string]interface{}{
			"study_id": studyID,
			"kind":     kind,
		})
		return nil, nil
	}

	record, err := s.repo.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}

	label, err := Reconcile(record.AIClassification, kind, value)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetOrCreateUser(ctx, username)
	if err != nil {
		return nil, err
	}

	r := &Review{
		StudyID:   studyID,
		UserID:    user.ID,
		Username:  user.Username,
		Kind:      kind,
		Label:     label,
		CreatedAt: s.now(),
	}
	if err := s.repo.UpsertReview(ctx, r); err != nil {
		return nil, err
	}

	log.Printf("[INFO] Classification saved: study=%d user=%s kind=%s label=%s", studyID, user.Username, kind, label)

	s.afterChange(ctx, "review_updated", r)
	return r, nil
}

// GetStudy возвращает исследование по идентификатору
func (s *Service) GetStudy(ctx context.Context, id int64) (*study.StudyRecord, error) {
	return s.repo.GetStudy(ctx, id)
}

// FindStudyByAccession возвращает исследование по номеру доступа
func (s *Service) FindStudyByAccession(ctx context.Context, accession string) (*study.StudyRecord, error) {
	return s.repo.FindStudyByAccession(ctx, accession)
}

// ListStudies возвращает страницу исследований, новые первыми
func (s *Service) ListStudies(ctx context.Context, limit, offset int) ([]*study.StudyRecord, error) {
	return s.repo.ListStudies(ctx, limit, offset)
}

// ListReviews возвращает все классификации
func (s *Service) ListReviews(ctx context.Context) ([]*Review, error) {
	return s.repo.ListReviews(ctx)
}

// AddUser регистрирует новое имя пользователя; существующее имя
// (без учёта регистра) — ошибка
func (s *Service) AddUser(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if _, err := s.repo.FindUser(ctx, username); err == nil {
		return nil, ErrDuplicateUsername
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	return s.repo.CreateUser(ctx, username)
}

// ListUsers возвращает всех пользователей
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.repo.ListUsers(ctx)
}

// AddComment добавляет комментарий к исследованию, создавая
// пользователя при первом обращении
func (s *Service) AddComment(ctx context.Context, studyID int64, username, text string) (*Comment, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyComment
	}

	if _, err := s.repo.GetStudy(ctx, studyID); err != nil {
		return nil, err
	}

	user, err := s.repo.GetOrCreateUser(ctx, username)
	if err != nil {
		return nil, err
	}

	c := &Comment{
		StudyID:   studyID,
		UserID:    user.ID,
		Username:  user.Username,
		Text:      text,
		CreatedAt: s.now(),
	}
	if err := s.repo.AddComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// EditComment изменяет текст комментария; разрешено только автору
func (s *Service) EditComment(ctx context.Context, commentID int64, username, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyComment
	}
	if err := s.checkCommentOwner(ctx, commentID, username); err != nil {
		return err
	}
	return s.repo.UpdateComment(ctx, commentID, text)
}

// DeleteComment удаляет комментарий; разрешено только автору
func (s *Service) DeleteComment(ctx context.Context, commentID int64, username string) error {
	if err := s.checkCommentOwner(ctx, commentID, username); err != nil {
		return err
	}
	return s.repo.DeleteComment(ctx, commentID)
}

// ListComments возвращает комментарии исследования, новые первыми
func (s *Service) ListComments(ctx context.Context, studyID int64) ([]*Comment, error) {
	return s.repo.ListComments(ctx, studyID)
}

func (s *Service) checkCommentOwner(ctx context.Context, commentID int64, username string) error {
	comment, err := s.repo.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	user, err := s.repo.FindUser(ctx, username)
	if err != nil {
		return err
	}
	if user.ID != comment.UserID {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) afterChange(ctx context.Context, event string, payload interface{}) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			log.Printf("[WARN] Failed to invalidate stats cache: %v", err)
		}
	}
	if s.notifier != nil {
		s.notifier.BroadcastEvent(event, payload)
	}
}
