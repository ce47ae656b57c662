package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pekka2000/radqa/internal/review"
	"github.com/pekka2000/radqa/internal/study"
)

// MemoryRepository — потокобезопасное хранилище в памяти. Используется
// в тестах и при запуске без PostgreSQL; семантика операций совпадает
// с PostgresRepository, включая атомарность insert-if-absent
type MemoryRepository struct {
	mu sync.Mutex

	nextStudyID   int64
	nextUserID    int64
	nextReviewID  int64
	nextCommentID int64

	studies  map[int64]*study.StudyRecord
	byAcc    map[string]int64
	users    map[int64]*review.User
	reviews  map[int64]*review.Review
	comments map[int64]*review.Comment
}

// NewMemoryRepository создаёт пустое хранилище
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		studies:  make(map[int64]*study.StudyRecord),
		byAcc:    make(map[string]int64),
		users:    make(map[int64]*review.User),
		reviews:  make(map[int64]*review.Review),
		comments: make(map[int64]*review.Comment),
	}
}

// ===== Исследования =====

// InsertStudyIfAbsent сохраняет исследование, если номер доступа свободен
func (m *MemoryRepository) InsertStudyIfAbsent(_ context.Context, record *study.StudyRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byAcc[record.AccessionNumber]; exists {
		return false, nil
	}

	m.nextStudyID++
	record.ID = m.nextStudyID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	clone := *record
	m.studies[record.ID] = &clone
	m.byAcc[record.AccessionNumber] = record.ID
	return true, nil
}

// GetStudy возвращает исследование по идентификатору
func (m *MemoryRepository) GetStudy(_ context.Context, id int64) (*study.StudyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.studies[id]
	if !ok {
		return nil, review.ErrStudyNotFound
	}
	clone := *record
	return &clone, nil
}

// FindStudyByAccession возвращает исследование по номеру доступа
func (m *MemoryRepository) FindStudyByAccession(_ context.Context, accession string) (*study.StudyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAcc[accession]
	if !ok {
		return nil, review.ErrStudyNotFound
	}
	clone := *m.studies[id]
	return &clone, nil
}

// ListStudies возвращает страницу исследований, новые первыми
func (m *MemoryRepository) ListStudies(ctx context.Context, limit, offset int) ([]*study.StudyRecord, error) {
	all, err := m.AllStudies(ctx)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// AllStudies возвращает все исследования, новые первыми
func (m *MemoryRepository) AllStudies(_ context.Context) ([]*study.StudyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]*study.StudyRecord, 0, len(m.studies))
	for _, record := range m.studies {
		clone := *record
		records = append(records, &clone)
	}
	// Новые первыми, как в PostgresRepository
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// ===== Пользователи =====

// FindUser ищет пользователя по имени без учёта регистра
func (m *MemoryRepository) FindUser(_ context.Context, username string) (*review.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user := m.findUserLocked(username); user != nil {
		clone := *user
		return &clone, nil
	}
	return nil, review.ErrUserNotFound
}

// CreateUser регистрирует нового пользователя
func (m *MemoryRepository) CreateUser(_ context.Context, username string) (*review.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findUserLocked(username) != nil {
		return nil, review.ErrDuplicateUsername
	}

	m.nextUserID++
	user := &review.User{
		ID:        m.nextUserID,
		Username:  username,
		CreatedAt: time.Now(),
	}
	m.users[user.ID] = user

	clone := *user
	return &clone, nil
}

// GetOrCreateUser возвращает пользователя, создавая его при первом обращении
func (m *MemoryRepository) GetOrCreateUser(_ context.Context, username string) (*review.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user := m.findUserLocked(username); user != nil {
		clone := *user
		return &clone, nil
	}

	m.nextUserID++
	user := &review.User{
		ID:        m.nextUserID,
		Username:  username,
		CreatedAt: time.Now(),
	}
	m.users[user.ID] = user

	clone := *user
	return &clone, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации
func (m *MemoryRepository) ListUsers(_ context.Context) ([]*review.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]*review.User, 0, len(m.users))
	for id := int64(1); id <= m.nextUserID; id++ {
		if user, ok := m.users[id]; ok {
			clone := *user
			users = append(users, &clone)
		}
	}
	return users, nil
}

func (m *MemoryRepository) findUserLocked(username string) *review.User {
	for _, user := range m.users {
		if strings.EqualFold(user.Username, username) {
			return user
		}
	}
	return nil
}

// ===== Классификации =====

// UpsertReview сохраняет классификацию по принципу "последняя выигрывает"
func (m *MemoryRepository) UpsertReview(_ context.Context, rec *review.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.reviews {
		if existing.StudyID != rec.StudyID || existing.Kind != rec.Kind {
			continue
		}
		// FOLLOW_UP уникален на исследование независимо от автора
		if rec.Kind == review.KindUser && existing.UserID != rec.UserID {
			continue
		}
		existing.Label = rec.Label
		existing.UserID = rec.UserID
		existing.Username = rec.Username
		existing.CreatedAt = time.Now()
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		return nil
	}

	m.nextReviewID++
	rec.ID = m.nextReviewID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	clone := *rec
	m.reviews[rec.ID] = &clone
	return nil
}

// DeleteReview удаляет классификации данного типа у исследования
func (m *MemoryRepository) DeleteReview(_ context.Context, studyID int64, kind review.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := false
	for id, rec := range m.reviews {
		if rec.StudyID == studyID && rec.Kind == kind {
			delete(m.reviews, id)
			deleted = true
		}
	}
	if !deleted {
		return review.ErrReviewNotFound
	}
	return nil
}

// ListReviews возвращает все классификации
func (m *MemoryRepository) ListReviews(_ context.Context) ([]*review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reviews := make([]*review.Review, 0, len(m.reviews))
	for id := int64(1); id <= m.nextReviewID; id++ {
		if rec, ok := m.reviews[id]; ok {
			clone := *rec
			reviews = append(reviews, &clone)
		}
	}
	return reviews, nil
}

// ===== Комментарии =====

// AddComment сохраняет комментарий
func (m *MemoryRepository) AddComment(_ context.Context, c *review.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextCommentID++
	c.ID = m.nextCommentID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	clone := *c
	m.comments[c.ID] = &clone
	return nil
}

// GetComment возвращает комментарий по идентификатору
func (m *MemoryRepository) GetComment(_ context.Context, id int64) (*review.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.comments[id]
	if !ok {
		return nil, review.ErrCommentNotFound
	}
	clone := *c
	return &clone, nil
}

// UpdateComment заменяет текст комментария
func (m *MemoryRepository) UpdateComment(_ context.Context, id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.comments[id]
	if !ok {
		return review.ErrCommentNotFound
	}
	now := time.Now()
	c.Text = text
	c.UpdatedAt = &now
	return nil
}

// DeleteComment удаляет комментарий
func (m *MemoryRepository) DeleteComment(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.comments[id]; !ok {
		return review.ErrCommentNotFound
	}
	delete(m.comments, id)
	return nil
}

// ListComments возвращает комментарии исследования, новые первыми
func (m *MemoryRepository) ListComments(_ context.Context, studyID int64) ([]*review.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var comments []*review.Comment
	for id := m.nextCommentID; id >= 1; id-- {
		if c, ok := m.comments[id]; ok && c.StudyID == studyID {
			clone := *c
			comments = append(comments, &clone)
		}
	}
	return comments, nil
}
