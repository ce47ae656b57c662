package ingest

import (
	"context"
	"log"

	"github.com/pekka2000/radqa/internal/hl7"
	"github.com/pekka2000/radqa/internal/study"
)

// Repository — единственная операция хранилища, нужная конвейеру приёма.
// Вставка обязана быть атомарной: при гонке двух соединений за один
// номер доступа ровно одна вставка создаёт строку
type Repository interface {
	InsertStudyIfAbsent(ctx context.Context, record *study.StudyRecord) (bool, error)
}

// StatsCache инвалидируется после успешного приёма
type StatsCache interface {
	Invalidate(ctx context.Context) error
}

// Notifier рассылает событие о новом исследовании
type Notifier interface {
	BroadcastEvent(event string, payload interface{})
}

// Service — обработка одного MLLP-кадра: разбор, извлечение, сохранение.
// Результат выражается кодом подтверждения: AA — принято, AE — ошибка
// разбора/извлечения/валидации (включая дубликат номера доступа),
// AR — внутренняя ошибка
type Service struct {
	extractor *study.Extractor
	repo      Repository
	cache     StatsCache
	notifier  Notifier
}

// NewService создаёт сервис приёма. Кэш и нотификатор могут быть nil
func NewService(extractor *study.Extractor, repo Repository, cache StatsCache, notifier Notifier) *Service {
	return &Service{
		extractor: extractor,
		repo:      repo,
		cache:     cache,
		notifier:  notifier,
	}
}

// HandleFrame обрабатывает один полный кадр и возвращает код подтверждения
func (s *Service) HandleFrame(ctx context.Context, frame []byte) hl7.AckCode {
	record, err := s.extractor.Extract(string(frame))
	if err != nil {
		log.Printf("[WARN] Failed to extract study from message: %v", err)
		return hl7.AckError
	}

	created, err := s.repo.InsertStudyIfAbsent(ctx, record)
	if err != nil {
		log.Printf("[ERROR] Failed to store study %s: %v", record.AccessionNumber, err)
		return hl7.AckReject
	}
	if !created {
		log.Printf("[WARN] Duplicate accession number rejected: %s", record.AccessionNumber)
		return hl7.AckError
	}

	log.Printf("[INFO] Study stored: accession=%s result=%s", record.AccessionNumber, record.AIClassification)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			log.Printf("[WARN] Failed to invalidate stats cache: %v", err)
		}
	}
	if s.notifier != nil {
		s.notifier.BroadcastEvent("study_created", record)
	}

	return hl7.AckAccept
}
