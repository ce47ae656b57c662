package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pekka2000/radqa/internal/review"
	"github.com/pekka2000/radqa/internal/study"
)

// Repository — снимок исследований и классификаций для одного прохода
// агрегации. Межстрочной транзакционности не требуется
type Repository interface {
	AllStudies(ctx context.Context) ([]*study.StudyRecord, error)
	ListReviews(ctx context.Context) ([]*review.Review, error)
}

// Cache хранит готовый отчёт между пересчётами
type Cache interface {
	Get(ctx context.Context) (*Report, error)
	Set(ctx context.Context, report *Report) error
	Invalidate(ctx context.Context) error
}

// Service считает отчёт по матрице ошибок и отдаёт табличную выгрузку
type Service struct {
	repo  Repository
	cache Cache
}

// NewService создаёт сервис статистики; кэш может быть nil
func NewService(repo Repository, cache Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Report возвращает агрегированный отчёт, по возможности из кэша.
// Недоступность кэша не мешает пересчёту
func (s *Service) Report(ctx context.Context) (*Report, error) {
	if s.cache != nil {
		report, err := s.cache.Get(ctx)
		if err != nil {
			log.Printf("[WARN] Stats cache read failed: %v", err)
		} else if report != nil {
			return report, nil
		}
	}

	records, reviews, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	report := Aggregate(records, reviews)

	if s.cache != nil {
		if err := s.cache.Set(ctx, report); err != nil {
			log.Printf("[WARN] Stats cache write failed: %v", err)
		}
	}

	return report, nil
}

var exportHeader = []string{
	"accession_number",
	"study_description",
	"ai_classification",
	"raw_result",
	"patient_id",
	"patient_dob",
	"patient_gender",
	"study_uid",
	"study_time",
	"final_label",
	"reviewed_by",
	"reviewed_at",
}

// ExportCSV пишет плоскую таблицу: исследования, соединённые с их
// итоговой классификацией, новые первыми
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	records, reviews, err := s.snapshot(ctx)
	if err != nil {
		return err
	}

	sortByCreated(records)

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		label, source := Authoritative(record, reviews)

		reviewedBy := ""
		reviewedAt := ""
		if source != nil {
			reviewedBy = source.Username
			reviewedAt = source.CreatedAt.Format(time.RFC3339)
		}

		row := []string{
			record.AccessionNumber,
			record.StudyDescription,
			string(record.AIClassification),
			record.RawResult,
			record.PatientID,
			record.PatientDOB,
			string(record.PatientGender),
			record.StudyUID,
			record.StudyTime.Format(time.RFC3339),
			string(label),
			reviewedBy,
			reviewedAt,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (s *Service) snapshot(ctx context.Context) ([]*study.StudyRecord, []*review.Review, error) {
	records, err := s.repo.AllStudies(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list studies: %w", err)
	}
	reviews, err := s.repo.ListReviews(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	return records, reviews, nil
}
