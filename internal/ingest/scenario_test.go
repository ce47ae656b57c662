package ingest_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pekka2000/radqa/internal/hl7"
	"github.com/pekka2000/radqa/internal/ingest"
	"github.com/pekka2000/radqa/internal/review"
	"github.com/pekka2000/radqa/internal/stats"
	"github.com/pekka2000/radqa/internal/storage"
	"github.com/pekka2000/radqa/internal/study"
)

// Сквозной сценарий: приём сообщения, пользовательская оценка,
// дообследование, итоговая статистика
func TestScenario_IngestReviewFollowUp(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		t.Fatalf("Failed to load timezone: %v", err)
	}

	repo := storage.NewMemoryRepository()
	ingestSvc := ingest.NewService(study.NewExtractor(loc), repo, nil, nil)
	reviewSvc := review.NewService(repo, nil, nil)
	statsSvc := stats.NewService(repo, nil)

	ctx := context.Background()

	// Результат в нижнем регистре нормализуется при извлечении
	frame := strings.Replace(oruMessage, "POSITIVE", "positive", 1)
	if code := ingestSvc.HandleFrame(ctx, []byte(frame)); code != hl7.AckAccept {
		t.Fatalf("HandleFrame = %s, want AA", code)
	}

	record, err := reviewSvc.FindStudyByAccession(ctx, "VAR0000001")
	if err != nil {
		t.Fatalf("FindStudyByAccession failed: %v", err)
	}
	if record.AIClassification != study.AIPositive {
		t.Fatalf("Stored classification = %s, want POSITIVE", record.AIClassification)
	}

	// Врач не согласен с ИИ: ложноположительный результат
	rec, err := reviewSvc.SubmitReview(ctx, record.ID, "petri", review.ValueNegative, review.KindUser)
	if err != nil {
		t.Fatalf("SubmitReview failed: %v", err)
	}
	if rec.Label != review.LabelFP {
		t.Fatalf("User label = %s, want FP", rec.Label)
	}

	report, err := statsSvc.Report(ctx)
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if report.FP != 1 || report.TP != 0 {
		t.Fatalf("After user review: FP=%d TP=%d, want FP=1 TP=0", report.FP, report.TP)
	}

	// Дообследование подтверждает находку и перекрывает оценку врача
	rec, err = reviewSvc.SubmitReview(ctx, record.ID, "maija", review.ValuePositive, review.KindFollowUp)
	if err != nil {
		t.Fatalf("Follow-up SubmitReview failed: %v", err)
	}
	if rec.Label != review.LabelTP {
		t.Fatalf("Follow-up label = %s, want TP", rec.Label)
	}

	report, err = statsSvc.Report(ctx)
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if report.TP != 1 || report.FP != 0 {
		t.Errorf("After follow-up: TP=%d FP=%d, want TP=1 FP=0", report.TP, report.FP)
	}
	if report.TotalStudies != 1 || report.TotalClassifications != 2 {
		t.Errorf("Totals = studies:%d classifications:%d, want 1 and 2",
			report.TotalStudies, report.TotalClassifications)
	}
}
