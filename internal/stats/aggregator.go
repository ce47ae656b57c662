package stats

import (
	"sort"

	"github.com/pekka2000/radqa/internal/review"
	"github.com/pekka2000/radqa/internal/study"
)

// Report — агрегированные показатели качества по всем исследованиям.
// Производные метрики выражены в процентах; при нулевом знаменателе
// метрика равна 0, а не NaN
type Report struct {
	TotalStudies         int `json:"total_studies"`
	TotalClassifications int `json:"total_classifications"`

	TP int `json:"tp"`
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`

	// Doubt считается отдельной категорией для фильтров отчётности,
	// хотя в матрице ошибок DOUBT учитывается как POSITIVE
	Doubt int `json:"doubt"`

	Sensitivity float64 `json:"sensitivity"`
	Specificity float64 `json:"specificity"`
	Accuracy    float64 `json:"accuracy"`
	PPV         float64 `json:"ppv"`
	NPV         float64 `json:"npv"`
	F1Score     float64 `json:"f1_score"`
}

// Authoritative возвращает итоговую метку исследования. Приоритет:
// классификация дообследования перекрывает пользовательскую, та —
// умолчание по вердикту ИИ (без оценки врача ИИ считается правым:
// POSITIVE и DOUBT — предполагаемый TP, NEGATIVE — предполагаемый TN).
// Вторым результатом возвращается источник метки (сам Review или nil)
func Authoritative(record *study.StudyRecord, reviews []*review.Review) (review.Label, *review.Review) {
	var followUp, user *review.Review
	for _, r := range reviews {
		if r.StudyID != record.ID {
			continue
		}
		switch r.Kind {
		case review.KindFollowUp:
			followUp = r
		case review.KindUser:
			// При нескольких пользовательских оценках берётся самая свежая
			if user == nil || r.CreatedAt.After(user.CreatedAt) {
				user = r
			}
		}
	}

	if followUp != nil {
		return followUp.Label, followUp
	}
	if user != nil {
		return user.Label, user
	}

	if record.AIClassification == study.AINegative {
		return review.LabelTN, nil
	}
	return review.LabelTP, nil
}

// Aggregate сворачивает снимок исследований и классификаций в отчёт
func Aggregate(records []*study.StudyRecord, reviews []*review.Review) *Report {
	report := &Report{
		TotalStudies:         len(records),
		TotalClassifications: len(reviews),
	}

	for _, record := range records {
		label, _ := Authoritative(record, reviews)
		switch label {
		case review.LabelTP:
			report.TP++
		case review.LabelTN:
			report.TN++
		case review.LabelFP:
			report.FP++
		case review.LabelFN:
			report.FN++
		}
		if record.AIClassification == study.AIDoubt {
			report.Doubt++
		}
	}

	total := report.TP + report.TN + report.FP + report.FN
	report.Sensitivity = percent(report.TP, report.TP+report.FN)
	report.Specificity = percent(report.TN, report.TN+report.FP)
	report.Accuracy = percent(report.TP+report.TN, total)
	report.PPV = percent(report.TP, report.TP+report.FP)
	report.NPV = percent(report.TN, report.TN+report.FN)
	report.F1Score = percent(2*report.TP, 2*report.TP+report.FP+report.FN)

	return report
}

func percent(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator) * 100
}

// sortByCreated сортирует исследования по времени создания, новые первыми
func sortByCreated(records []*study.StudyRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
