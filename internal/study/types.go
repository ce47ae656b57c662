package study

import (
	"strings"
	"time"
)

// AIResult — вердикт системы анализа изображений
type AIResult string

const (
	AIPositive AIResult = "POSITIVE"
	AINegative AIResult = "NEGATIVE"
	AIDoubt    AIResult = "DOUBT"
)

// ParseAIResult приводит сырое значение результата к допустимому вердикту.
// Функция тотальна: любое нераспознанное значение трактуется как NEGATIVE,
// второй результат сообщает, было ли значение распознано
func ParseAIResult(raw string) (AIResult, bool) {
	switch AIResult(strings.ToUpper(raw)) {
	case AIPositive:
		return AIPositive, true
	case AINegative:
		return AINegative, true
	case AIDoubt:
		return AIDoubt, true
	default:
		return AINegative, false
	}
}

// Gender — пол пациента из PID-8
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// ParseGender валидирует значение пола; недопустимое или пустое
// значение приводится к "M"
func ParseGender(raw string) Gender {
	switch Gender(raw) {
	case GenderMale, GenderFemale:
		return Gender(raw)
	default:
		return GenderMale
	}
}

// StudyRecord — каноническая запись исследования, извлечённая из HL7
// сообщения. Создаётся один раз при приёме и далее не изменяется
type StudyRecord struct {
	ID               int64     `json:"id"`
	AccessionNumber  string    `json:"accession_number"`
	StudyDescription string    `json:"study_description"`
	AIClassification AIResult  `json:"ai_classification"`
	RawResult        string    `json:"raw_result"`
	PatientID        string    `json:"patient_id,omitempty"`
	PatientDOB       string    `json:"patient_dob,omitempty"`
	PatientGender    Gender    `json:"patient_gender,omitempty"`
	StudyUID         string    `json:"study_uid,omitempty"`
	StudyTime        time.Time `json:"study_time"`
	RawMessage       string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}
