package study

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/pekka2000/radqa/internal/hl7"
)

// Обязательные поля: без них сообщение отвергается целиком.
// Всё остальное (демография, UID исследования) деградирует до пустого значения
var (
	ErrMissingAccession   = errors.New("accession number not found")
	ErrMissingDescription = errors.New("study description not found")
	ErrMissingResult      = errors.New("result value not found")
)

const timestampLayout = "20060102150405"

// senderProfile описывает позиции полей конкретного отправителя.
// Разные ревизии протокола кладут идентификатор пациента в разные поля
// PID, поэтому профиль задаёт основное поле и один документированный
// fallback — дальше не гадаем
type senderProfile struct {
	name              string
	patientIDField    int
	patientIDFallback int // 0 — fallback не предусмотрен
}

var (
	boneviewProfile = senderProfile{name: "boneview", patientIDField: 2, patientIDFallback: 3}
	genericProfile  = senderProfile{name: "generic", patientIDField: 3}
)

// profileFor выбирает профиль извлечения по приложению-отправителю (MSH-3)
func profileFor(msg *hl7.Message) senderProfile {
	if msh := msg.Segment("MSH"); msh != nil {
		if strings.EqualFold(msh.Component(3, 0), "GLEAMER") {
			return boneviewProfile
		}
	}
	return genericProfile
}

// Extractor извлекает StudyRecord из текста HL7 сообщения.
// Метки времени приводятся к заданной гражданской временной зоне
type Extractor struct {
	loc *time.Location
	now func() time.Time
}

// NewExtractor создаёт экстрактор для заданной временной зоны
func NewExtractor(loc *time.Location) *Extractor {
	return &Extractor{
		loc: loc,
		now: time.Now,
	}
}

// Extract разбирает сообщение и собирает каноническую запись исследования.
// Возвращает ошибку только если не найден номер доступа, описание или
// результат — необязательные поля остаются пустыми
func (e *Extractor) Extract(raw string) (*StudyRecord, error) {
	msg, err := hl7.Parse(raw)
	if err != nil {
		return nil, err
	}

	profile := profileFor(msg)

	obr := msg.Segment("OBR")
	accession := extractAccession(obr)
	if accession == "" {
		return nil, ErrMissingAccession
	}

	description := extractDescription(obr)
	if description == "" {
		return nil, ErrMissingDescription
	}

	rawResult := ""
	if obx := msg.Segment("OBX"); obx != nil {
		rawResult = strings.ToUpper(obx.Component(5, 0))
	}
	if rawResult == "" {
		return nil, ErrMissingResult
	}

	result, known := ParseAIResult(rawResult)
	if !known {
		log.Printf("[WARN] Unknown result value %q for accession %s, defaulting to NEGATIVE", rawResult, accession)
	}

	record := &StudyRecord{
		AccessionNumber:  accession,
		StudyDescription: description,
		AIClassification: result,
		RawResult:        rawResult,
		StudyTime:        e.extractTimestamp(msg, accession),
		RawMessage:       raw,
	}

	if pid := msg.Segment("PID"); pid != nil {
		record.PatientID = pid.Component(profile.patientIDField, 0)
		if record.PatientID == "" && profile.patientIDFallback > 0 {
			record.PatientID = pid.Component(profile.patientIDFallback, 0)
		}
		record.PatientDOB = pid.Component(7, 0)
		record.PatientGender = ParseGender(pid.Component(8, 0))
	}

	if zds := msg.Segment("ZDS"); zds != nil {
		// UID исследования — первый компонент значения ZDS
		record.StudyUID = zds.Component(1, 0)
	}

	return record, nil
}

// extractAccession предпочитает OBR-3 и откатывается на OBR-2:
// источник непоследователен в позиции номера доступа
func extractAccession(obr *hl7.Segment) string {
	if obr == nil {
		return ""
	}
	if v := obr.Component(3, 0); v != "" {
		return v
	}
	return obr.Component(2, 0)
}

// extractDescription читает OBR-4, убирая один ведущий разделитель
// компонентов — артефакт некоторых отправителей
func extractDescription(obr *hl7.Segment) string {
	if obr == nil {
		return ""
	}
	description := obr.Field(4)
	return strings.TrimPrefix(description, "^")
}

// extractTimestamp разбирает MSH-7 формата YYYYMMDDHHMMSS с необязательной
// дробной частью. Метка трактуется как UTC и приводится к настроенной зоне;
// при любом нарушении формата подставляется текущее время — это
// регистрируется, но не считается ошибкой приёма
func (e *Extractor) extractTimestamp(msg *hl7.Message, accession string) time.Time {
	raw := ""
	if msh := msg.Segment("MSH"); msh != nil {
		raw = msh.Component(7, 0)
	}

	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		raw = raw[:idx]
	}

	if len(raw) == len(timestampLayout) {
		if ts, err := time.ParseInLocation(timestampLayout, raw, time.UTC); err == nil {
			return ts.In(e.loc)
		}
	}

	if raw != "" {
		log.Printf("[WARN] Unparsable MSH-7 timestamp %q for accession %s, using current time", raw, accession)
	}
	return e.now().In(e.loc)
}
