package review

import (
	"errors"

	"github.com/pekka2000/radqa/internal/study"
)

var (
	// ErrInvalidValue — оценка вне множества POSITIVE/NEGATIVE
	ErrInvalidValue = errors.New("invalid classification value")
	// ErrInvalidKind — неизвестный тип классификации
	ErrInvalidKind = errors.New("invalid classification type")
)

// Reconcile сводит вердикт ИИ и оценку врача в метку матрицы ошибок.
// Чистая функция без побочных эффектов.
//
// Вердикт сначала нормализуется к бинарной логике: DOUBT трактуется как
// POSITIVE (нормализация асимметрична намеренно — так делает источник,
// см. DESIGN.md). Для бинарной оценки врача таблица решений покрывает
// все комбинации, поэтому после валидации входов случая "ошибка логики"
// не существует
func Reconcile(ai study.AIResult, kind Kind, human Value) (Label, error) {
	if !kind.Valid() {
		return "", ErrInvalidKind
	}
	if human != ValuePositive && human != ValueNegative {
		return "", ErrInvalidValue
	}

	aiPositive := ai == study.AIPositive || ai == study.AIDoubt
	humanPositive := human == ValuePositive

	switch {
	case humanPositive && aiPositive:
		return LabelTP, nil
	case !humanPositive && !aiPositive:
		return LabelTN, nil
	case !humanPositive && aiPositive:
		return LabelFP, nil
	default:
		return LabelFN, nil
	}
}
