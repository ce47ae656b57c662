package review

import "time"

// Kind — тип классификации: обычная пользовательская оценка или
// результат контрольного дообследования
type Kind string

const (
	KindUser     Kind = "USER"
	KindFollowUp Kind = "FOLLOW_UP"
)

// Valid сообщает, допустим ли тип классификации
func (k Kind) Valid() bool {
	return k == KindUser || k == KindFollowUp
}

// Value — бинарная оценка врача
type Value string

const (
	ValuePositive Value = "POSITIVE"
	ValueNegative Value = "NEGATIVE"

	// ValueRemove — псевдо-оценка: удалить существующую классификацию
	ValueRemove Value = "REMOVE"
)

// Label — итоговая метка матрицы ошибок
type Label string

const (
	LabelTP Label = "TP"
	LabelTN Label = "TN"
	LabelFP Label = "FP"
	LabelFN Label = "FN"
)

// User — автор классификаций и комментариев. Имя пользователя —
// свободный текст, а не учётная запись
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Review — одна классификация исследования. Для KindFollowUp на
// исследование существует не более одной записи независимо от автора;
// для KindUser — не более одной на пару (исследование, автор).
// Повторная отправка перезаписывает метку и время
type Review struct {
	ID        int64     `json:"id"`
	StudyID   int64     `json:"study_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Kind      Kind      `json:"kind"`
	Label     Label     `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment — комментарий врача к исследованию
type Comment struct {
	ID        int64      `json:"id"`
	StudyID   int64      `json:"study_id"`
	UserID    int64      `json:"user_id"`
	Username  string     `json:"username,omitempty"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
