package hl7

import (
	"errors"
	"strings"
)

const (
	defaultFieldSep     = '|'
	defaultComponentSep = '^'

	segmentSep = "\r"
)

// ErrEmptyMessage возвращается при попытке разобрать пустое сообщение
var ErrEmptyMessage = errors.New("empty HL7 message")

// Message представляет разобранное HL7v2 сообщение: упорядоченный
// список сегментов с разделителями, объявленными в MSH
type Message struct {
	segments     []*Segment
	fieldSep     byte
	componentSep byte
}

// Segment представляет один сегмент сообщения. Поле с индексом 0 — тег.
// Для MSH нумерация полей соответствует стандарту: MSH-1 — сам
// разделитель полей, поэтому MSH-7 — это метка времени, MSH-10 — control id
type Segment struct {
	fields       []string
	componentSep byte
}

// Parse разбирает текст одного HL7 сообщения. Сообщения, где сегменты
// разделены только '\n', нормализуются к '\r'; разделители полей и
// компонентов берутся из MSH, если он есть, иначе используются '|' и '^'
func Parse(text string) (*Message, error) {
	if strings.Contains(text, "\n") && !strings.Contains(text, "\r") {
		text = strings.ReplaceAll(text, "\n", segmentSep)
	}
	text = strings.Trim(text, "\r\n")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	msg := &Message{
		fieldSep:     defaultFieldSep,
		componentSep: defaultComponentSep,
	}

	lines := strings.Split(text, segmentSep)

	// Разделители объявлены в первой MSH-строке: байт сразу после тега —
	// разделитель полей, первый символ MSH-2 — разделитель компонентов
	for _, line := range lines {
		if strings.HasPrefix(line, "MSH") && len(line) > 3 {
			msg.fieldSep = line[3]
			if len(line) > 4 && line[4] != msg.fieldSep {
				msg.componentSep = line[4]
			}
			break
		}
	}

	for _, line := range lines {
		line = strings.TrimRight(line, "\n ")
		if line == "" {
			continue
		}
		fields := strings.Split(line, string(msg.fieldSep))
		if fields[0] == "MSH" {
			// MSH-1 — это сам разделитель полей
			withSep := make([]string, 0, len(fields)+1)
			withSep = append(withSep, fields[0], string(msg.fieldSep))
			withSep = append(withSep, fields[1:]...)
			fields = withSep
		}
		msg.segments = append(msg.segments, &Segment{
			fields:       fields,
			componentSep: msg.componentSep,
		})
	}

	if len(msg.segments) == 0 {
		return nil, ErrEmptyMessage
	}

	return msg, nil
}

// Segment возвращает первый сегмент с данным тегом или nil, если его нет.
// Сообщения считаются содержащими не более одного сегмента каждого тега
func (m *Message) Segment(tag string) *Segment {
	for _, s := range m.segments {
		if s.Tag() == tag {
			return s
		}
	}
	return nil
}

// Segments возвращает все сегменты сообщения по порядку
func (m *Message) Segments() []*Segment {
	return m.segments
}

// Tag возвращает тег сегмента
func (s *Segment) Tag() string {
	if len(s.fields) == 0 {
		return ""
	}
	return s.fields[0]
}

// Len возвращает количество полей, включая тег. Вызывающий обязан
// проверять длину: короткий сегмент и отсутствующий сегмент — разные случаи
func (s *Segment) Len() int {
	return len(s.fields)
}

// Field возвращает поле с индексом i или пустую строку, если поля нет
func (s *Segment) Field(i int) string {
	if i < 0 || i >= len(s.fields) {
		return ""
	}
	return s.fields[i]
}

// Component возвращает j-й компонент поля i (разделитель '^'),
// или пустую строку, если поля или компонента нет
func (s *Segment) Component(i, j int) string {
	field := s.Field(i)
	if field == "" {
		return ""
	}
	parts := strings.Split(field, string(s.componentSep))
	if j < 0 || j >= len(parts) {
		return ""
	}
	return parts[j]
}
