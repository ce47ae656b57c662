package hl7

import (
	"fmt"
	"time"
)

// AckCode — код подтверждения уровня приложения
type AckCode string

const (
	// AckAccept — сообщение принято и сохранено
	AckAccept AckCode = "AA"
	// AckError — ошибка разбора, извлечения или валидации
	AckError AckCode = "AE"
	// AckReject — внутренняя ошибка при обработке
	AckReject AckCode = "AR"
)

const (
	ackTimestampLayout = "20060102150405"

	// unknownControlID подставляется, когда control id исходного
	// сообщения восстановить не удалось
	unknownControlID = "UNKNOWN"

	defaultSendingApp      = "HOSPITAL"
	defaultSendingFacility = "RAD"
)

// BuildAck строит минимальное двухсегментное подтверждение для исходного
// сообщения: MSH с обращёнными отправителем/получателем и свежей меткой
// времени плюс MSA с кодом и исходным control id (MSH-10). Если исходное
// сообщение разобрать не удалось, подставляется placeholder вместо id —
// подтверждение отправляется всегда
func BuildAck(raw string, code AckCode, now time.Time) string {
	controlID := unknownControlID
	sendingApp := defaultSendingApp
	sendingFacility := defaultSendingFacility
	receivingApp := ""
	receivingFacility := ""

	if msg, err := Parse(raw); err == nil {
		if msh := msg.Segment("MSH"); msh != nil {
			if id := msh.Field(10); id != "" {
				controlID = id
			}
			// Отправитель ACK — получатель исходного сообщения, и наоборот
			if app := msh.Field(5); app != "" {
				sendingApp = app
			}
			if fac := msh.Field(6); fac != "" {
				sendingFacility = fac
			}
			receivingApp = msh.Field(3)
			receivingFacility = msh.Field(4)
		}
	}

	return fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||ACK^R01|%s|P|2.5\rMSA|%s|%s",
		sendingApp,
		sendingFacility,
		receivingApp,
		receivingFacility,
		now.Format(ackTimestampLayout),
		controlID,
		code,
		controlID,
	)
}
