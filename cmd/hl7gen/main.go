package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/pekka2000/radqa/internal/hl7"
	"github.com/pekka2000/radqa/internal/mllp"
)

// Генератор тестового трафика: отправляет серверу синтетические
// сообщения ORU^R01 с финскими персональными данными и случайными
// вердиктами ИИ, проверяя коды подтверждения

func main() {
	var (
		host  = flag.String("host", "localhost", "MLLP server host")
		port  = flag.Int("port", 8000, "MLLP server port")
		count = flag.Int("n", 1, "number of messages to send")
		start = flag.Int("start", 1, "first accession sequence number")
		delay = flag.Duration("delay", 500*time.Millisecond, "delay between messages")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	addr := fmt.Sprintf("%s:%d", *host, *port)

	accepted := 0
	for i := 0; i < *count; i++ {
		accession := fmt.Sprintf("VAR%07d", *start+i)
		message := generateMessage(rng, accession, time.Now())

		ok, err := sendMessage(addr, message)
		if err != nil {
			log.Printf("[ERROR] Failed to send %s: %v", accession, err)
			continue
		}
		if ok {
			accepted++
			log.Printf("[INFO] Accepted: %s", accession)
		} else {
			log.Printf("[WARN] Rejected: %s", accession)
		}

		if i+1 < *count {
			time.Sleep(*delay)
		}
	}

	log.Printf("[INFO] Done: %d/%d accepted", accepted, *count)
}

// generateMessage собирает сообщение в формате BoneView
func generateMessage(rng *rand.Rand, accession string, now time.Time) string {
	result := randomResult(rng)
	patientID := finnishID(rng)
	studyUID := "1.2.392.200036.9125.2.691202139174." + accession

	// Дата рождения из финского кода: ddmmyy -> 19YYMMDD
	dob := "19" + patientID[4:6] + patientID[2:4] + patientID[0:2]
	gender := "M"
	if int(patientID[len(patientID)-1]-'0')%2 == 0 {
		gender = "F"
	}

	timestamp := now.Format("20060102150405") + fmt.Sprintf(".%03d", now.Nanosecond()/1e6)

	segments := []string{
		fmt.Sprintf("MSH|^~\\&|GLEAMER||CSILXD|LUXMED|%s||ORU^R01|%s|P|2.5||||||UNICODE UTF-8|||", timestamp, accession),
		fmt.Sprintf("PID||%s|||TEST^PATIENT||%s|%s||||||", patientID, dob, gender),
		fmt.Sprintf("OBR|1|%s||Boneview analysis||||", accession),
		fmt.Sprintf("OBX|1|ST|result-code^^GLEAMER||%s||||||R||||||||%s", result, accession),
		fmt.Sprintf("ZDS|%s^Gleamer^Application^DICOM", studyUID),
	}
	return strings.Join(segments, "\r")
}

// randomResult выбирает вердикт: 10%% DOUBT, по 45%% POSITIVE и NEGATIVE
func randomResult(rng *rand.Rand) string {
	r := rng.Float64()
	switch {
	case r < 0.10:
		return "DOUBT"
	case r < 0.55:
		return "POSITIVE"
	default:
		return "NEGATIVE"
	}
}

// finnishID генерирует персональный код в формате ddmmyy-xxxx
func finnishID(rng *rand.Rand) string {
	day := rng.Intn(28) + 1
	month := rng.Intn(12) + 1
	year := rng.Intn(50) + 50
	number := rng.Intn(9999) + 1
	return fmt.Sprintf("%02d%02d%02d-%04d", day, month, year, number)
}

// sendMessage отправляет одно сообщение и ждёт подтверждения.
// Возвращает true при коде AA
func sendMessage(addr, message string) (bool, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := mllp.WriteFrame(conn, []byte(message)); err != nil {
		return false, err
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	framer := mllp.NewFramer(conn, 1<<20)
	ack, err := framer.Next()
	if err != nil {
		return false, fmt.Errorf("failed to read acknowledgment: %w", err)
	}

	parsed, err := hl7.Parse(string(ack))
	if err != nil {
		return false, fmt.Errorf("failed to parse acknowledgment: %w", err)
	}
	msa := parsed.Segment("MSA")
	if msa == nil {
		return false, fmt.Errorf("acknowledgment has no MSA segment")
	}
	return msa.Field(1) == string(hl7.AckAccept), nil
}
