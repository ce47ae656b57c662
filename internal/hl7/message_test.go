package hl7

import (
	"errors"
	"strings"
	"testing"
)

const sampleMessage = "MSH|^~\\&|GLEAMER||CSILXD|LUXMED|20240101120000.123||ORU^R01|VAR0000001|P|2.5\r" +
	"PID||123456-789A|||TEST^PATIENT||19800101|M\r" +
	"OBR|1|VAR0000001||Boneview analysis\r" +
	"OBX|1|ST|result-code^^GLEAMER||POSITIVE\r" +
	"ZDS|1.2.392.200036^Gleamer^Application^DICOM"

func TestParse_MSHFieldNumbering(t *testing.T) {
	msg, err := Parse(sampleMessage)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	msh := msg.Segment("MSH")
	if msh == nil {
		t.Fatal("MSH segment not found")
	}

	// MSH-1 — сам разделитель полей, дальше нумерация по стандарту
	tests := []struct {
		field int
		want  string
	}{
		{1, "|"},
		{2, "^~\\&"},
		{3, "GLEAMER"},
		{5, "CSILXD"},
		{6, "LUXMED"},
		{7, "20240101120000.123"},
		{9, "ORU^R01"},
		{10, "VAR0000001"},
	}
	for _, tt := range tests {
		if got := msh.Field(tt.field); got != tt.want {
			t.Errorf("MSH-%d = %q, want %q", tt.field, got, tt.want)
		}
	}
}

func TestParse_NewlineSeparators(t *testing.T) {
	// Сообщения с '\n' вместо '\r' встречаются у реальных отправителей
	text := strings.ReplaceAll(sampleMessage, "\r", "\n")

	msg, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := len(msg.Segments()); got != 5 {
		t.Errorf("Expected 5 segments, got %d", got)
	}
	if obx := msg.Segment("OBX"); obx == nil || obx.Field(5) != "POSITIVE" {
		t.Errorf("OBX-5 not extracted from newline-separated message")
	}
}

func TestParse_EmptyMessage(t *testing.T) {
	for _, text := range []string{"", "\r\n", "   "} {
		if _, err := Parse(text); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Parse(%q) = %v, want ErrEmptyMessage", text, err)
		}
	}
}

func TestParse_CustomSeparators(t *testing.T) {
	msg, err := Parse("MSH#*~\\&#APP##DEST##20240101120000##ORU*R01#MSG001#P#2.5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	msh := msg.Segment("MSH")
	if got := msh.Field(3); got != "APP" {
		t.Errorf("MSH-3 = %q, want APP", got)
	}
	if got := msh.Component(9, 0); got != "ORU" {
		t.Errorf("MSH-9.1 = %q, want ORU", got)
	}
	if got := msh.Field(10); got != "MSG001" {
		t.Errorf("MSH-10 = %q, want MSG001", got)
	}
}

func TestSegment_OutOfRange(t *testing.T) {
	msg, err := Parse(sampleMessage)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	obr := msg.Segment("OBR")
	if got := obr.Field(99); got != "" {
		t.Errorf("Field(99) = %q, want empty string", got)
	}
	if got := obr.Component(99, 0); got != "" {
		t.Errorf("Component(99, 0) = %q, want empty string", got)
	}
	if got := obr.Component(4, 99); got != "" {
		t.Errorf("Component(4, 99) = %q, want empty string", got)
	}
	if msg.Segment("NTE") != nil {
		t.Error("Expected nil for missing segment")
	}
}

func TestSegment_Components(t *testing.T) {
	msg, err := Parse(sampleMessage)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	pid := msg.Segment("PID")
	if got := pid.Component(5, 0); got != "TEST" {
		t.Errorf("PID-5.1 = %q, want TEST", got)
	}
	if got := pid.Component(5, 1); got != "PATIENT" {
		t.Errorf("PID-5.2 = %q, want PATIENT", got)
	}
}
