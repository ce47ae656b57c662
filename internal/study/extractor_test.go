package study

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const boneviewMessage = "MSH|^~\\&|GLEAMER||CSILXD|LUXMED|20240315083000.123||ORU^R01|VAR0000001|P|2.5\r" +
	"PID||220380-123A|||TEST^PATIENT||19800322|F\r" +
	"OBR|1|VAR0000001||Boneview analysis\r" +
	"OBX|1|ST|result-code^^GLEAMER||POSITIVE||||||R||||||||VAR0000001\r" +
	"ZDS|1.2.392.200036.9125.2.691202139174.VAR0000001^Gleamer^Application^DICOM"

func helsinki(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		t.Fatalf("Failed to load timezone: %v", err)
	}
	return loc
}

func TestExtract_BoneviewMessage(t *testing.T) {
	e := NewExtractor(helsinki(t))

	record, err := e.Extract(boneviewMessage)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if record.AccessionNumber != "VAR0000001" {
		t.Errorf("AccessionNumber = %q, want VAR0000001", record.AccessionNumber)
	}
	if record.StudyDescription != "Boneview analysis" {
		t.Errorf("StudyDescription = %q, want Boneview analysis", record.StudyDescription)
	}
	if record.AIClassification != AIPositive {
		t.Errorf("AIClassification = %q, want POSITIVE", record.AIClassification)
	}
	if record.PatientID != "220380-123A" {
		t.Errorf("PatientID = %q, want 220380-123A", record.PatientID)
	}
	if record.PatientDOB != "19800322" {
		t.Errorf("PatientDOB = %q, want 19800322", record.PatientDOB)
	}
	if record.PatientGender != GenderFemale {
		t.Errorf("PatientGender = %q, want F", record.PatientGender)
	}
	if record.StudyUID != "1.2.392.200036.9125.2.691202139174.VAR0000001" {
		t.Errorf("StudyUID = %q", record.StudyUID)
	}
	if record.RawMessage != boneviewMessage {
		t.Error("RawMessage does not preserve the original text")
	}
}

func TestExtract_TimestampConvertedToCivilZone(t *testing.T) {
	e := NewExtractor(helsinki(t))

	record, err := e.Extract(boneviewMessage)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// 2024-03-15 08:30:00 UTC = 10:30:00 в Хельсинки (EET, +02)
	want := time.Date(2024, 3, 15, 10, 30, 0, 0, helsinki(t))
	if !record.StudyTime.Equal(want) {
		t.Errorf("StudyTime = %v, want %v", record.StudyTime, want)
	}
}

func TestExtract_BadTimestampFallsBackToNow(t *testing.T) {
	loc := helsinki(t)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	e := NewExtractor(loc)
	e.now = func() time.Time { return fixed }

	msg := strings.Replace(boneviewMessage, "20240315083000.123", "not-a-timestamp", 1)
	record, err := e.Extract(msg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !record.StudyTime.Equal(fixed) {
		t.Errorf("StudyTime = %v, want fallback %v", record.StudyTime, fixed)
	}
}

func TestExtract_AccessionPrefersOBR3(t *testing.T) {
	// Базовое сообщение несёт номер в OBR-2 (fallback); при заполненном
	// OBR-3 предпочтение отдаётся ему
	msg := strings.Replace(boneviewMessage,
		"OBR|1|VAR0000001||Boneview analysis",
		"OBR|1||VAR0000002|Boneview analysis", 1)

	e := NewExtractor(helsinki(t))
	record, err := e.Extract(msg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if record.AccessionNumber != "VAR0000002" {
		t.Errorf("AccessionNumber = %q, want VAR0000002", record.AccessionNumber)
	}
}

func TestExtract_DescriptionLeadingCaretStripped(t *testing.T) {
	msg := strings.Replace(boneviewMessage,
		"OBR|1|VAR0000001||Boneview analysis",
		"OBR|1|VAR0000001||^Boneview analysis", 1)

	e := NewExtractor(helsinki(t))
	record, err := e.Extract(msg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if record.StudyDescription != "Boneview analysis" {
		t.Errorf("StudyDescription = %q, want Boneview analysis", record.StudyDescription)
	}
}

func TestExtract_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr error
	}{
		{
			name: "no accession",
			mutate: func(s string) string {
				return strings.Replace(s, "OBR|1|VAR0000001||Boneview analysis", "OBR|1|||Boneview analysis", 1)
			},
			wantErr: ErrMissingAccession,
		},
		{
			name: "no description",
			mutate: func(s string) string {
				return strings.Replace(s, "OBR|1|VAR0000001||Boneview analysis", "OBR|1|VAR0000001", 1)
			},
			wantErr: ErrMissingDescription,
		},
		{
			name: "no result",
			mutate: func(s string) string {
				return strings.Replace(s, "OBX|1|ST|result-code^^GLEAMER||POSITIVE||||||R||||||||VAR0000001\r", "", 1)
			},
			wantErr: ErrMissingResult,
		},
	}

	e := NewExtractor(helsinki(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.mutate(boneviewMessage))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Extract error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtract_UnknownResultCoercedToNegative(t *testing.T) {
	msg := strings.Replace(boneviewMessage, "POSITIVE", "maybe?", 1)

	e := NewExtractor(helsinki(t))
	record, err := e.Extract(msg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if record.AIClassification != AINegative {
		t.Errorf("AIClassification = %q, want NEGATIVE", record.AIClassification)
	}
	if record.RawResult != "MAYBE?" {
		t.Errorf("RawResult = %q, want MAYBE?", record.RawResult)
	}
}

func TestExtract_ResultCaseInsensitive(t *testing.T) {
	msg := strings.Replace(boneviewMessage, "POSITIVE", "doubt", 1)

	e := NewExtractor(helsinki(t))
	record, err := e.Extract(msg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if record.AIClassification != AIDoubt {
		t.Errorf("AIClassification = %q, want DOUBT", record.AIClassification)
	}
}

func TestExtract_GenericSenderReadsPID3(t *testing.T) {
	// Не-GLEAMER отправитель кладёт идентификатор пациента в PID-3
	msg := strings.Replace(boneviewMessage, "MSH|^~\\&|GLEAMER|", "MSH|^~\\&|OTHERPACS|", 1)
	msg = strings.Replace(msg, "PID||220380-123A|||", "PID|||220380-123A||", 1)

	e := NewExtractor(helsinki(t))
	record, err := e.Extract(msg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if record.PatientID != "220380-123A" {
		t.Errorf("PatientID = %q, want 220380-123A", record.PatientID)
	}
}

func TestExtract_BoneviewFallbackToPID3(t *testing.T) {
	msg := strings.Replace(boneviewMessage, "PID||220380-123A|||", "PID|||220380-123A||", 1)

	e := NewExtractor(helsinki(t))
	record, err := e.Extract(msg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if record.PatientID != "220380-123A" {
		t.Errorf("PatientID = %q, want 220380-123A", record.PatientID)
	}
}

func TestParseAIResult(t *testing.T) {
	tests := []struct {
		raw   string
		want  AIResult
		known bool
	}{
		{"POSITIVE", AIPositive, true},
		{"negative", AINegative, true},
		{"Doubt", AIDoubt, true},
		{"", AINegative, false},
		{"UNSURE", AINegative, false},
	}
	for _, tt := range tests {
		got, known := ParseAIResult(tt.raw)
		if got != tt.want || known != tt.known {
			t.Errorf("ParseAIResult(%q) = (%q, %v), want (%q, %v)", tt.raw, got, known, tt.want, tt.known)
		}
	}
}

func TestParseGender(t *testing.T) {
	tests := []struct {
		raw  string
		want Gender
	}{
		{"M", GenderMale},
		{"F", GenderFemale},
		{"", GenderMale},
		{"X", GenderMale},
	}
	for _, tt := range tests {
		if got := ParseGender(tt.raw); got != tt.want {
			t.Errorf("ParseGender(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
