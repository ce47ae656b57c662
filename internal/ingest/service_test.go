package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pekka2000/radqa/internal/hl7"
	"github.com/pekka2000/radqa/internal/ingest"
	"github.com/pekka2000/radqa/internal/storage"
	"github.com/pekka2000/radqa/internal/study"
)

const oruMessage = "MSH|^~\\&|GLEAMER||CSILXD|LUXMED|20240315083000.123||ORU^R01|VAR0000001|P|2.5\r" +
	"PID||220380-123A|||TEST^PATIENT||19800322|F\r" +
	"OBR|1|VAR0000001||Boneview analysis\r" +
	"OBX|1|ST|result-code^^GLEAMER||POSITIVE||||||R||||||||VAR0000001\r" +
	"ZDS|1.2.392.200036.9125.2.691202139174.VAR0000001^Gleamer^Application^DICOM"

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) BroadcastEvent(event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func newTestService(t *testing.T) (*ingest.Service, *storage.MemoryRepository, *recordingNotifier) {
	t.Helper()

	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		t.Fatalf("Failed to load timezone: %v", err)
	}
	repo := storage.NewMemoryRepository()
	notifier := &recordingNotifier{}
	svc := ingest.NewService(study.NewExtractor(loc), repo, nil, notifier)
	return svc, repo, notifier
}

func TestHandleFrame_AcceptsValidMessage(t *testing.T) {
	svc, repo, notifier := newTestService(t)

	code := svc.HandleFrame(context.Background(), []byte(oruMessage))
	if code != hl7.AckAccept {
		t.Fatalf("HandleFrame = %s, want AA", code)
	}

	record, err := repo.FindStudyByAccession(context.Background(), "VAR0000001")
	if err != nil {
		t.Fatalf("Stored study not found: %v", err)
	}
	if record.AIClassification != study.AIPositive {
		t.Errorf("AIClassification = %s, want POSITIVE", record.AIClassification)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 || notifier.events[0] != "study_created" {
		t.Errorf("Expected study_created event, got %v", notifier.events)
	}
}

func TestHandleFrame_DuplicateAccessionRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	ctx := context.Background()
	if code := svc.HandleFrame(ctx, []byte(oruMessage)); code != hl7.AckAccept {
		t.Fatalf("First frame = %s, want AA", code)
	}
	if code := svc.HandleFrame(ctx, []byte(oruMessage)); code != hl7.AckError {
		t.Errorf("Duplicate frame = %s, want AE", code)
	}
}

func TestHandleFrame_UnparsableMessage(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name  string
		frame string
	}{
		{"garbage", "definitely not hl7"},
		{"empty", ""},
		{"missing OBR", "MSH|^~\\&|GLEAMER||CSILXD|LUXMED|20240315083000||ORU^R01|X|P|2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := svc.HandleFrame(context.Background(), []byte(tt.frame)); code != hl7.AckError {
				t.Errorf("HandleFrame = %s, want AE", code)
			}
		})
	}
}

func TestHandleFrame_ConcurrentDuplicates(t *testing.T) {
	// При гонке за один номер доступа ровно один кадр принимается
	svc, repo, _ := newTestService(t)

	const workers = 8
	codes := make(chan hl7.AckCode, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- svc.HandleFrame(context.Background(), []byte(oruMessage))
		}()
	}
	wg.Wait()
	close(codes)

	accepted := 0
	for code := range codes {
		if code == hl7.AckAccept {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("Expected exactly 1 accepted frame, got %d", accepted)
	}

	all, err := repo.AllStudies(context.Background())
	if err != nil {
		t.Fatalf("AllStudies failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 stored study, got %d", len(all))
	}
}
