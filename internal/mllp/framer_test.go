package mllp

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func frame(payload string) []byte {
	return append(append([]byte{startByte}, payload...), endByte, trailerByte)
}

func TestFramer_SingleFrame(t *testing.T) {
	f := NewFramer(bytes.NewReader(frame("MSH|^~\\&|TEST")), 0)

	got, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if string(got) != "MSH|^~\\&|TEST" {
		t.Errorf("Frame = %q, want %q", got, "MSH|^~\\&|TEST")
	}

	if _, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after stream end, got %v", err)
	}
}

func TestFramer_MultipleFramesOneRead(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frame("first"))
	stream.Write(frame("second"))
	stream.Write(frame("third"))

	f := NewFramer(&stream, 0)
	for _, want := range []string{"first", "second", "third"} {
		got, err := f.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if string(got) != want {
			t.Errorf("Frame = %q, want %q", got, want)
		}
	}
}

// chunkedReader отдаёт по одному байту за вызов Read, имитируя
// произвольную фрагментацию TCP-потока
type chunkedReader struct {
	data []byte
	pos  int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func TestFramer_ChunkBoundariesDoNotMatter(t *testing.T) {
	var stream []byte
	stream = append(stream, frame("MSH|one")...)
	stream = append(stream, frame("MSH|two")...)

	f := NewFramer(&chunkedReader{data: stream}, 0)
	for _, want := range []string{"MSH|one", "MSH|two"} {
		got, err := f.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if string(got) != want {
			t.Errorf("Frame = %q, want %q", got, want)
		}
	}
}

func TestFramer_BytesOutsideFrameIgnored(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("noise before")
	stream.Write(frame("payload"))
	stream.WriteString("noise after")

	f := NewFramer(&stream, 0)
	got, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Frame = %q, want %q", got, "payload")
	}
	if _, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestFramer_RestartOnSecondStartByte(t *testing.T) {
	// Повторный стартовый байт внутри кадра сбрасывает накопленное
	stream := []byte{startByte}
	stream = append(stream, "partial"...)
	stream = append(stream, startByte)
	stream = append(stream, "complete"...)
	stream = append(stream, endByte)

	f := NewFramer(bytes.NewReader(stream), 0)
	got, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if string(got) != "complete" {
		t.Errorf("Frame = %q, want %q", got, "complete")
	}
}

func TestFramer_PartialFrameAtEOF(t *testing.T) {
	stream := append([]byte{startByte}, "never finished"...)

	f := NewFramer(bytes.NewReader(stream), 0)
	if _, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF for unterminated frame, got %v", err)
	}
}

func TestFramer_FrameTooLarge(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frame("0123456789"))
	stream.Write(frame("ok"))

	f := NewFramer(&stream, 5)

	if _, err := f.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Expected ErrFrameTooLarge, got %v", err)
	}

	// Ошибка размера не фатальна: следующий кадр читается как обычно
	got, err := f.Next()
	if err != nil {
		t.Fatalf("Next after oversized frame failed: %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("Frame = %q, want %q", got, "ok")
	}
}

func TestWriteFrame(t *testing.T) {
	var out bytes.Buffer
	if err := WriteFrame(&out, []byte("payload")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	want := append(append([]byte{startByte}, "payload"...), endByte, trailerByte)
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("WriteFrame wrote %v, want %v", out.Bytes(), want)
	}
}

func TestWriteFrameRoundTrip(t *testing.T) {
	var out bytes.Buffer
	if err := WriteFrame(&out, []byte("round trip")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	f := NewFramer(&out, 0)
	got, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if string(got) != "round trip" {
		t.Errorf("Frame = %q, want %q", got, "round trip")
	}
}
