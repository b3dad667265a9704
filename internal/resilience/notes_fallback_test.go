package resilience

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/softclaw/vetscribe/internal/generate"
	"github.com/softclaw/vetscribe/internal/generate/mock"
)

func TestNotesFallback_PrimaryServes(t *testing.T) {
	primary := &mock.NoteGenerator{Soap: "primary note"}
	backup := &mock.NoteGenerator{Soap: "backup note"}
	f := NewNotesFallback(primary, "openai", quietFallbackConfig(3))
	f.AddFallback("ollama", backup)

	note, err := f.GenerateSoap(context.Background(), "transcript", generate.PatientContext{}, "", generate.SoapTemplate{})
	if err != nil {
		t.Fatalf("GenerateSoap: %v", err)
	}
	if note != "primary note" {
		t.Errorf("note = %q", note)
	}
	if backup.SoapCalls != 0 {
		t.Errorf("backup called %d times, want 0", backup.SoapCalls)
	}
}

func TestNotesFallback_FailsOver(t *testing.T) {
	primary := &mock.NoteGenerator{SummaryErr: errTest}
	backup := &mock.NoteGenerator{Summary: "backup summary"}
	f := NewNotesFallback(primary, "openai", quietFallbackConfig(3))
	f.AddFallback("ollama", backup)

	summary, err := f.GenerateSummary(context.Background(), "transcript")
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if summary != "backup summary" {
		t.Errorf("summary = %q", summary)
	}
	if primary.SummaryCalls != 1 || backup.SummaryCalls != 1 {
		t.Errorf("calls primary=%d backup=%d", primary.SummaryCalls, backup.SummaryCalls)
	}
}

func TestNotesFallback_AllFail(t *testing.T) {
	primary := &mock.NoteGenerator{DentalErr: errTest}
	f := NewNotesFallback(primary, "openai", quietFallbackConfig(3))

	_, err := f.AnalyzeDental(context.Background(), "dental text", "dog")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTranscriberFallback_ReplaysAudio(t *testing.T) {
	primary := &mock.Transcriber{Err: errTest}
	backup := &mock.Transcriber{Text: "transcribed"}
	f := NewTranscriberFallback(primary, "whisper", quietFallbackConfig(3))
	f.AddFallback("local", backup)

	// A plain reader is consumed by the first attempt; the fallback must
	// still see the full audio.
	audio := strings.NewReader("audio-bytes")
	got, err := f.Transcribe(context.Background(), audio, "rec.webm", "audio/webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "transcribed" {
		t.Errorf("text = %q", got)
	}
	if !bytes.Equal(backup.LastAudio, []byte("audio-bytes")) {
		t.Errorf("backup saw audio %q", backup.LastAudio)
	}
	if !bytes.Equal(primary.LastAudio, []byte("audio-bytes")) {
		t.Errorf("primary saw audio %q", primary.LastAudio)
	}
}
