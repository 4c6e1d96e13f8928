package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// fakeWhisper serves /audio/transcriptions with the given status and body and
// records the uploaded file name.
func fakeWhisper(t *testing.T, status int, body string, gotName *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if f, hdr, err := r.FormFile("file"); err == nil {
			if gotName != nil {
				*gotName = hdr.Filename
			}
			data, _ := io.ReadAll(f)
			if string(data) != "fake-audio" {
				t.Errorf("uploaded audio = %q", data)
			}
		} else {
			t.Errorf("missing file part: %v", err)
		}
		if model := r.FormValue("model"); model != "whisper-1" {
			t.Errorf("model = %q, want whisper-1", model)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp audio files left behind: %d", len(entries))
	}
}

func TestWhisperTranscribe(t *testing.T) {
	var uploaded string
	srv := fakeWhisper(t, http.StatusOK, `{"text":"  For God so loved the world  "}`, &uploaded)
	dir := t.TempDir()

	client := NewWhisperClient(WhisperConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
		TempDir: dir,
	}, nil)

	text, err := client.Transcribe(context.Background(), []byte("fake-audio"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "For God so loved the world" {
		t.Errorf("text = %q", text)
	}
	if !strings.HasSuffix(uploaded, ".webm") {
		t.Errorf("uploaded file name = %q, want .webm suffix", uploaded)
	}
	assertDirEmpty(t, dir)
}

func TestWhisperTranscribeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"empty text", http.StatusOK, `{"text":"   "}`},
		{"api error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeWhisper(t, tt.status, tt.body, nil)
			dir := t.TempDir()
			client := NewWhisperClient(WhisperConfig{
				APIKey:  "test-key",
				BaseURL: srv.URL + "/",
				TempDir: dir,
			}, nil)

			_, err := client.Transcribe(context.Background(), []byte("fake-audio"))
			var terr *TranscriptionError
			if !errors.As(err, &terr) {
				t.Fatalf("err = %v, want *TranscriptionError", err)
			}
			assertDirEmpty(t, dir)
		})
	}
}

func TestWhisperTranscribeEmptyAudio(t *testing.T) {
	client := NewWhisperClient(WhisperConfig{APIKey: "test-key", TempDir: t.TempDir()}, nil)

	_, err := client.Transcribe(context.Background(), nil)
	var terr *TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TranscriptionError", err)
	}
}

func TestWhisperEmptyTranscriptIsWrapped(t *testing.T) {
	srv := fakeWhisper(t, http.StatusOK, `{"text":""}`, nil)
	client := NewWhisperClient(WhisperConfig{APIKey: "k", BaseURL: srv.URL + "/", TempDir: t.TempDir()}, nil)

	_, err := client.Transcribe(context.Background(), []byte("fake-audio"))
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("err = %v, want ErrEmptyTranscript", err)
	}
}
