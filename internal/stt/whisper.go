package stt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// WhisperClient implements Transcriber using OpenAI's audio transcription
// endpoint.
type WhisperClient struct {
	client   oai.Client
	model    string
	language string
	tempDir  string
	logger   *log.Logger
}

// WhisperConfig holds configuration for the Whisper client.
type WhisperConfig struct {
	APIKey   string
	BaseURL  string // optional, e.g. a proxy or a test server
	Model    string // e.g., "whisper-1"
	Language string // ISO-639-1 hint, empty for auto-detect
	TempDir  string // where audio chunks are staged, empty for os.TempDir
}

// NewWhisperClient creates a new Whisper transcription client. Requests are
// not retried: a failure surfaces to the caller as a failed cycle.
func NewWhisperClient(cfg WhisperConfig, logger *log.Logger) *WhisperClient {
	model := cfg.Model
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &WhisperClient{
		client:   oai.NewClient(opts...),
		model:    model,
		language: cfg.Language,
		tempDir:  cfg.TempDir,
		logger:   logger,
	}
}

// Transcribe stages audio in a temporary .webm file for the duration of the
// upload. The file is removed on every return path.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", &TranscriptionError{Err: errors.New("no audio data")}
	}

	file, err := os.CreateTemp(c.tempDir, "versecast-*.webm")
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("create temp file: %w", err)}
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if _, err := file.Write(audio); err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("write temp file: %w", err)}
	}
	if _, err := file.Seek(0, 0); err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("rewind temp file: %w", err)}
	}

	params := oai.AudioTranscriptionNewParams{
		File:  file,
		Model: oai.AudioModel(c.model),
	}
	if c.language != "" {
		params.Language = oai.String(c.language)
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("whisper: %w", err)}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &TranscriptionError{Err: ErrEmptyTranscript}
	}

	if c.logger != nil {
		c.logger.Printf("stt: transcribed %d bytes -> %d chars", len(audio), len(text))
	}
	return text, nil
}
