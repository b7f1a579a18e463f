package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/voxline/internal/audio"
)

type WhisperConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// WhisperTranscriber uploads the buffer to the OpenAI transcriptions endpoint.
type WhisperTranscriber struct {
	cfg WhisperConfig
}

func NewWhisperTranscriber(cfg WhisperConfig) *WhisperTranscriber {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &WhisperTranscriber{cfg: cfg}
}

func (w *WhisperTranscriber) Name() string { return ASRWhisper }

func (w *WhisperTranscriber) Transcribe(ctx context.Context, data []byte, language string) (string, error) {
	contentType := audio.SniffContentType(data)
	if contentType == audio.ContentTypeUnknown {
		contentType = audio.ContentTypeWAV
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio"+audio.FileExtension(contentType))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", w.cfg.Model)
	if lang := primaryLanguage(language); lang != "" {
		_ = mw.WriteField("language", lang)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(w.cfg.BaseURL, "/")+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := w.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer res.Body.Close()
	if err := httpStatusError("whisper", res); err != nil {
		return "", err
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
