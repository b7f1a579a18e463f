package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/voxline/internal/audio"
	"github.com/ent0n29/voxline/internal/reliability"
)

type DeepgramConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// DeepgramTranscriber uses the Deepgram prerecorded /v1/listen API.
type DeepgramTranscriber struct {
	cfg DeepgramConfig
}

func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.deepgram.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &DeepgramTranscriber{cfg: cfg}
}

func (d *DeepgramTranscriber) Name() string { return ASRDeepgram }

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, data []byte, language string) (string, error) {
	u, err := url.Parse(strings.TrimRight(d.cfg.BaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("smart_format", "true")
	if lang := strings.TrimSpace(language); lang != "" {
		q.Set("language", lang)
	}
	u.RawQuery = q.Encode()

	contentType := audio.SniffContentType(data)
	if contentType == audio.ContentTypeUnknown {
		contentType = audio.ContentTypeWAV
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	res, err := d.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request: %w", err)
	}
	defer res.Body.Close()
	if err := httpStatusError("deepgram", res); err != nil {
		return "", err
	}

	var out deepgramResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("deepgram decode response: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript), nil
}

// httpStatusError reports a non-2xx response with a bounded body excerpt.
func httpStatusError(provider string, res *http.Response) error {
	class := reliability.ClassifyHTTPStatus(res.StatusCode)
	if class == reliability.ClassOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return fmt.Errorf("%s http status %d (%s): %s", provider, res.StatusCode, class, strings.TrimSpace(string(body)))
}
