package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/voxline/internal/audio"
)

// Synthesis provider names.
const (
	TTSOpenAI     = "openai"
	TTSSarvam     = "sarvam"
	TTSElevenLabs = "elevenlabs"
	TTSMock       = "mock"
)

const maxSynthesisAudioBytes = 16 << 20

var openAIVoices = map[string]bool{
	"alloy": true, "echo": true, "fable": true, "onyx": true, "nova": true, "shimmer": true,
}

type HTTPSynthConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func (c HTTPSynthConfig) withDefaults(baseURL, model string) HTTPSynthConfig {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if strings.TrimSpace(c.Model) == "" {
		c.Model = model
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 30 * time.Second}
	}
	c.APIKey = strings.TrimSpace(c.APIKey)
	return c
}

// OpenAISynthesizer uses the OpenAI /v1/audio/speech endpoint.
type OpenAISynthesizer struct {
	cfg HTTPSynthConfig
}

func NewOpenAISynthesizer(cfg HTTPSynthConfig) *OpenAISynthesizer {
	return &OpenAISynthesizer{cfg: cfg.withDefaults("https://api.openai.com", "tts-1")}
}

func (s *OpenAISynthesizer) Name() string { return TTSOpenAI }

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedAudio, error) {
	voice := strings.ToLower(strings.TrimSpace(req.Voice))
	if !openAIVoices[voice] {
		voice = "alloy"
	}
	body := map[string]any{
		"model":           s.cfg.Model,
		"input":           truncateRunes(req.Text, 200),
		"voice":           voice,
		"response_format": "mp3",
	}
	if req.Speed > 0 {
		body["speed"] = clampFloat(req.Speed, 0.25, 4)
	}
	headers := map[string]string{"Authorization": "Bearer " + s.cfg.APIKey}
	data, contentType, err := postForAudio(ctx, s.cfg.Client, TTSOpenAI, s.cfg.BaseURL+"/v1/audio/speech", headers, body)
	if err != nil {
		return SynthesizedAudio{}, err
	}
	if contentType == "" {
		contentType = audio.ContentTypeMPEG
	}
	return SynthesizedAudio{Data: data, ContentType: contentType, Provider: TTSOpenAI}, nil
}

// SarvamSynthesizer targets Indic voices through the Sarvam text-to-speech API.
type SarvamSynthesizer struct {
	cfg HTTPSynthConfig
}

func NewSarvamSynthesizer(cfg HTTPSynthConfig) *SarvamSynthesizer {
	return &SarvamSynthesizer{cfg: cfg.withDefaults("https://api.sarvam.ai", "bulbul:v1")}
}

func (s *SarvamSynthesizer) Name() string { return TTSSarvam }

func (s *SarvamSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedAudio, error) {
	speaker := strings.ToLower(strings.TrimSpace(req.Voice))
	if speaker == "" || openAIVoices[speaker] {
		speaker = "meera"
	}
	pace := req.Speed
	if pace <= 0 {
		pace = 1
	}
	payload, err := json.Marshal(map[string]any{
		"inputs":               []string{truncateRunes(req.Text, 500)},
		"target_language_code": sarvamLanguage(req.Language),
		"speaker":              speaker,
		"pitch":                0,
		"pace":                 clampFloat(pace, 0.5, 2),
		"loudness":             1.0,
		"speech_sample_rate":   8000,
		"enable_preprocessing": true,
		"model":                s.cfg.Model,
	})
	if err != nil {
		return SynthesizedAudio{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/text-to-speech", bytes.NewReader(payload))
	if err != nil {
		return SynthesizedAudio{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-subscription-key", s.cfg.APIKey)

	res, err := s.cfg.Client.Do(httpReq)
	if err != nil {
		return SynthesizedAudio{}, fmt.Errorf("sarvam request: %w", err)
	}
	defer res.Body.Close()
	if err := httpStatusError(TTSSarvam, res); err != nil {
		return SynthesizedAudio{}, err
	}

	var out struct {
		Audios []string `json:"audios"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxSynthesisAudioBytes)).Decode(&out); err != nil {
		return SynthesizedAudio{}, fmt.Errorf("sarvam decode response: %w", err)
	}
	if len(out.Audios) == 0 || out.Audios[0] == "" {
		return SynthesizedAudio{}, errors.New("sarvam: no audio in response")
	}
	data, err := base64.StdEncoding.DecodeString(out.Audios[0])
	if err != nil {
		return SynthesizedAudio{}, fmt.Errorf("sarvam decode audio: %w", err)
	}
	return SynthesizedAudio{Data: data, ContentType: audio.ContentTypeWAV, Provider: TTSSarvam}, nil
}

// sarvamLanguage maps a language tag to a Sarvam target code; bare tags get the
// Indian region.
func sarvamLanguage(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return "en-IN"
	}
	if strings.Contains(tag, "-") {
		primary, region, _ := strings.Cut(tag, "-")
		return strings.ToLower(primary) + "-" + strings.ToUpper(region)
	}
	return strings.ToLower(tag) + "-IN"
}

const defaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"

// ElevenLabsSynthesizer uses the ElevenLabs REST text-to-speech endpoint.
type ElevenLabsSynthesizer struct {
	cfg HTTPSynthConfig
}

func NewElevenLabsSynthesizer(cfg HTTPSynthConfig) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{cfg: cfg.withDefaults("https://api.elevenlabs.io", "eleven_multilingual_v2")}
}

func (s *ElevenLabsSynthesizer) Name() string { return TTSElevenLabs }

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedAudio, error) {
	voiceID := strings.TrimSpace(req.Voice)
	if voiceID == "" || openAIVoices[strings.ToLower(voiceID)] {
		voiceID = defaultElevenLabsVoice
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	body := map[string]any{
		"text":     truncateRunes(req.Text, 200),
		"model_id": s.cfg.Model,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.5,
			"speed":            clampFloat(speed, 0.7, 1.2),
		},
	}
	endpoint := s.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	headers := map[string]string{"xi-api-key": s.cfg.APIKey, "Accept": audio.ContentTypeMPEG}
	data, contentType, err := postForAudio(ctx, s.cfg.Client, TTSElevenLabs, endpoint, headers, body)
	if err != nil {
		return SynthesizedAudio{}, err
	}
	if contentType == "" {
		contentType = audio.ContentTypeMPEG
	}
	return SynthesizedAudio{Data: data, ContentType: contentType, Provider: TTSElevenLabs}, nil
}

// postForAudio posts a JSON body and returns the raw audio response.
func postForAudio(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, body any) ([]byte, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s request: %w", provider, err)
	}
	defer res.Body.Close()
	if err := httpStatusError(provider, res); err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxSynthesisAudioBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%s read audio: %w", provider, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%s: empty audio response", provider)
	}
	contentType := strings.TrimSpace(res.Header.Get("Content-Type"))
	if contentType == "" || strings.HasPrefix(contentType, "application/json") {
		contentType = ""
	}
	return data, contentType, nil
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
