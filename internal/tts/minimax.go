// Package tts provides speech synthesis via the MiniMax T2A API.
package tts

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelhq/kestrel/internal/httpkit"
)

const (
	defaultAPIBase = "https://api.minimax.io/v1"
	defaultModel   = "speech-02-hd"
	defaultVoiceID = "Wise_Woman"
)

// MiniMaxClient calls the MiniMax T2A v2 endpoint. Cloned voice ids
// created through the platform work the same as system voices.
type MiniMaxClient struct {
	apiKey     string
	groupID    string
	apiBase    string
	model      string
	voiceID    string
	httpClient *http.Client
	logger     *slog.Logger
}

// MiniMaxConfig configures the MiniMax client.
type MiniMaxConfig struct {
	APIKey  string
	GroupID string // MiniMax GroupId (required)
	APIBase string // default "https://api.minimax.io/v1"
	Model   string // default "speech-02-hd"
	VoiceID string // default voice when a request doesn't name one
}

// NewMiniMaxClient creates a MiniMax TTS client.
func NewMiniMaxClient(cfg MiniMaxConfig, logger *slog.Logger) *MiniMaxClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &MiniMaxClient{
		apiKey:  cfg.APIKey,
		groupID: cfg.GroupID,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		voiceID: cfg.VoiceID,
		logger:  logger.With("provider", "minimax"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(60 * time.Second),
		),
	}
	if c.apiBase == "" {
		c.apiBase = defaultAPIBase
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.voiceID == "" {
		c.voiceID = defaultVoiceID
	}
	return c
}

// Options override per-request synthesis settings.
type Options struct {
	VoiceID string
	Model   string
}

type minimaxRequest struct {
	Model        string          `json:"model"`
	Text         string          `json:"text"`
	Stream       bool            `json:"stream"`
	VoiceSetting minimaxVoice    `json:"voice_setting"`
	AudioSetting minimaxAudioFmt `json:"audio_setting"`
}

type minimaxVoice struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Pitch   int     `json:"pitch"`
}

type minimaxAudioFmt struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
}

type minimaxResponse struct {
	Data struct {
		Audio string `json:"audio"` // hex-encoded
	} `json:"data"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// Synthesize converts text to MP3 audio bytes.
func (c *MiniMaxClient) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	voiceID := opts.VoiceID
	if voiceID == "" {
		voiceID = c.voiceID
	}
	model := opts.Model
	if model == "" {
		model = c.model
	}

	req := minimaxRequest{
		Model:        model,
		Text:         text,
		Stream:       false,
		VoiceSetting: minimaxVoice{VoiceID: voiceID, Speed: 1.0},
		AudioSetting: minimaxAudioFmt{Format: "mp3", SampleRate: 32000, Bitrate: 128000},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/t2a_v2?GroupId=%s", c.apiBase, c.groupID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("minimax API error %d: %s", resp.StatusCode, errBody)
	}

	var wire minimaxResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if wire.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("minimax error %d: %s", wire.BaseResp.StatusCode, wire.BaseResp.StatusMsg)
	}
	if wire.Data.Audio == "" {
		return nil, fmt.Errorf("minimax response carries no audio")
	}

	audio, err := hex.DecodeString(wire.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio hex: %w", err)
	}

	c.logger.Debug("synthesis complete",
		"voice", voiceID,
		"model", model,
		"text_len", len(text),
		"audio_bytes", len(audio),
	)

	return audio, nil
}
