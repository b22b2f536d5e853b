// Package bridge connects the engine's sinks to the external speech and
// media backends over plain JSON HTTP. Delivery is fire-and-forget; the
// backends report speech-finished and track-complete back through the admin
// API.
package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds backend endpoints.
type Config struct {
	TTSURL   string
	MediaURL string
	Timeout  time.Duration
}

type client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func newClient(baseURL string, timeout time.Duration, logger zerolog.Logger) client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c client) post(path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	rsp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		return fmt.Errorf("post %s: backend returned %s", path, rsp.Status)
	}
	return nil
}

// TTSBridge forwards spoken segments to the speech-synthesis backend.
type TTSBridge struct {
	client
}

// NewTTSBridge creates a bridge to the TTS backend.
func NewTTSBridge(cfg Config, logger zerolog.Logger) *TTSBridge {
	return &TTSBridge{client: newClient(cfg.TTSURL, cfg.Timeout, logger.With().Str("component", "tts-bridge").Logger())}
}

// SpeakSegment hands one text segment to the backend. The backend calls
// /api/speech-finished with the utterance id when playback completes.
func (b *TTSBridge) SpeakSegment(utteranceID, text string) error {
	b.logger.Debug().Str("utterance", utteranceID).Int("chars", len(text)).Msg("speaking segment")
	return b.post("/speak", map[string]string{
		"utteranceId": utteranceID,
		"text":        text,
	})
}

// MediaBridge forwards media commands to the playback backend.
type MediaBridge struct {
	client
}

// NewMediaBridge creates a bridge to the media backend.
func NewMediaBridge(cfg Config, logger zerolog.Logger) *MediaBridge {
	return &MediaBridge{client: newClient(cfg.MediaURL, cfg.Timeout, logger.With().Str("component", "media-bridge").Logger())}
}

// PlayTrack starts an on-demand track. The backend resolves the title via its
// music catalog and calls /api/track-complete when playback ends.
func (b *MediaBridge) PlayTrack(title, artist string) error {
	return b.post("/track/play", map[string]string{
		"title":  title,
		"artist": artist,
	})
}

// StopTrack stops the active on-demand track.
func (b *MediaBridge) StopTrack() error {
	return b.post("/track/stop", struct{}{})
}

// SetBgmLoop starts or pauses the background loop.
func (b *MediaBridge) SetBgmLoop(on bool) error {
	return b.post("/bgm/loop", map[string]bool{"on": on})
}

// SwitchBgmPlaylist changes the loop's playlist.
func (b *MediaBridge) SwitchBgmPlaylist(id int64) error {
	return b.post("/bgm/playlist", map[string]int64{"id": id})
}
