// Package media tracks the on-demand track slot and the BGM loop.
//
// Like the expression machine, the controller is single-owner state driven
// exclusively from the engine's event loop; no internal locking.
package media

import (
	"github.com/rs/zerolog"

	"github.com/normanking/livedirector/internal/directive"
)

// Sink delivers media actuation commands to the playback backend.
type Sink interface {
	PlayTrack(title, artist string) error
	StopTrack() error
	SetBgmLoop(on bool) error
	SwitchBgmPlaylist(id int64) error
}

// TrackRequest is the single in-flight on-demand request. A new request
// replaces it; there is no queue.
type TrackRequest struct {
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
}

// BgmState is the background-music loop state.
type BgmState int

const (
	BgmOff BgmState = iota
	BgmLooping
)

func (s BgmState) String() string {
	if s == BgmLooping {
		return "looping"
	}
	return "off"
}

// DefaultPlaylistID is the instrumental playlist used when nothing else is
// configured.
const DefaultPlaylistID int64 = 2387965986

// Controller owns MediaState and emits sink commands per directive and
// completion event.
type Controller struct {
	sink   Sink
	logger zerolog.Logger

	bgm        BgmState
	playlistID int64
	bgmPaused  bool // loop suppressed while a request plays
	active     *TrackRequest

	onEmitErr func(error)
}

// New creates a controller. onEmitErr receives sink delivery failures after
// logging; it may be nil.
func New(playlistID int64, sink Sink, logger zerolog.Logger, onEmitErr func(error)) *Controller {
	if playlistID == 0 {
		playlistID = DefaultPlaylistID
	}
	return &Controller{
		sink:       sink,
		logger:     logger.With().Str("component", "media").Logger(),
		playlistID: playlistID,
		onEmitErr:  onEmitErr,
	}
}

// Apply processes one media directive.
func (c *Controller) Apply(d *directive.Directive) {
	switch d.Kind {
	case directive.KindMusicRequest:
		c.request(d.Title, d.Artist)
	case directive.KindMusicStop:
		c.stop()
	case directive.KindBgmSet:
		c.setBgm(d.On)
	case directive.KindBgmPlaylist:
		c.switchPlaylist(d.PlaylistID)
	default:
		c.logger.Warn().Str("kind", d.Kind.String()).Msg("non-media directive routed to media controller")
	}
}

// request replaces any active track with the new one, pausing the BGM loop
// first if it is audible.
func (c *Controller) request(title, artist string) {
	if c.active != nil {
		c.emit("stop_track", c.sink.StopTrack())
	}
	if c.bgm == BgmLooping && !c.bgmPaused {
		c.emit("pause_bgm", c.sink.SetBgmLoop(false))
		c.bgmPaused = true
	}
	c.active = &TrackRequest{Title: title, Artist: artist}
	c.emit("play_track", c.sink.PlayTrack(title, artist))
	c.logger.Info().Str("title", title).Str("artist", artist).Msg("track requested")
}

func (c *Controller) stop() {
	if c.active == nil {
		return
	}
	c.active = nil
	c.emit("stop_track", c.sink.StopTrack())
	c.resumeBgm()
}

func (c *Controller) setBgm(on bool) {
	if !on {
		c.bgm = BgmOff
		c.bgmPaused = false
		c.emit("stop_bgm", c.sink.SetBgmLoop(false))
		return
	}
	c.bgm = BgmLooping
	if c.active != nil {
		// A request is playing; the loop starts audibly once it finishes.
		c.bgmPaused = true
		return
	}
	c.bgmPaused = false
	c.emit("start_bgm", c.sink.SetBgmLoop(true))
}

func (c *Controller) switchPlaylist(id int64) {
	c.playlistID = id
	if c.bgm == BgmLooping && c.active == nil {
		c.emit("switch_playlist", c.sink.SwitchBgmPlaylist(id))
	}
	c.logger.Info().Int64("playlist", id).Msg("bgm playlist set")
}

// TrackCompleted resolves a backend completion signal against the active
// request. Stale signals for superseded tracks return false and change
// nothing.
func (c *Controller) TrackCompleted(title, artist string) bool {
	if c.active == nil || c.active.Title != title {
		c.logger.Debug().Str("title", title).Msg("stale track completion ignored")
		return false
	}
	if artist != "" && c.active.Artist != "" && c.active.Artist != artist {
		c.logger.Debug().Str("title", title).Str("artist", artist).Msg("stale track completion ignored")
		return false
	}
	c.active = nil
	c.resumeBgm()
	return true
}

// resumeBgm restarts the loop at most once per pause.
func (c *Controller) resumeBgm() {
	if c.bgm == BgmLooping && c.bgmPaused {
		c.bgmPaused = false
		c.emit("resume_bgm", c.sink.SetBgmLoop(true))
	}
}

// View is a read-only copy of MediaState.
type View struct {
	Bgm        string        `json:"bgm"`
	PlaylistID int64         `json:"playlistId"`
	BgmPaused  bool          `json:"bgmPaused"`
	Active     *TrackRequest `json:"active,omitempty"`
}

// Snapshot returns the current media state.
func (c *Controller) Snapshot() View {
	v := View{
		Bgm:        c.bgm.String(),
		PlaylistID: c.playlistID,
		BgmPaused:  c.bgmPaused,
	}
	if c.active != nil {
		req := *c.active
		v.Active = &req
	}
	return v
}

func (c *Controller) emit(op string, err error) {
	if err == nil {
		return
	}
	c.logger.Warn().Err(err).Str("op", op).Msg("media command delivery failed")
	if c.onEmitErr != nil {
		c.onEmitErr(err)
	}
}
