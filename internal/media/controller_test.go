package media

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/normanking/livedirector/internal/directive"
)

type recordingSink struct {
	commands []string
	fail     bool
}

func (r *recordingSink) record(cmd string) error {
	if r.fail {
		return errors.New("backend unreachable")
	}
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *recordingSink) PlayTrack(title, artist string) error {
	return r.record(fmt.Sprintf("play:%s:%s", title, artist))
}
func (r *recordingSink) StopTrack() error { return r.record("stop") }
func (r *recordingSink) SetBgmLoop(on bool) error {
	if on {
		return r.record("bgm:on")
	}
	return r.record("bgm:off")
}
func (r *recordingSink) SwitchBgmPlaylist(id int64) error {
	return r.record(fmt.Sprintf("playlist:%d", id))
}

func newTestController() (*Controller, *recordingSink) {
	sink := &recordingSink{}
	return New(42, sink, zerolog.Nop(), nil), sink
}

func assertCommands(t *testing.T, sink *recordingSink, want ...string) {
	t.Helper()
	if len(sink.commands) != len(want) {
		t.Fatalf("expected commands %v, got %v", want, sink.commands)
	}
	for i := range want {
		if sink.commands[i] != want[i] {
			t.Errorf("command %d: expected %s, got %s", i, want[i], sink.commands[i])
		}
	}
}

func bgmOn() *directive.Directive {
	return &directive.Directive{Kind: directive.KindBgmSet, On: true}
}

func musicReq(title, artist string) *directive.Directive {
	return &directive.Directive{Kind: directive.KindMusicRequest, Title: title, Artist: artist}
}

func TestController_RequestPausesBgmThenPlays(t *testing.T) {
	c, sink := newTestController()

	c.Apply(bgmOn())
	c.Apply(musicReq("告白气球", ""))

	// The loop is not re-emitted, only paused, then the track plays.
	assertCommands(t, sink, "bgm:on", "bgm:off", "play:告白气球:")

	v := c.Snapshot()
	if v.Bgm != "looping" || !v.BgmPaused || v.Active == nil || v.Active.Title != "告白气球" {
		t.Errorf("unexpected state: %+v", v)
	}
}

func TestController_CompletionResumesBgmExactlyOnce(t *testing.T) {
	c, sink := newTestController()

	c.Apply(bgmOn())
	c.Apply(musicReq("告白气球", ""))

	if !c.TrackCompleted("告白气球", "") {
		t.Fatal("completion for the active track must match")
	}
	assertCommands(t, sink, "bgm:on", "bgm:off", "play:告白气球:", "bgm:on")

	// A duplicate completion is stale and must not resume again.
	if c.TrackCompleted("告白气球", "") {
		t.Error("duplicate completion must be stale")
	}
	assertCommands(t, sink, "bgm:on", "bgm:off", "play:告白气球:", "bgm:on")
}

func TestController_RequestReplacesActive(t *testing.T) {
	c, sink := newTestController()

	c.Apply(musicReq("晴天", "周杰伦"))
	c.Apply(musicReq("告白气球", ""))

	// Replace, not enqueue: old track stopped before the new one plays.
	assertCommands(t, sink, "play:晴天:周杰伦", "stop", "play:告白气球:")

	// The superseded track's completion is stale.
	if c.TrackCompleted("晴天", "周杰伦") {
		t.Error("completion for a replaced track must be ignored")
	}
	if v := c.Snapshot(); v.Active == nil || v.Active.Title != "告白气球" {
		t.Errorf("active request lost: %+v", v)
	}
}

func TestController_ReplaceWhileBgmPausedPausesOnce(t *testing.T) {
	c, sink := newTestController()

	c.Apply(bgmOn())
	c.Apply(musicReq("晴天", ""))
	c.Apply(musicReq("告白气球", ""))

	assertCommands(t, sink, "bgm:on", "bgm:off", "play:晴天:", "stop", "play:告白气球:")

	if !c.TrackCompleted("告白气球", "") {
		t.Fatal("completion should match the replacement track")
	}
	assertCommands(t, sink, "bgm:on", "bgm:off", "play:晴天:", "stop", "play:告白气球:", "bgm:on")
}

func TestController_StopClearsAndResumes(t *testing.T) {
	c, sink := newTestController()

	c.Apply(bgmOn())
	c.Apply(musicReq("告白气球", ""))
	c.Apply(&directive.Directive{Kind: directive.KindMusicStop})

	assertCommands(t, sink, "bgm:on", "bgm:off", "play:告白气球:", "stop", "bgm:on")
	if v := c.Snapshot(); v.Active != nil {
		t.Errorf("stop must clear the active request: %+v", v)
	}
}

func TestController_StopWithoutActiveIsNoop(t *testing.T) {
	c, sink := newTestController()

	c.Apply(&directive.Directive{Kind: directive.KindMusicStop})
	assertCommands(t, sink)
}

func TestController_BgmOffDoesNotTouchActiveTrack(t *testing.T) {
	c, sink := newTestController()

	c.Apply(bgmOn())
	c.Apply(musicReq("告白气球", ""))
	c.Apply(&directive.Directive{Kind: directive.KindBgmSet, On: false})

	assertCommands(t, sink, "bgm:on", "bgm:off", "play:告白气球:", "bgm:off")

	// After the loop was turned off, completion must not resume it.
	if !c.TrackCompleted("告白气球", "") {
		t.Fatal("completion should still match")
	}
	assertCommands(t, sink, "bgm:on", "bgm:off", "play:告白气球:", "bgm:off")
}

func TestController_BgmOnDuringActiveDefersLoop(t *testing.T) {
	c, sink := newTestController()

	c.Apply(musicReq("告白气球", ""))
	c.Apply(bgmOn())

	// No audible loop while the request plays.
	assertCommands(t, sink, "play:告白气球:")

	c.TrackCompleted("告白气球", "")
	assertCommands(t, sink, "play:告白气球:", "bgm:on")
}

func TestController_PlaylistSwitch(t *testing.T) {
	c, sink := newTestController()

	// Not looping: stored only.
	c.Apply(&directive.Directive{Kind: directive.KindBgmPlaylist, PlaylistID: 111})
	assertCommands(t, sink)

	c.Apply(bgmOn())
	c.Apply(&directive.Directive{Kind: directive.KindBgmPlaylist, PlaylistID: 222})
	assertCommands(t, sink, "bgm:on", "playlist:222")

	// Looping but a request is active: stored only, no switch command.
	c.Apply(musicReq("告白气球", ""))
	c.Apply(&directive.Directive{Kind: directive.KindBgmPlaylist, PlaylistID: 333})
	assertCommands(t, sink, "bgm:on", "playlist:222", "bgm:off", "play:告白气球:")
	if v := c.Snapshot(); v.PlaylistID != 333 {
		t.Errorf("playlist id must be stored, got %d", v.PlaylistID)
	}
}

func TestController_ArtistMismatchIsStale(t *testing.T) {
	c, _ := newTestController()

	c.Apply(musicReq("晴天", "周杰伦"))
	if c.TrackCompleted("晴天", "别人") {
		t.Error("artist mismatch must be stale")
	}
	if !c.TrackCompleted("晴天", "") {
		t.Error("completion without artist matches on title")
	}
}

func TestController_DeliveryFailureSurfacesAndContinues(t *testing.T) {
	sink := &recordingSink{fail: true}
	var failures int
	c := New(0, sink, zerolog.Nop(), func(error) { failures++ })

	c.Apply(bgmOn())
	c.Apply(musicReq("告白气球", ""))

	if failures == 0 {
		t.Fatal("expected delivery failures to surface")
	}
	// State machine still advanced.
	if v := c.Snapshot(); v.Active == nil || v.Bgm != "looping" {
		t.Errorf("state must advance despite failures: %+v", v)
	}
	if v := c.Snapshot(); v.PlaylistID != DefaultPlaylistID {
		t.Errorf("zero playlist id must fall back to default, got %d", v.PlaylistID)
	}
}
