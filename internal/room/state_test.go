package room

import (
	"errors"
	"math"
	"testing"
	"time"
)

var testTrack = &Track{
	ID:         "trk-1",
	Title:      "Night Drive",
	Artist:     "Moonlit",
	DurationMs: 240_000,
	URL:        "https://cdn.example.com/trk-1.mp3",
}

func TestApplyPlayFromIdle(t *testing.T) {
	var m Machine
	now := time.Now()

	st, err := m.Apply(Command{Type: CommandPlay, Track: testTrack, Position: 0, Origin: 42}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if !st.IsPlaying {
		t.Error("IsPlaying = false, want true")
	}
	if st.Track == nil || st.Track.ID != "trk-1" {
		t.Errorf("Track = %+v, want trk-1", st.Track)
	}
	if st.Seq != 1 {
		t.Errorf("Seq = %d, want 1", st.Seq)
	}
	if st.Origin != 42 {
		t.Errorf("Origin = %d, want 42", st.Origin)
	}
}

func TestApplyRequiresTrack(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"play without track on idle room", Command{Type: CommandPlay}},
		{"pause on idle room", Command{Type: CommandPause, Position: 5}},
		{"seek on idle room", Command{Type: CommandSeek, Position: 5}},
		{"track change without track", Command{Type: CommandTrackChange}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Machine
			if _, err := m.Apply(tt.cmd, time.Now()); !errors.Is(err, ErrNoTrack) {
				t.Errorf("Apply() error = %v, want ErrNoTrack", err)
			}
		})
	}
}

func TestApplyPauseKeepsPositionVerbatim(t *testing.T) {
	var m Machine
	now := time.Now()
	m.Apply(Command{Type: CommandPlay, Track: testTrack, Origin: 1}, now)

	st, err := m.Apply(Command{Type: CommandPause, Position: 37.5, Origin: 1}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if st.IsPlaying {
		t.Error("IsPlaying = true, want false")
	}
	if st.Position != 37.5 {
		t.Errorf("Position = %v, want 37.5", st.Position)
	}
	if st.EffectivePosition(now.Add(time.Hour)) != 37.5 {
		t.Error("paused state must not extrapolate")
	}
}

func TestApplySeekPreservesPlayingFlag(t *testing.T) {
	var m Machine
	now := time.Now()
	m.Apply(Command{Type: CommandPlay, Track: testTrack, Origin: 1}, now)

	st, _ := m.Apply(Command{Type: CommandSeek, Position: 90, Origin: 1}, now)
	if !st.IsPlaying {
		t.Error("seek while playing should keep IsPlaying = true")
	}

	m.Apply(Command{Type: CommandPause, Position: 90, Origin: 1}, now)
	st, _ = m.Apply(Command{Type: CommandSeek, Position: 10, Origin: 1}, now)
	if st.IsPlaying {
		t.Error("seek while paused should keep IsPlaying = false")
	}
}

func TestApplyTrackChange(t *testing.T) {
	other := &Track{ID: "trk-2", Title: "Dawn", Artist: "Moonlit"}
	paused := false

	tests := []struct {
		name        string
		intent      *bool
		wantPlaying bool
	}{
		{"default intent is autoplay", nil, true},
		{"explicit paused intent", &paused, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Machine
			now := time.Now()
			m.Apply(Command{Type: CommandPlay, Track: testTrack, Position: 120, Origin: 1}, now)

			st, err := m.Apply(Command{Type: CommandTrackChange, Track: other, IsPlaying: tt.intent, Origin: 2}, now)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if st.Track.ID != "trk-2" {
				t.Errorf("Track.ID = %s, want trk-2", st.Track.ID)
			}
			if st.Position != 0 {
				t.Errorf("Position = %v, want 0", st.Position)
			}
			if st.IsPlaying != tt.wantPlaying {
				t.Errorf("IsPlaying = %v, want %v", st.IsPlaying, tt.wantPlaying)
			}
		})
	}
}

func TestLastWriteWins(t *testing.T) {
	var m Machine
	now := time.Now()

	m.Apply(Command{Type: CommandPlay, Track: testTrack, Position: 10, Origin: 1}, now)
	st, _ := m.Apply(Command{Type: CommandSeek, Position: 55, Origin: 2}, now)

	if st.Position != 55 || st.Origin != 2 {
		t.Errorf("state = {pos: %v, origin: %d}, want full overwrite by the latest command", st.Position, st.Origin)
	}
	if st.Seq != 2 {
		t.Errorf("Seq = %d, want 2", st.Seq)
	}
}

func TestStaleCommandIsNoOp(t *testing.T) {
	var m Machine
	now := time.Now()

	for i := 0; i < 7; i++ {
		m.Apply(Command{Type: CommandPlay, Track: testTrack, Position: float64(i), Origin: 1}, now)
	}
	if m.Seq() != 7 {
		t.Fatalf("Seq() = %d, want 7", m.Seq())
	}

	// A delayed duplicate carrying an older basis sequence must not regress state.
	_, err := m.Apply(Command{Type: CommandSeek, Position: 0, Seq: 5, Origin: 1}, now)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("Apply() error = %v, want ErrStale", err)
	}

	st := m.Snapshot(now)
	if st.Seq != 7 || st.Position != 6 {
		t.Errorf("state after stale command = {seq: %d, pos: %v}, want {7, 6}", st.Seq, st.Position)
	}
}

func TestCurrentSequenceBasisIsAccepted(t *testing.T) {
	var m Machine
	now := time.Now()
	m.Apply(Command{Type: CommandPlay, Track: testTrack, Position: 10, Origin: 1}, now)

	// The resync heartbeat extends the state it observed.
	st, err := m.Apply(Command{Type: CommandPlay, Position: 12, Seq: 1, Origin: 1}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if st.Seq != 2 {
		t.Errorf("Seq = %d, want 2", st.Seq)
	}
}

func TestSnapshotExtrapolatesWhilePlaying(t *testing.T) {
	var m Machine
	start := time.Now()
	m.Apply(Command{Type: CommandPlay, Track: testTrack, Position: 10, Origin: 1}, start)

	st := m.Snapshot(start.Add(5 * time.Second))
	if math.Abs(st.Position-15) > 1e-9 {
		t.Errorf("extrapolated position = %v, want 15", st.Position)
	}
}

func TestEffectivePositionClampsToDuration(t *testing.T) {
	st := PlaybackState{
		Track:     testTrack,
		Position:  230,
		IsPlaying: true,
		UpdatedAt: time.Now().Add(-time.Minute),
	}
	if got := st.EffectivePosition(time.Now()); got != 240 {
		t.Errorf("EffectivePosition() = %v, want clamp at 240", got)
	}
}
