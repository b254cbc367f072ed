package talker

import (
	"context"

	"github.com/jonboulle/clockwork"
)

// player is the loop owned playback session.
type player struct {
	gen            uint64
	cancelLoad     context.CancelFunc
	playback       Playback
	done           <-chan struct{}
	positionTicker clockwork.Ticker
	state          PlaybackState
}

// PlayAudio stops whatever is playing and starts loading src. The call
// returns once loading has begun; progress, errors and the end of the track
// are reported to playback observers. ctx bounds the load, not the playback.
func (m *AudioManager) PlayAudio(ctx context.Context, src Source, trackID string) error {
	if src == nil {
		return NewPlaybackError("no audio source").AddDetail("track_id", trackID)
	}

	var gen uint64
	var loadCtx context.Context
	ok := m.do(func() {
		m.stopAudio()

		var cancel context.CancelFunc
		loadCtx, cancel = context.WithCancel(ctx)
		m.play.gen++
		gen = m.play.gen
		m.play.cancelLoad = cancel
		m.setPlayback(PlaybackState{Phase: PhaseLoading, TrackID: trackID})
	})
	if !ok {
		return closedError()
	}

	m.logger.LogAudioEvent("playback_loading", map[string]interface{}{
		"track_id": trackID,
		"source":   src.String(),
	})
	go m.load(loadCtx, gen, src)
	return nil
}

// StopAudio releases the current track. No notification when already idle.
func (m *AudioManager) StopAudio() {
	m.do(m.stopAudio)
}

// PauseAudio pauses a playing track without resetting its position.
func (m *AudioManager) PauseAudio() {
	m.do(m.pauseAudio)
}

// ResumeAudio continues a paused track.
func (m *AudioManager) ResumeAudio() {
	m.do(m.resumeAudio)
}

func (m *AudioManager) load(ctx context.Context, gen uint64, src Source) {
	pb, err := m.openTrack(ctx, src)
	if !m.post(context.Background(), func() { m.onLoaded(gen, pb, err) }) && pb != nil {
		_ = pb.Close()
	}
}

func (m *AudioManager) openTrack(ctx context.Context, src Source) (Playback, error) {
	data, err := ReadSource(ctx, src)
	if err != nil {
		return nil, err
	}
	return m.output.Open(ctx, data)
}

func (m *AudioManager) onLoaded(gen uint64, pb Playback, err error) {
	if gen != m.play.gen || m.play.state.Phase != PhaseLoading {
		if pb != nil {
			_ = pb.Close()
		}
		return
	}
	if m.play.cancelLoad != nil {
		m.play.cancelLoad()
		m.play.cancelLoad = nil
	}

	trackID := m.play.state.TrackID
	if err != nil {
		m.failPlayback(trackID, err)
		return
	}

	duration := pb.Duration().Seconds()
	m.setPlayback(PlaybackState{Phase: PhaseLoading, Duration: duration, TrackID: trackID})

	if err := pb.Start(); err != nil {
		_ = pb.Close()
		m.failPlayback(trackID, err)
		return
	}
	m.play.playback = pb
	m.play.done = pb.Done()
	m.play.positionTicker = m.clock.NewTicker(m.cfg.PositionInterval)

	m.setPlayback(PlaybackState{Phase: PhasePlaying, IsPlaying: true, Duration: duration, TrackID: trackID})
	m.logger.LogAudioEvent("playback_started", map[string]interface{}{
		"track_id": trackID,
		"duration": duration,
	})
}

// failPlayback reports err once as PhaseError and leaves the stored state idle.
func (m *AudioManager) failPlayback(trackID string, cause error) {
	err := WrapError(cause, ErrCodePlayback)
	if err == cause {
		err = WrapErrorf(cause, ErrCodePlayback, "%s", err.Message)
	}
	err.AddDetail("track_id", trackID)
	m.logger.LogError(err)

	m.play.state = idlePlayback()
	m.publishPlayback(idlePlayback(), PlaybackState{Phase: PhaseError, Err: err})
}

func (m *AudioManager) onPositionTick() {
	pb := m.play.playback
	if pb == nil || m.play.state.Phase != PhasePlaying {
		return
	}
	s := m.play.state
	pos := pb.Position().Seconds()
	if s.Duration > 0 && pos > s.Duration {
		pos = s.Duration
	}
	if pos != s.CurrentTime {
		s.CurrentTime = pos
		m.setPlayback(s)
	}
}

func (m *AudioManager) onTrackEnded() {
	s := m.play.state
	m.releaseTrack()
	m.setPlayback(PlaybackState{
		Phase:       PhaseEnded,
		CurrentTime: s.Duration,
		Duration:    s.Duration,
		TrackID:     s.TrackID,
	})
	m.setPlayback(idlePlayback())
	m.logger.LogAudioEvent("playback_ended", map[string]interface{}{"track_id": s.TrackID})
}

func (m *AudioManager) stopAudio() {
	if m.play.state.Phase == PhaseIdle && m.play.playback == nil && m.play.cancelLoad == nil {
		return
	}
	trackID := m.play.state.TrackID
	if m.play.state.Phase == PhaseLoading {
		m.play.gen++
	}
	m.releaseTrack()
	m.setPlayback(idlePlayback())
	m.logger.LogAudioEvent("playback_stopped", map[string]interface{}{"track_id": trackID})
}

func (m *AudioManager) pauseAudio() {
	pb := m.play.playback
	if pb == nil || m.play.state.Phase != PhasePlaying {
		return
	}
	pb.Pause()
	m.stopPositionTicker()

	s := m.play.state
	s.Phase = PhasePaused
	s.IsPlaying = false
	if pos := pb.Position().Seconds(); s.Duration <= 0 || pos <= s.Duration {
		s.CurrentTime = pos
	}
	m.setPlayback(s)
}

func (m *AudioManager) resumeAudio() {
	pb := m.play.playback
	if pb == nil || m.play.state.Phase != PhasePaused {
		return
	}
	pb.Resume()
	m.play.positionTicker = m.clock.NewTicker(m.cfg.PositionInterval)

	s := m.play.state
	s.Phase = PhasePlaying
	s.IsPlaying = true
	m.setPlayback(s)
}

func (m *AudioManager) releaseTrack() {
	m.stopPositionTicker()
	if m.play.cancelLoad != nil {
		m.play.cancelLoad()
		m.play.cancelLoad = nil
	}
	if m.play.playback != nil {
		if err := m.play.playback.Close(); err != nil {
			m.logger.WithError(err).Warn("Closing playback failed")
		}
	}
	m.play.playback = nil
	m.play.done = nil
}

func (m *AudioManager) stopPositionTicker() {
	if m.play.positionTicker != nil {
		m.play.positionTicker.Stop()
		m.play.positionTicker = nil
	}
}
