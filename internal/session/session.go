package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/playback"
	"github.com/voicewire/voicewire/internal/protocol"
)

// State is the protocol position of one speech request.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingStart State = "awaiting_start"
	StateStreaming     State = "streaming"
	StateFinalizing    State = "finalizing"
	StatePlaying       State = "playing"
	StateStopped       State = "stopped"
	StateErrored       State = "errored"
)

// Request captures one synthesis submission. Immutable after submit.
type Request struct {
	Text        string
	VoiceID     string
	RatePercent int
}

func (r Request) wire() protocol.SpeakRequest {
	return protocol.SpeakRequest{
		Text:  r.Text,
		Voice: r.VoiceID,
		Rate:  protocol.FormatRate(r.RatePercent),
	}
}

// Session is the state machine for a single request, from submission to
// playback completion. All methods are invoked with the owning client's
// lock held; the session itself carries no lock.
type Session struct {
	id      string
	state   State
	req     Request
	asm     *Assembler
	tracker *Tracker
	ctrl    *playback.Controller
	hub     *Hub

	// onPlaybackDone delivers the engine's completion signal back through
	// the client's lock.
	onPlaybackDone func(*Session)
}

func newSession(req Request, mediaType string, engine playback.Engine, hub *Hub, onDone func(*Session)) *Session {
	s := &Session{
		id:             uuid.NewString(),
		state:          StateIdle,
		req:            req,
		asm:            NewAssembler(mediaType),
		tracker:        &Tracker{},
		ctrl:           playback.NewController(engine),
		hub:            hub,
		onPlaybackDone: onDone,
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

// Metrics returns the session's latency tracker. Derived values are
// computed on read.
func (s *Session) Metrics() *Tracker { return s.tracker }

func (s *Session) terminal() bool {
	return s.state == StateStopped || s.state == StateErrored
}

func (s *Session) emitStatus(status Status, detail string) {
	s.hub.publish(Event{SessionID: s.id, Kind: KindStatus, Status: status, Detail: detail})
}

func (s *Session) emitMetric(metric Metric, value float64) {
	s.hub.publish(Event{SessionID: s.id, Kind: KindMetric, Metric: metric, Value: value})
}

func (s *Session) emitViolation(detail string) {
	err := &ProtocolViolationError{State: s.state, Detail: detail}
	s.hub.publish(Event{SessionID: s.id, Kind: KindProtocolViolation, Detail: err.Error()})
}

// submitted transitions Idle -> AwaitingStart as the request message goes
// out on the channel.
func (s *Session) submitted() {
	s.tracker.Reset()
	s.tracker.MarkRequest()
	s.state = StateAwaitingStart
}

func (s *Session) handleStart(_ protocol.Start) {
	if s.state != StateAwaitingStart {
		s.emitViolation("unexpected start control message")
		return
	}
	s.state = StateStreaming
	s.emitStatus(StatusStreaming, "")
}

func (s *Session) handleFrame(frame protocol.Frame) {
	if s.state != StateStreaming {
		s.emitViolation(fmt.Sprintf("binary frame of %d bytes outside streaming", len(frame)))
		return
	}
	if s.tracker.Frames() == 0 {
		s.tracker.MarkFirstFrame()
		s.emitMetric(MetricFirstByteMS, float64(s.tracker.FirstByteLatency().Milliseconds()))
	}
	s.asm.Append(frame)
	s.tracker.ObserveFrame(len(frame))
	s.emitMetric(MetricFrames, float64(s.tracker.Frames()))
	s.emitMetric(MetricBytes, float64(s.tracker.Bytes()))
}

func (s *Session) handleEnd(end protocol.End) {
	if s.state != StateStreaming {
		s.emitViolation("unexpected end control message")
		return
	}
	s.state = StateFinalizing
	s.emitMetric(MetricTotalMS, float64(end.DurationMS))

	media := s.asm.Finalize()
	duration, err := s.ctrl.Start(media, func() {
		s.onPlaybackDone(s)
	})
	switch {
	case errors.Is(err, playback.ErrNoMedia):
		s.emitStatus(StatusNothingToPlay, "")
		s.state = StateStopped
	case err != nil:
		s.state = StateErrored
		s.emitStatus(StatusError, err.Error())
	default:
		s.state = StatePlaying
		s.emitStatus(StatusPlaying, "")
		s.emitMetric(MetricBufferMS, float64(duration.Milliseconds()))
	}
}

func (s *Session) handlePeerError(msg protocol.ErrorMessage) {
	if s.terminal() {
		s.emitViolation("error control message after session end")
		return
	}
	s.ctrl.Stop()
	s.state = StateErrored
	s.emitStatus(StatusError, msg.Message)
}

// fail moves the session to Errored for request-scoped failures raised on
// this side of the channel (send failure, channel teardown).
func (s *Session) fail(detail string) {
	if s.terminal() {
		return
	}
	s.ctrl.Stop()
	s.state = StateErrored
	s.emitStatus(StatusError, detail)
}

// playbackDone handles the engine's natural completion signal. A stop that
// raced the completion wins; the session is already terminal then.
func (s *Session) playbackDone() {
	if s.state != StatePlaying {
		return
	}
	s.state = StateStopped
	s.emitStatus(StatusStopped, "")
}

// stop halts the session from any state. Idempotent: a second call on a
// stopped session emits nothing.
func (s *Session) stop() {
	if s.state == StateStopped {
		return
	}
	s.ctrl.Stop()
	s.state = StateStopped
	s.emitStatus(StatusStopped, "")
}
