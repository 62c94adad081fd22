package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/voicewire/internal/playback"
	"github.com/voicewire/voicewire/internal/protocol"
)

type fakeChannel struct {
	mu       sync.Mutex
	sent     []protocol.SpeakRequest
	sendErr  error
	sendHook func()
	msgs     chan any
	once     sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{msgs: make(chan any, 64)}
}

func (f *fakeChannel) Send(_ context.Context, req protocol.SpeakRequest) error {
	if f.sendHook != nil {
		f.sendHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeChannel) Messages() <-chan any { return f.msgs }

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.msgs) })
	return nil
}

func (f *fakeChannel) deliver(msg any) { f.msgs <- msg }

func (f *fakeChannel) sentRequests() []protocol.SpeakRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.SpeakRequest, len(f.sent))
	copy(out, f.sent)
	return out
}

// stubEngine holds the completion signal until the test fires it.
type stubEngine struct {
	mu       sync.Mutex
	duration time.Duration
	loadErr  error
	loads    int
	stops    int
	media    playback.Media
	done     func()
}

func (e *stubEngine) Load(media playback.Media) (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	e.media = media
	if e.loadErr != nil {
		return 0, e.loadErr
	}
	return e.duration, nil
}

func (e *stubEngine) Play(done func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = done
	return nil
}

func (e *stubEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
}

func (e *stubEngine) complete() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		done()
	}
}

func (e *stubEngine) loadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

func (e *stubEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func (e *stubEngine) loadedMedia() playback.Media {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.media
}

func waitFor(t *testing.T, events <-chan Event, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", what)
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, state := c.Session(); state == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	_, state := c.Session()
	t.Fatalf("state = %s, want %s", state, want)
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	ch := newFakeChannel()
	c := NewClient(ch, &stubEngine{})
	defer c.Close()

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := c.Submit(context.Background(), Request{Text: text, VoiceID: "en"}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("Submit(%q) error = %v, want ErrInvalidRequest", text, err)
		}
	}
	if len(ch.sentRequests()) != 0 {
		t.Fatalf("rejected submit reached the transport")
	}
	if _, state := c.Session(); state != StateIdle {
		t.Fatalf("state = %s, want idle", state)
	}
}

func TestStreamingDeliveryScenario(t *testing.T) {
	ch := newFakeChannel()
	eng := &stubEngine{duration: 900 * time.Millisecond}
	c := NewClient(ch, eng)
	defer c.Close()

	events, cancel := c.Subscribe(64)
	defer cancel()

	id, err := c.Submit(context.Background(), Request{Text: "Hello", VoiceID: "en-US", RatePercent: 0})
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	sent := ch.sentRequests()
	if len(sent) != 1 {
		t.Fatalf("sent %d requests, want 1", len(sent))
	}
	if sent[0].Text != "Hello" || sent[0].Voice != "en-US" || sent[0].Rate != "+0%" {
		t.Fatalf("wire request = %+v, want Hello/en-US/+0%%", sent[0])
	}

	ch.deliver(protocol.Start{Type: protocol.TypeStart})
	ch.deliver(protocol.Frame(make([]byte, 4096)))
	ch.deliver(protocol.Frame(make([]byte, 2048)))
	ch.deliver(protocol.End{Type: protocol.TypeEnd, Chunks: 2, Bytes: 6144, DurationMS: 1200})

	// Status precedes the metrics that depend on it, and metrics arrive in
	// frame-processing order.
	var seen []Event
	waitFor(t, events, "buffer metric", func(ev Event) bool {
		seen = append(seen, ev)
		return ev.Kind == KindMetric && ev.Metric == MetricBufferMS
	})

	want := []struct {
		kind   EventKind
		status Status
		metric Metric
		value  float64
	}{
		{KindStatus, StatusStreaming, "", 0},
		{KindMetric, "", MetricFirstByteMS, -1}, // value is wall-clock dependent
		{KindMetric, "", MetricFrames, 1},
		{KindMetric, "", MetricBytes, 4096},
		{KindMetric, "", MetricFrames, 2},
		{KindMetric, "", MetricBytes, 6144},
		{KindMetric, "", MetricTotalMS, 1200},
		{KindStatus, StatusPlaying, "", 0},
		{KindMetric, "", MetricBufferMS, 900},
	}
	if len(seen) != len(want) {
		t.Fatalf("event count = %d, want %d: %+v", len(seen), len(want), seen)
	}
	for i, w := range want {
		ev := seen[i]
		if ev.SessionID != id {
			t.Fatalf("event %d SessionID = %q, want %q", i, ev.SessionID, id)
		}
		if ev.Kind != w.kind || ev.Status != w.status || ev.Metric != w.metric {
			t.Fatalf("event %d = %+v, want kind=%s status=%s metric=%s", i, ev, w.kind, w.status, w.metric)
		}
		if w.value >= 0 && ev.Value != w.value {
			t.Fatalf("event %d Value = %v, want %v", i, ev.Value, w.value)
		}
	}

	media := eng.loadedMedia()
	if len(media.Data) != 6144 {
		t.Fatalf("assembled media = %d bytes, want 6144", len(media.Data))
	}
	if media.Type != "audio/mpeg" {
		t.Fatalf("media type = %q, want audio/mpeg", media.Type)
	}

	eng.complete()
	waitFor(t, events, "stopped status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusStopped
	})
	if _, state := c.Session(); state != StateStopped {
		t.Fatalf("state after completion = %s, want stopped", state)
	}
	if eng.stopCount() != 1 {
		t.Fatalf("engine stops = %d, want 1 (release on completion)", eng.stopCount())
	}
}

func TestPeerErrorBeforeFramesMovesToErrored(t *testing.T) {
	ch := newFakeChannel()
	eng := &stubEngine{}
	c := NewClient(ch, eng)
	defer c.Close()

	events, cancel := c.Subscribe(16)
	defer cancel()

	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	ch.deliver(protocol.ErrorMessage{Type: protocol.TypeError, Message: "quota exceeded"})

	ev := waitFor(t, events, "error status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusError
	})
	if ev.Detail != "quota exceeded" {
		t.Fatalf("error detail = %q, want %q", ev.Detail, "quota exceeded")
	}
	if _, state := c.Session(); state != StateErrored {
		t.Fatalf("state = %s, want errored", state)
	}
	if eng.loadCount() != 0 {
		t.Fatalf("engine loads = %d, want 0", eng.loadCount())
	}
}

func TestLateFrameAfterEndIsViolation(t *testing.T) {
	ch := newFakeChannel()
	eng := &stubEngine{}
	c := NewClient(ch, eng)
	defer c.Close()

	events, cancel := c.Subscribe(64)
	defer cancel()

	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	ch.deliver(protocol.Start{Type: protocol.TypeStart})
	ch.deliver(protocol.Frame([]byte("audio")))
	ch.deliver(protocol.End{Type: protocol.TypeEnd, DurationMS: 100})

	waitFor(t, events, "playing status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusPlaying
	})

	ch.deliver(protocol.Frame([]byte("straggler")))
	waitFor(t, events, "protocol violation", func(ev Event) bool {
		return ev.Kind == KindProtocolViolation
	})

	if got := eng.loadedMedia().Data; len(got) != len("audio") {
		t.Fatalf("assembled media = %d bytes, late frame leaked in", len(got))
	}
	if _, state := c.Session(); state != StatePlaying {
		t.Fatalf("state after violation = %s, want playing", state)
	}
}

func TestZeroFrameEndIsNothingToPlay(t *testing.T) {
	ch := newFakeChannel()
	eng := &stubEngine{}
	c := NewClient(ch, eng)
	defer c.Close()

	events, cancel := c.Subscribe(16)
	defer cancel()

	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	ch.deliver(protocol.Start{Type: protocol.TypeStart})
	ch.deliver(protocol.End{Type: protocol.TypeEnd, DurationMS: 0})

	waitFor(t, events, "nothing_to_play status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusNothingToPlay
	})
	waitForState(t, c, StateStopped)
	if eng.loadCount() != 0 {
		t.Fatalf("engine loads = %d, want 0 for empty media", eng.loadCount())
	}
}

func TestUnplayableMediaIsRequestScoped(t *testing.T) {
	ch := newFakeChannel()
	eng := &stubEngine{loadErr: errors.New("not an mp3")}
	c := NewClient(ch, eng)
	defer c.Close()

	events, cancel := c.Subscribe(32)
	defer cancel()

	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	ch.deliver(protocol.Start{Type: protocol.TypeStart})
	ch.deliver(protocol.Frame([]byte{0xde, 0xad}))
	ch.deliver(protocol.End{Type: protocol.TypeEnd, DurationMS: 50})

	waitFor(t, events, "error status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusError
	})
	if _, state := c.Session(); state != StateErrored {
		t.Fatalf("state = %s, want errored", state)
	}
	if eng.stopCount() != 1 {
		t.Fatalf("engine stops = %d, want 1 (release on load failure)", eng.stopCount())
	}

	// The channel survives the failed request.
	id2, err := c.Submit(context.Background(), Request{Text: "again", VoiceID: "en"})
	if err != nil {
		t.Fatalf("re-submit error = %v", err)
	}
	if curID, state := c.Session(); curID != id2 || state != StateAwaitingStart {
		t.Fatalf("after re-submit: id=%q state=%s, want fresh awaiting_start", curID, state)
	}
}

func TestSubmitWhileStreamingReplacesSession(t *testing.T) {
	ch := newFakeChannel()
	eng := &stubEngine{}
	c := NewClient(ch, eng)
	defer c.Close()

	events, cancel := c.Subscribe(64)
	defer cancel()

	firstID, err := c.Submit(context.Background(), Request{Text: "one", VoiceID: "en"})
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	ch.deliver(protocol.Start{Type: protocol.TypeStart})
	ch.deliver(protocol.Frame(make([]byte, 1024)))
	waitFor(t, events, "first session bytes", func(ev Event) bool {
		return ev.Kind == KindMetric && ev.Metric == MetricBytes && ev.Value == 1024
	})

	secondID, err := c.Submit(context.Background(), Request{Text: "two", VoiceID: "en"})
	if err != nil {
		t.Fatalf("second Submit error = %v", err)
	}
	if secondID == firstID {
		t.Fatalf("second session reused id %q", firstID)
	}

	stopped := waitFor(t, events, "first session stopped", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusStopped
	})
	if stopped.SessionID != firstID {
		t.Fatalf("stopped SessionID = %q, want %q", stopped.SessionID, firstID)
	}

	if curID, state := c.Session(); curID != secondID || state != StateAwaitingStart {
		t.Fatalf("current = (%q, %s), want (%q, awaiting_start)", curID, state, secondID)
	}

	// Fresh session, fresh counters.
	ch.deliver(protocol.Start{Type: protocol.TypeStart})
	ch.deliver(protocol.Frame(make([]byte, 512)))
	frames := waitFor(t, events, "second session frame count", func(ev Event) bool {
		return ev.Kind == KindMetric && ev.Metric == MetricFrames && ev.SessionID == secondID
	})
	if frames.Value != 1 {
		t.Fatalf("second session frame metric = %v, want 1", frames.Value)
	}
}

func TestStopIsIdempotentFromAnyState(t *testing.T) {
	ch := newFakeChannel()
	c := NewClient(ch, &stubEngine{})
	defer c.Close()

	// Stop before any submission must not panic.
	c.Stop()

	events, cancel := c.Subscribe(32)
	defer cancel()

	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	ch.deliver(protocol.Start{Type: protocol.TypeStart})
	waitFor(t, events, "streaming status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusStreaming
	})

	c.Stop()
	waitFor(t, events, "stopped status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusStopped
	})

	c.Stop()
	time.Sleep(20 * time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("second Stop emitted %+v", ev)
	default:
	}
	if _, state := c.Session(); state != StateStopped {
		t.Fatalf("state = %s, want stopped", state)
	}
}

func TestStopDuringPlaybackSuppressesLateCompletion(t *testing.T) {
	ch := newFakeChannel()
	eng := &stubEngine{duration: 500 * time.Millisecond}
	c := NewClient(ch, eng)
	defer c.Close()

	events, cancel := c.Subscribe(32)
	defer cancel()

	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	ch.deliver(protocol.Start{Type: protocol.TypeStart})
	ch.deliver(protocol.Frame([]byte("x")))
	ch.deliver(protocol.End{Type: protocol.TypeEnd, DurationMS: 10})
	waitFor(t, events, "playing status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusPlaying
	})

	c.Stop()
	waitFor(t, events, "stopped status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusStopped
	})
	if eng.stopCount() != 1 {
		t.Fatalf("engine stops = %d, want 1", eng.stopCount())
	}

	// Completion signal racing in after Stop must change nothing.
	eng.complete()
	time.Sleep(20 * time.Millisecond)
	if _, state := c.Session(); state != StateStopped {
		t.Fatalf("state = %s, want stopped", state)
	}
	if eng.stopCount() != 1 {
		t.Fatalf("engine stops = %d after late completion, want 1", eng.stopCount())
	}
}

func TestSendFailureMovesSessionToErrored(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = errors.New("broken pipe")
	c := NewClient(ch, &stubEngine{})
	defer c.Close()

	events, cancel := c.Subscribe(16)
	defer cancel()

	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); err == nil {
		t.Fatalf("Submit succeeded despite send failure")
	}
	waitFor(t, events, "error status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusError
	})
	if _, state := c.Session(); state != StateErrored {
		t.Fatalf("state = %s, want errored", state)
	}
}

func TestChannelTeardownFailsActiveSession(t *testing.T) {
	ch := newFakeChannel()
	c := NewClient(ch, &stubEngine{})

	events, cancel := c.Subscribe(16)
	defer cancel()

	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	ch.Close()

	ev := waitFor(t, events, "error status", func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == StatusError
	})
	if ev.Detail != "channel closed" {
		t.Fatalf("error detail = %q, want %q", ev.Detail, "channel closed")
	}
	if _, state := c.Session(); state != StateErrored {
		t.Fatalf("state = %s, want errored", state)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if _, err := c.Submit(context.Background(), Request{Text: "hi", VoiceID: "en"}); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("Submit after Close error = %v, want ErrClientClosed", err)
	}
}

func TestFrameWithoutSessionIsViolation(t *testing.T) {
	ch := newFakeChannel()
	c := NewClient(ch, &stubEngine{})
	defer c.Close()

	events, cancel := c.Subscribe(16)
	defer cancel()

	ch.deliver(protocol.Frame([]byte("orphan")))
	waitFor(t, events, "protocol violation", func(ev Event) bool {
		return ev.Kind == KindProtocolViolation
	})
}

func TestConcurrentSubmitsSendInCreationOrder(t *testing.T) {
	ch := newFakeChannel()
	firstInSend := make(chan struct{})
	release := make(chan struct{})
	var gate sync.Once
	ch.sendHook = func() {
		gate.Do(func() {
			close(firstInSend)
			<-release
		})
	}
	c := NewClient(ch, &stubEngine{})
	defer c.Close()

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), Request{Text: "first", VoiceID: "en"})
		firstDone <- err
	}()
	<-firstInSend

	secondDone := make(chan error, 1)
	var secondID string
	go func() {
		id, err := c.Submit(context.Background(), Request{Text: "second", VoiceID: "en"})
		secondID = id
		secondDone <- err
	}()

	// While the first send is still on the wire, the second request must
	// not reach the channel.
	time.Sleep(50 * time.Millisecond)
	if got := ch.sentRequests(); len(got) != 0 {
		t.Fatalf("sent while first send in flight = %v, want none", got)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Submit error = %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second Submit error = %v", err)
	}

	sent := ch.sentRequests()
	if len(sent) != 2 {
		t.Fatalf("sent = %d requests, want 2", len(sent))
	}
	if sent[0].Text != "first" || sent[1].Text != "second" {
		t.Fatalf("send order = %q, %q, want first, second", sent[0].Text, sent[1].Text)
	}
	if id, _ := c.Session(); id != secondID {
		t.Fatalf("current session = %s, want %s", id, secondID)
	}
}
