package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/internal/protocol"
	"github.com/voicewire/voicewire/internal/reports"
	"github.com/voicewire/voicewire/internal/synth"
	"github.com/voicewire/voicewire/internal/voices"
)

// handleTTSStream serves the duplex streaming endpoint. Requests on one
// connection are handled strictly in order: each synthesis streams to
// completion before the next request is read.
func (s *Server) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	if s.synth == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "synthesizer not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.StreamEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.StreamEvents.WithLabelValues("ws_disconnected").Inc()

	conn.SetReadLimit(1 << 20)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req protocol.SpeakRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			if err := s.writeControl(conn, protocol.ErrorMessage{Type: protocol.TypeError, Message: "Invalid request"}); err != nil {
				return
			}
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", "speak").Inc()

		if err := s.streamOne(r.Context(), conn, req); err != nil {
			log.Printf("tts stream aborted: %v", err)
			return
		}
	}
}

// streamOne runs a single request through the synthesizer and delivers the
// start marker, the binary chunks and the end marker. A returned error means
// the connection is unusable; synthesis failures are reported in-band and
// return nil.
func (s *Server) streamOne(ctx context.Context, conn *websocket.Conn, req protocol.SpeakRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		s.metrics.StreamEvents.WithLabelValues("rejected").Inc()
		return s.writeControl(conn, protocol.ErrorMessage{Type: protocol.TypeError, Message: "Empty text"})
	}

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = s.cfg.DefaultVoiceID
	}
	if _, ok := voices.Lookup(voice); !ok {
		s.metrics.StreamEvents.WithLabelValues("rejected").Inc()
		return s.writeControl(conn, protocol.ErrorMessage{Type: protocol.TypeError, Message: "Unknown voice: " + voice})
	}
	rate := strings.TrimSpace(req.Rate)
	if rate == "" {
		rate = "+0%"
	}
	if _, err := protocol.ParseRate(rate); err != nil {
		s.metrics.StreamEvents.WithLabelValues("rejected").Inc()
		return s.writeControl(conn, protocol.ErrorMessage{Type: protocol.TypeError, Message: "Invalid rate: " + rate})
	}

	started := time.Now()
	if err := s.writeControl(conn, protocol.Start{
		Type:        protocol.TypeStart,
		TimestampMS: float64(started.UnixMilli()),
	}); err != nil {
		return err
	}

	s.metrics.ActiveStreams.Inc()
	s.metrics.StreamEvents.WithLabelValues("started").Inc()
	defer s.metrics.ActiveStreams.Dec()

	report := reports.NewReport(voice, len(text))

	chunks, errs := s.synth.Synthesize(ctx, synth.Request{Text: text, Voice: voice, Rate: rate})

	var (
		chunkCount int
		totalBytes int64
		firstChunk time.Duration
	)
	for chunk := range chunks {
		if chunkCount == 0 {
			firstChunk = time.Since(started)
			s.metrics.ObserveFirstChunkLatency(firstChunk)
			if s.window != nil {
				s.window.Observe("first_chunk", float64(firstChunk.Milliseconds()))
			}
		}
		chunkCount++
		totalBytes += int64(len(chunk.Data))

		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk.Data); err != nil {
			s.drainSynth(chunks, errs)
			s.finishReport(ctx, report, chunkCount, totalBytes, time.Since(started), true)
			return err
		}
		s.metrics.WSMessages.WithLabelValues("outbound", "chunk").Inc()
		s.metrics.StreamBytes.Add(float64(len(chunk.Data)))
	}

	elapsed := time.Since(started)
	if s.window != nil {
		s.window.Observe("stream_total", float64(elapsed.Milliseconds()))
	}

	if err := <-errs; err != nil {
		s.metrics.SynthErrors.WithLabelValues("synthesize").Inc()
		s.metrics.StreamEvents.WithLabelValues("failed").Inc()
		s.finishReport(ctx, report, chunkCount, totalBytes, elapsed, true)
		return s.writeControl(conn, protocol.ErrorMessage{Type: protocol.TypeError, Message: err.Error()})
	}

	s.metrics.StreamEvents.WithLabelValues("completed").Inc()
	s.finishReport(ctx, report, chunkCount, totalBytes, elapsed, false)

	return s.writeControl(conn, protocol.End{
		Type:       protocol.TypeEnd,
		Chunks:     chunkCount,
		Bytes:      totalBytes,
		DurationMS: elapsed.Milliseconds(),
	})
}

func (s *Server) writeControl(conn *websocket.Conn, msg any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	switch m := msg.(type) {
	case protocol.Start:
		s.metrics.WSMessages.WithLabelValues("outbound", string(m.Type)).Inc()
	case protocol.End:
		s.metrics.WSMessages.WithLabelValues("outbound", string(m.Type)).Inc()
	case protocol.ErrorMessage:
		s.metrics.WSMessages.WithLabelValues("outbound", string(m.Type)).Inc()
	}
	return nil
}

// drainSynth unblocks the synthesizer after the peer went away mid-stream.
func (s *Server) drainSynth(chunks <-chan synth.Chunk, errs <-chan error) {
	go func() {
		for range chunks {
		}
		<-errs
	}()
}

func (s *Server) finishReport(ctx context.Context, report reports.Report, chunks int, bytes int64, elapsed time.Duration, failed bool) {
	if s.store == nil {
		return
	}
	report.Chunks = chunks
	report.Bytes = bytes
	report.DurationMS = elapsed.Milliseconds()
	report.Failed = failed

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.Save(saveCtx, report); err != nil {
		log.Printf("report save failed: %v", err)
	}
}
