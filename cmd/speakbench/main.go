package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/voicewire/voicewire/internal/playback"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/transport"
	"github.com/voicewire/voicewire/internal/voices"
)

type options struct {
	baseURL    string
	voiceID    string
	rate       int
	requests   int
	timeout    time.Duration
	play       bool
	verbose    bool
	texts      []string
	listVoices bool
}

var defaultUtterances = []string{
	"The quick brown fox jumps over the lazy dog.",
	"Streaming synthesis trades completeness for responsiveness.",
	"Latency is what the listener notices first.",
	"Short sentences arrive faster than long paragraphs.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "speakbench: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "speakbench: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var timeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voicewire server base URL")
	flag.StringVar(&cfg.voiceID, "voice", "", "voice id (default: server catalog default)")
	flag.IntVar(&cfg.rate, "rate", 0, "speaking rate offset in percent, e.g. 10 or -5")
	flag.IntVar(&cfg.requests, "requests", 4, "number of synthesis requests to run")
	flag.IntVar(&timeoutMS, "timeout-ms", 30000, "per-request timeout in milliseconds")
	flag.BoolVar(&cfg.play, "play", false, "play received audio on the local speaker")
	flag.BoolVar(&cfg.verbose, "verbose", false, "print every session event")
	flag.BoolVar(&cfg.listVoices, "list-voices", false, "list server voices and exit")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.requests <= 0 {
		return options{}, fmt.Errorf("requests must be > 0")
	}
	if timeoutMS <= 0 {
		return options{}, fmt.Errorf("timeout-ms must be > 0")
	}
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond

	cfg.texts = defaultUtterances
	if raw := strings.TrimSpace(textsRaw); raw != "" {
		parts := strings.Split(raw, "|")
		cfg.texts = cfg.texts[:0]
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts contained no usable utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx := context.Background()

	catalog, err := voices.NewClient(cfg.baseURL).List(ctx)
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}
	if cfg.listVoices {
		for _, v := range catalog {
			fmt.Printf("%-8s %-24s %s\n", v.ID, v.Name, v.Lang)
		}
		return nil
	}

	voiceID := strings.TrimSpace(cfg.voiceID)
	if voiceID == "" {
		if len(catalog) == 0 {
			return fmt.Errorf("server returned no voices")
		}
		voiceID = catalog[0].ID
	}

	wsURL, err := transport.StreamURL(cfg.baseURL)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	ch, err := transport.Dial(dialCtx, wsURL)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	var engine playback.Engine
	if cfg.play {
		engine = playback.NewBeepEngine()
	} else {
		engine = playback.NewDiscardEngine()
	}

	client := session.NewClient(ch, engine)
	defer client.Close()

	events, cancelSub := client.Subscribe(256)
	defer cancelSub()

	fmt.Printf("speakbench: %d requests, voice=%s rate=%+d%% play=%v\n", cfg.requests, voiceID, cfg.rate, cfg.play)

	for i := 0; i < cfg.requests; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		reqCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
		id, err := client.Submit(reqCtx, session.Request{
			Text:        text,
			VoiceID:     voiceID,
			RatePercent: cfg.rate,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("submit request %d: %w", i+1, err)
		}

		if err := awaitCompletion(events, id, cfg, i+1, text); err != nil {
			return err
		}
	}
	return nil
}

// awaitCompletion drains session events until the submitted request reaches
// a terminal status, printing one summary line per request.
func awaitCompletion(events <-chan session.Event, id string, cfg options, n int, text string) error {
	deadline := time.NewTimer(cfg.timeout)
	defer deadline.Stop()

	var firstByteMS, totalMS, bufferMS float64
	var frames, bytes float64

	for {
		select {
		case <-deadline.C:
			return fmt.Errorf("request %d timed out after %v", n, cfg.timeout)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			if ev.SessionID != id {
				continue
			}
			if cfg.verbose {
				switch ev.Kind {
				case session.KindMetric:
					fmt.Printf("  [%d] %s = %.0f\n", n, ev.Metric, ev.Value)
				case session.KindStatus:
					fmt.Printf("  [%d] status: %s %s\n", n, ev.Status, ev.Detail)
				case session.KindProtocolViolation:
					fmt.Printf("  [%d] protocol violation: %s\n", n, ev.Detail)
				}
			}

			if ev.Kind == session.KindMetric {
				switch ev.Metric {
				case session.MetricFirstByteMS:
					firstByteMS = ev.Value
				case session.MetricFrames:
					frames = ev.Value
				case session.MetricBytes:
					bytes = ev.Value
				case session.MetricTotalMS:
					totalMS = ev.Value
				case session.MetricBufferMS:
					bufferMS = ev.Value
				}
				continue
			}
			if ev.Kind != session.KindStatus {
				continue
			}

			switch ev.Status {
			case session.StatusStopped:
				fmt.Printf("[%d] %-50q first_byte=%.0fms frames=%.0f bytes=%.0f stream=%.0fms buffer=%.0fms\n",
					n, truncate(text, 48), firstByteMS, frames, bytes, totalMS, bufferMS)
				return nil
			case session.StatusNothingToPlay:
				fmt.Printf("[%d] %-50q nothing to play\n", n, truncate(text, 48))
				return nil
			case session.StatusError:
				return fmt.Errorf("request %d failed: %s", n, ev.Detail)
			}
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
