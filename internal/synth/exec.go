package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execSynth shells out to an external synthesis command. The command
// receives a JSON request on stdin and writes raw audio to stdout; one
// invocation serves one request at a time.
type execSynth struct {
	cmd        []string
	chunkBytes int
	mu         sync.Mutex
}

type execRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
}

func NewExecSynth(command string, chunkBytes int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	return &execSynth{cmd: args, chunkBytes: chunkBytes}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	e.mu.Lock()
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		defer e.mu.Unlock()

		payload, err := json.Marshal(execRequest{Text: req.Text, Voice: req.Voice, Rate: req.Rate})
		if err != nil {
			errs <- err
			return
		}

		base := e.cmd[0]
		args := append([]string{}, e.cmd[1:]...)
		cmd := exec.CommandContext(ctx, base, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- fmt.Errorf("start synth command: %w", err)
			return
		}

		if _, err := stdin.Write(payload); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			errs <- fmt.Errorf("write synth request: %w", err)
			return
		}
		_ = stdin.Close()

		seq := 0
		buf := make([]byte, e.chunkBytes)
		for {
			n, readErr := io.ReadFull(stdout, buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case chunks <- Chunk{Seq: seq, Data: data}:
					seq++
				case <-ctx.Done():
					_ = cmd.Process.Kill()
					_ = cmd.Wait()
					errs <- ctx.Err()
					return
				}
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				break
			}
			if readErr != nil {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				errs <- fmt.Errorf("read synth output: %w", readErr)
				return
			}
		}

		if err := cmd.Wait(); err != nil {
			errs <- fmt.Errorf("synth command failed: %w", err)
		}
	}()
	return chunks, errs
}
