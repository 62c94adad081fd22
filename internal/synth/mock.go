package synth

import "context"

// mockSynth emits deterministic audio: 64 bytes per character of input,
// split into chunkBytes fragments, each byte carrying its chunk sequence
// number. Chunk counts and payload sizes are predictable from the text.
type mockSynth struct {
	chunkBytes int
}

func NewMockSynth(chunkBytes int) Synthesizer {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	return &mockSynth{chunkBytes: chunkBytes}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		remaining := len(req.Text) * 64
		seq := 0
		for remaining > 0 {
			size := m.chunkBytes
			if size > remaining {
				size = remaining
			}
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(seq)
			}
			select {
			case chunks <- Chunk{Seq: seq, Data: data}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			seq++
			remaining -= size
		}
	}()
	return chunks, errs
}
