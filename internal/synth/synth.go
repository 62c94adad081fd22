// Package synth produces synthesized speech audio as an ordered chunk
// stream. The engine behind it is opaque: an external command, or a
// deterministic mock for development and tests.
package synth

import "context"

// DefaultChunkBytes is the fragment size audio is streamed in.
const DefaultChunkBytes = 8192

// Request carries one utterance to synthesize. Rate uses the signed
// percent wire form, e.g. "+10%".
type Request struct {
	Text  string
	Voice string
	Rate  string
}

// Chunk is one ordered fragment of synthesized audio.
type Chunk struct {
	Seq  int
	Data []byte
}

// Synthesizer streams audio for one request. The chunk channel closes on
// completion; a failure arrives on the error channel before both close.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}
