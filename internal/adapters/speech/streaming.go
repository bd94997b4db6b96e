package speech

import (
	"context"
	"fmt"
	"sync"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// windowSeconds is how much audio accumulates before a window is sent for
// transcription. Large enough for whole phrases, small enough that results
// feel live.
const windowSeconds = 15.0

// StreamingProvider adapts the batch endpoint to incremental use: audio
// accumulates per client and every full window is transcribed as a unit.
// Every emitted result is final; there are no interims to drop.
type StreamingProvider struct {
	batch *BatchProvider

	mu      sync.Mutex
	streams map[string]*streamState
}

type streamState struct {
	sampleRate int
	diarize    bool
	buffer     []byte
	consumed   float64 // seconds already transcribed, offsets results
	chunks     int
}

func NewStreamingProvider(batch *BatchProvider) *StreamingProvider {
	return &StreamingProvider{
		batch:   batch,
		streams: make(map[string]*streamState),
	}
}

func (p *StreamingProvider) Name() string {
	return "openai-windowed"
}

func (p *StreamingProvider) StartStream(ctx context.Context, clientID string, sampleRate int, diarize bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.streams[clientID]; exists {
		return fmt.Errorf("%w: stream already open for client %s", domain.ErrInvalidInput, clientID)
	}
	p.streams[clientID] = &streamState{sampleRate: sampleRate, diarize: diarize}
	return nil
}

// ProcessAudioChunk buffers the chunk and transcribes when a full window
// has accumulated. Returns nil when there is nothing to emit yet.
func (p *StreamingProvider) ProcessAudioChunk(ctx context.Context, clientID string, chunk []byte) (*models.TranscriptionResult, error) {
	p.mu.Lock()
	state, ok := p.streams[clientID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: no stream for client %s", domain.ErrInvalidInput, clientID)
	}
	state.buffer = append(state.buffer, chunk...)
	state.chunks++

	windowBytes := int(windowSeconds * float64(state.sampleRate) * 2)
	if len(state.buffer) < windowBytes {
		p.mu.Unlock()
		return nil, nil
	}

	window := state.buffer[:windowBytes]
	state.buffer = append([]byte(nil), state.buffer[windowBytes:]...)
	offset := state.consumed
	state.consumed += windowSeconds
	sampleRate := state.sampleRate
	diarize := state.diarize
	chunks := state.chunks
	p.mu.Unlock()

	return p.transcribeWindow(ctx, window, sampleRate, diarize, offset, chunks)
}

// EndStream flushes any buffered remainder and tears the stream down.
func (p *StreamingProvider) EndStream(ctx context.Context, clientID string) (*models.TranscriptionResult, error) {
	p.mu.Lock()
	state, ok := p.streams[clientID]
	if !ok {
		p.mu.Unlock()
		return nil, nil
	}
	delete(p.streams, clientID)

	remainder := state.buffer
	offset := state.consumed
	sampleRate := state.sampleRate
	diarize := state.diarize
	chunks := state.chunks
	p.mu.Unlock()

	// Anything under a quarter second is container noise, not speech.
	if len(remainder) < sampleRate/2 {
		return nil, nil
	}

	return p.transcribeWindow(ctx, remainder, sampleRate, diarize, offset, chunks)
}

func (p *StreamingProvider) transcribeWindow(ctx context.Context, window []byte, sampleRate int, diarize bool, offset float64, chunks int) (*models.TranscriptionResult, error) {
	batch, err := p.batch.Transcribe(ctx, window, sampleRate, diarize)
	if err != nil {
		return nil, err
	}
	if batch.Text == "" {
		return nil, nil
	}

	result := &models.TranscriptionResult{
		Text:                 batch.Text,
		ChunkCountAtEmission: chunks,
	}

	// Window-relative timestamps become session-relative.
	for _, w := range batch.Words {
		w.Start += offset
		w.End += offset
		result.Words = append(result.Words, w)
	}
	for _, seg := range batch.Segments {
		seg.Start += offset
		seg.End += offset
		result.Segments = append(result.Segments, seg)
	}

	return result, nil
}

var _ ports.StreamingTranscriptionProvider = (*StreamingProvider)(nil)
