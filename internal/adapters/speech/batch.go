// Package speech talks to an OpenAI-compatible transcription backend. The
// same endpoint serves both the batch re-transcription job and, chunked,
// the live streaming path.
package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chronicleaudio/chronicle/internal/adapters/circuitbreaker"
	"github.com/chronicleaudio/chronicle/internal/adapters/metrics"
	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

const transcriptionsPath = "/v1/audio/transcriptions"

// BatchProvider implements ports.BatchTranscriptionProvider.
type BatchProvider struct {
	client  *Client
	model   string
	breaker *circuitbreaker.CircuitBreaker
}

func NewBatchProvider(baseURL, apiKey, model string) *BatchProvider {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if model == "" {
		model = "whisper-1"
	}

	return &BatchProvider{
		client:  NewClient(baseURL, apiKey),
		model:   model,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (p *BatchProvider) Name() string {
	return "openai-batch"
}

type verboseResponse struct {
	Text     string          `json:"text"`
	Language string          `json:"language,omitempty"`
	Duration float64         `json:"duration,omitempty"`
	Words    []verboseWord   `json:"words,omitempty"`
	Segments []verboseSegGen `json:"segments,omitempty"`
}

type verboseWord struct {
	Word        string   `json:"word"`
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Probability *float64 `json:"probability,omitempty"`
	Speaker     string   `json:"speaker,omitempty"`
}

type verboseSegGen struct {
	ID           int      `json:"id"`
	Start        float64  `json:"start"`
	End          float64  `json:"end"`
	Text         string   `json:"text"`
	Speaker      string   `json:"speaker,omitempty"`
	NoSpeechProb *float64 `json:"no_speech_prob,omitempty"`
}

// Transcribe sends complete PCM audio as a WAV upload and maps the verbose
// response into domain words and segments.
func (p *BatchProvider) Transcribe(ctx context.Context, audio []byte, sampleRate int, diarize bool) (*ports.BatchResult, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", domain.ErrInvalidInput)
	}

	var result *ports.BatchResult
	started := time.Now()
	err := p.breaker.Execute(func() error {
		var err error
		result, err = p.doTranscribe(ctx, audio, sampleRate, diarize)
		return err
	})
	metrics.ASRRequestDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if err == circuitbreaker.ErrCircuitOpen {
			return nil, fmt.Errorf("%w: circuit open", domain.ErrASRUnavailable)
		}
		return nil, err
	}
	return result, nil
}

func (p *BatchProvider) doTranscribe(ctx context.Context, audio []byte, sampleRate int, diarize bool) (*ports.BatchResult, error) {
	fields := map[string]string{
		"model":                     p.model,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
	}
	if diarize {
		fields["diarize"] = "true"
	}

	wavData := wav.Encode(audio, sampleRate, 1)

	var response verboseResponse
	if err := p.client.PostMultipart(ctx, transcriptionsPath, fields, "file", "audio.wav", wavData, &response); err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	result := &ports.BatchResult{
		Text:  strings.TrimSpace(response.Text),
		Model: p.model,
	}

	for _, w := range response.Words {
		word := models.Word{
			Text:  strings.TrimSpace(w.Word),
			Start: w.Start,
			End:   w.End,
		}
		if w.Probability != nil {
			word.Confidence = w.Probability
		}
		result.Words = append(result.Words, word)
	}

	for _, seg := range response.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segment := models.SpeakerSegment{
			Start:   seg.Start,
			End:     seg.End,
			Text:    text,
			Speaker: seg.Speaker,
		}
		if seg.NoSpeechProb != nil {
			conf := 1.0 - *seg.NoSpeechProb
			segment.Confidence = &conf
		}
		result.Segments = append(result.Segments, segment)
	}

	// Backends without segment support still produce usable output.
	if len(result.Segments) == 0 && result.Text != "" {
		end := response.Duration
		if end == 0 && len(result.Words) > 0 {
			end = result.Words[len(result.Words)-1].End
		}
		result.Segments = []models.SpeakerSegment{{
			Start: 0,
			End:   end,
			Text:  result.Text,
		}}
	}

	return result, nil
}

var _ ports.BatchTranscriptionProvider = (*BatchProvider)(nil)
