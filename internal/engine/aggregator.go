// Package engine holds the per-session runtime: the audio persistence and
// live transcription workers, the results aggregator, and the speech
// detection and conversation controllers that run as scheduled jobs.
package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// resultField is the stream entry field carrying one TranscriptionResult.
const resultField = "result"

// Aggregate reads every result currently on the session's result stream and
// merges them in stream order. It never acks; the view is idempotent and
// grows monotonically while the transcriber keeps emitting.
func Aggregate(ctx context.Context, bus ports.StreamBus, sessionID string) (*models.Aggregate, error) {
	msgs, err := bus.Range(ctx, domain.ResultStream(sessionID))
	if err != nil {
		return nil, err
	}

	agg := &models.Aggregate{ChunkCount: len(msgs)}
	var texts []string

	for _, msg := range msgs {
		payload, ok := msg.Values[resultField]
		if !ok {
			continue
		}
		var result models.TranscriptionResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			// A corrupt entry is skipped rather than poisoning the view.
			continue
		}
		if text := strings.TrimSpace(result.Text); text != "" {
			texts = append(texts, text)
		}
		agg.Words = append(agg.Words, result.Words...)
		agg.Segments = append(agg.Segments, result.Segments...)
	}

	agg.Text = strings.Join(texts, " ")
	return agg, nil
}

// appendResult publishes one final transcription result onto the session's
// result stream.
func appendResult(ctx context.Context, bus ports.StreamBus, sessionID string, result *models.TranscriptionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = bus.Append(ctx, domain.ResultStream(sessionID), map[string]string{
		resultField: string(payload),
	})
	return err
}
