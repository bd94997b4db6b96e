package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

func TestTranscriptionEmitsFinalsToResultStream(t *testing.T) {
	f := newTestEngine(t)
	f.addSession(models.SessionActive, "")

	streaming := f.engine.Streaming.(*fakeStreaming)
	streaming.result = &models.TranscriptionResult{Text: "chunk text"}
	streaming.final = &models.TranscriptionResult{Text: "tail text"}

	appendAudio(t, f.bus, "sess-a", pcmChunk(320, 1))
	appendAudio(t, f.bus, "sess-a", pcmChunk(320, 5))

	done := make(chan error, 1)
	go func() { done <- f.engine.RunTranscription(context.Background(), "sess-a") }()

	require.Eventually(t, func() bool {
		streaming.mu.Lock()
		defer streaming.mu.Unlock()
		return streaming.chunks == 2
	}, time.Second, 2*time.Millisecond)

	_, err := f.reg.TransitionStatus(context.Background(), "sess-a", models.SessionActive, models.SessionFinalizing, models.CompletionUserStopped)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"sess-a"}, streaming.started)
	assert.Equal(t, []string{"sess-a"}, streaming.ended)

	// Two per-chunk results plus the end-of-stream flush.
	agg, err := Aggregate(context.Background(), f.bus, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, 3, agg.ChunkCount)
	assert.Equal(t, "chunk text chunk text tail text", agg.Text)
}

func TestTranscriptionAcksWithoutResults(t *testing.T) {
	f := newTestEngine(t)
	f.addSession(models.SessionActive, "")

	// Provider buffers everything; no interim results.
	appendAudio(t, f.bus, "sess-a", pcmChunk(320, 1))

	done := make(chan error, 1)
	go func() { done <- f.engine.RunTranscription(context.Background(), "sess-a") }()

	require.Eventually(t, func() bool {
		f.bus.mu.Lock()
		defer f.bus.mu.Unlock()
		return len(f.bus.acked[domain.AudioStream("sess-a")+"/"+domain.GroupTranscription]) == 1
	}, time.Second, 2*time.Millisecond)

	_, err := f.reg.TransitionStatus(context.Background(), "sess-a", models.SessionActive, models.SessionFinalizing, models.CompletionUserStopped)
	require.NoError(t, err)
	require.NoError(t, <-done)

	agg, err := Aggregate(context.Background(), f.bus, "sess-a")
	require.NoError(t, err)
	assert.Zero(t, agg.ChunkCount)
}

func TestTranscriptionStopsWhenSessionGone(t *testing.T) {
	f := newTestEngine(t)

	done := make(chan error, 1)
	go func() { done <- f.engine.RunTranscription(context.Background(), "sess-a") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop for a missing session")
	}
}
