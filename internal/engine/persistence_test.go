package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

func appendAudio(t *testing.T, bus *fakeBus, sessionID string, chunk []byte) {
	t.Helper()
	_, err := bus.Append(context.Background(), domain.AudioStream(sessionID), map[string]string{
		domain.FieldAudio: string(chunk),
	})
	require.NoError(t, err)
}

// pcmChunk returns n bytes of deterministic PCM16 data.
func pcmChunk(n int, seed byte) []byte {
	chunk := make([]byte, n)
	for i := range chunk {
		chunk[i] = seed + byte(i)
	}
	return chunk
}

func TestPersistenceWritesConversationAudio(t *testing.T) {
	f := newTestEngine(t)
	f.addSession(models.SessionActive, "")
	require.NoError(t, f.reg.SetCurrentConversation(context.Background(), "sess-a", "conv-1", 0))

	chunkA := pcmChunk(320, 1)
	chunkB := pcmChunk(320, 7)
	appendAudio(t, f.bus, "sess-a", chunkA)
	appendAudio(t, f.bus, "sess-a", chunkB)

	done := make(chan error, 1)
	go func() { done <- f.engine.RunPersistence(context.Background(), "sess-a") }()

	// Wait for both chunks to be consumed, then end the session.
	require.Eventually(t, func() bool {
		f.bus.mu.Lock()
		defer f.bus.mu.Unlock()
		return len(f.bus.acked[domain.AudioStream("sess-a")+"/"+domain.GroupPersistence]) == 2
	}, time.Second, 2*time.Millisecond)

	_, err := f.reg.TransitionStatus(context.Background(), "sess-a", models.SessionActive, models.SessionFinalizing, models.CompletionUserStopped)
	require.NoError(t, err)
	require.NoError(t, <-done)

	path, err := f.reg.AudioFile(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Join(f.engine.Cfg.Audio.ChunkDir, "conv-1.wav"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pcm, format, err := wav.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, f.engine.Cfg.Audio.SampleRate, format.SampleRate)
	assert.Equal(t, append(chunkA, chunkB...), pcm)
}

func TestPersistenceSeedsFileWithScratchBuffer(t *testing.T) {
	f := newTestEngine(t)
	f.addSession(models.SessionActive, "")

	// Audio arrives before any conversation exists.
	early := pcmChunk(320, 3)
	appendAudio(t, f.bus, "sess-a", early)

	done := make(chan error, 1)
	go func() { done <- f.engine.RunPersistence(context.Background(), "sess-a") }()

	require.Eventually(t, func() bool {
		f.bus.mu.Lock()
		defer f.bus.mu.Unlock()
		return len(f.bus.acked[domain.AudioStream("sess-a")+"/"+domain.GroupPersistence]) == 1
	}, time.Second, 2*time.Millisecond)

	// A conversation opens; the buffered chunk must land in its file ahead
	// of the live audio.
	require.NoError(t, f.reg.SetCurrentConversation(context.Background(), "sess-a", "conv-1", 0))
	live := pcmChunk(320, 9)
	appendAudio(t, f.bus, "sess-a", live)

	require.Eventually(t, func() bool {
		f.bus.mu.Lock()
		defer f.bus.mu.Unlock()
		return len(f.bus.acked[domain.AudioStream("sess-a")+"/"+domain.GroupPersistence]) == 2
	}, time.Second, 2*time.Millisecond)

	_, err := f.reg.TransitionStatus(context.Background(), "sess-a", models.SessionActive, models.SessionFinalizing, models.CompletionUserStopped)
	require.NoError(t, err)
	require.NoError(t, <-done)

	path, err := f.reg.AudioFile(context.Background(), "conv-1")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pcm, _, err := wav.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, append(early, live...), pcm)
}

func TestPersistenceScratchBufferIsBounded(t *testing.T) {
	f := newTestEngine(t)
	f.engine.Cfg.Speech.PreConversationBuffer = 2

	w := &persistenceWorker{engine: f.engine, sessionID: "sess-a"}
	for i := 0; i < 5; i++ {
		require.NoError(t, w.write(context.Background(), pcmChunk(10, byte(i))))
	}
	require.Len(t, w.scratch, 2)
	assert.Equal(t, pcmChunk(10, 3), w.scratch[0])
	assert.Equal(t, pcmChunk(10, 4), w.scratch[1])
}

func TestPersistenceReapsDeadMessagesOnClaimTick(t *testing.T) {
	f := newTestEngine(t)
	f.addSession(models.SessionActive, "")

	prevClaim, prevReap := claimIdleAfter, fatalReapAfter
	claimIdleAfter = 0
	fatalReapAfter = 30 * time.Minute
	t.Cleanup(func() { claimIdleAfter, fatalReapAfter = prevClaim, prevReap })

	done := make(chan error, 1)
	go func() { done <- f.engine.RunPersistence(context.Background(), "sess-a") }()

	require.Eventually(t, func() bool {
		f.bus.mu.Lock()
		defer f.bus.mu.Unlock()
		return len(f.bus.reaps) > 0
	}, time.Second, 2*time.Millisecond)

	_, err := f.reg.TransitionStatus(context.Background(), "sess-a", models.SessionActive, models.SessionFinalizing, models.CompletionUserStopped)
	require.NoError(t, err)
	require.NoError(t, <-done)

	f.bus.mu.Lock()
	defer f.bus.mu.Unlock()
	call := f.bus.reaps[0]
	assert.Equal(t, domain.AudioStream("sess-a"), call.stream)
	assert.Equal(t, domain.GroupPersistence, call.group)
	assert.Equal(t, 30*time.Minute, call.idle)
}

func TestPersistenceStopsWhenSessionGone(t *testing.T) {
	f := newTestEngine(t)

	done := make(chan error, 1)
	go func() { done <- f.engine.RunPersistence(context.Background(), "sess-a") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop for a missing session")
	}
}
