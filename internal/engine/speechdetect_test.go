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

func detectArgs() SpeechDetectionArgs {
	return SpeechDetectionArgs{SessionID: "sess-a", UserID: "user-a", ClientID: "client-a"}
}

func TestDetectSpeechOpensConversation(t *testing.T) {
	f := newTestEngine(t)
	f.addSession(models.SessionActive, "")
	f.addResult(t, "sess-a", qualifyingResult())

	job := testJob(t, "speech-1", FuncDetectSpeech, detectArgs())
	out, err := f.engine.DetectSpeech(context.Background(), job)
	require.NoError(t, err)

	output := out.(*SpeechDetectionOutput)
	assert.True(t, output.SpeechDetected)
	assert.Equal(t, "meaningful_speech", output.Reason)
	require.NotEmpty(t, output.ConversationID)

	// The conversation exists with placeholders before any processing.
	conversation := f.convs.get(output.ConversationID)
	require.NotNil(t, conversation)
	assert.Equal(t, "sess-a", conversation.AudioUUID)
	assert.Equal(t, "user-a", conversation.UserID)
	assert.NotEmpty(t, conversation.Title)

	current, err := f.reg.CurrentConversation(context.Background(), "sess-a")
	require.NoError(t, err)
	assert.Equal(t, output.ConversationID, current)

	reqs := f.sched.byFunction(FuncOpenConversation)
	require.Len(t, reqs, 1)
	args := reqs[0].Args.(ConversationArgs)
	assert.Equal(t, output.ConversationID, args.ConversationID)
	assert.Equal(t, "speech-1", args.SpeechJobID)
	assert.Equal(t, output.ConversationID, reqs[0].Meta.ConversationID)
}

func TestDetectSpeechExitsOnTerminalSession(t *testing.T) {
	f := newTestEngine(t)
	f.addSession(models.SessionFinalizing, models.CompletionUserStopped)

	out, err := f.engine.DetectSpeech(context.Background(), testJob(t, "speech-1", FuncDetectSpeech, detectArgs()))
	require.NoError(t, err)

	output := out.(*SpeechDetectionOutput)
	assert.False(t, output.SpeechDetected)
	assert.Equal(t, "session_finalizing", output.Reason)
	assert.Empty(t, f.sched.byFunction(FuncOpenConversation))
}

func TestDetectSpeechExitsWhenSessionGone(t *testing.T) {
	f := newTestEngine(t)

	out, err := f.engine.DetectSpeech(context.Background(), testJob(t, "speech-1", FuncDetectSpeech, detectArgs()))
	require.NoError(t, err)
	assert.Equal(t, "session_gone", out.(*SpeechDetectionOutput).Reason)
}

func TestDetectSpeechCancelledExitsWithoutConversation(t *testing.T) {
	f := newTestEngine(t)
	f.addSession(models.SessionActive, "")
	f.addResult(t, "sess-a", qualifyingResult())
	f.sched.dead["speech-1"] = true

	_, err := f.engine.DetectSpeech(context.Background(), testJob(t, "speech-1", FuncDetectSpeech, detectArgs()))
	require.ErrorIs(t, err, domain.ErrJobCancelled)
	assert.Empty(t, f.sched.byFunction(FuncOpenConversation))
	assert.Empty(t, f.convs.store)
}

func TestDetectSpeechIgnoresLowConfidenceWords(t *testing.T) {
	old := speechPollInterval
	speechPollInterval = 2 * time.Millisecond
	defer func() { speechPollInterval = old }()

	f := newTestEngine(t)
	f.addSession(models.SessionActive, "")

	low := 0.1
	f.addResult(t, "sess-a", &models.TranscriptionResult{
		Text: "mumble mumble mumble mumble",
		Words: []models.Word{
			{Text: "mumble", Start: 0, End: 1, Confidence: &low},
			{Text: "mumble", Start: 1, End: 2, Confidence: &low},
			{Text: "mumble", Start: 2, End: 3, Confidence: &low},
			{Text: "mumble", Start: 3, End: 4, Confidence: &low},
		},
	})

	done := make(chan struct{})
	var out any
	var runErr error
	go func() {
		defer close(done)
		out, runErr = f.engine.DetectSpeech(context.Background(), testJob(t, "speech-1", FuncDetectSpeech, detectArgs()))
	}()

	// Give the listener several passes over the low-confidence words, then
	// end the session to let it exit.
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, f.convs.store)
	_, err := f.reg.TransitionStatus(context.Background(), "sess-a", models.SessionActive, models.SessionFinalizing, models.CompletionUserStopped)
	require.NoError(t, err)
	<-done

	require.NoError(t, runErr)
	assert.False(t, out.(*SpeechDetectionOutput).SpeechDetected)
	assert.Empty(t, f.convs.store)
}
