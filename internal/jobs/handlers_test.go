package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
	"github.com/chronicleaudio/chronicle/internal/wav"
)

func testSegments() []models.SpeakerSegment {
	return []models.SpeakerSegment{
		{Start: 1.0, End: 3.0, Text: "let's plan the trip", Speaker: "Speaker 0"},
		{Start: 5.0, End: 7.5, Text: "Lisbon in May sounds great", Speaker: "Speaker 1"},
	}
}

func TestTranscribeCreatesActiveVersion(t *testing.T) {
	f := newTestProcessor(t)
	f.addConversation(t, "conv-1")
	f.batch.result = &ports.BatchResult{
		Text:     "let's plan the trip Lisbon in May sounds great",
		Words:    []models.Word{{Text: "let's", Start: 1.0, End: 1.3}},
		Segments: testSegments(),
		Model:    "whisper-1",
	}

	out, err := f.processor.Transcribe(context.Background(), processingJob(t, "job-t", FuncTranscribe, "conv-1"))
	require.NoError(t, err)

	result := out.(*models.JobResult)
	assert.True(t, result.Success)
	assert.Equal(t, "conv-1", result.ConversationID)

	c, err := f.convs.GetByID(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, c.TranscriptVersions, 1)
	version := c.ActiveTranscript()
	require.NotNil(t, version)
	assert.Equal(t, "let's plan the trip Lisbon in May sounds great", version.Transcript)
	assert.Equal(t, "fake-batch", version.Provider)
	assert.Equal(t, "whisper-1", version.Model)
	assert.Len(t, version.Segments, 2)
	assert.Equal(t, 1, f.batch.calls)
}

func TestTranscribeRejectsDeletedConversation(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	require.NoError(t, c.SoftDelete(models.DeletionUserRequested))

	_, err := f.processor.Transcribe(context.Background(), processingJob(t, "job-t", FuncTranscribe, "conv-1"))
	require.ErrorIs(t, err, domain.ErrConversationDeleted)
	assert.Zero(t, f.batch.calls)
}

func TestTranscribeMissingConversation(t *testing.T) {
	f := newTestProcessor(t)
	_, err := f.processor.Transcribe(context.Background(), processingJob(t, "job-t", FuncTranscribe, "conv-missing"))
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestRecognizeSpeakersUnavailableIsNoOpSuccess(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, testSegments())
	f.speakers.available = false

	out, err := f.processor.RecognizeSpeakers(context.Background(), processingJob(t, "job-s", FuncSpeakers, "conv-1"))
	require.NoError(t, err)

	result := out.(*models.JobResult)
	assert.True(t, result.Success)
	assert.True(t, result.Skipped)
	assert.Equal(t, "speaker service unavailable", result.SkipReason)
}

func TestRecognizeSpeakersRelabelsSegments(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, testSegments())

	identified := testSegments()
	identified[0].IdentifiedAs = "Maria"
	f.speakers.available = true
	f.speakers.enrolled = []ports.EnrolledSpeaker{{ID: "spk-1", Name: "Maria"}}
	f.speakers.identified = identified

	out, err := f.processor.RecognizeSpeakers(context.Background(), processingJob(t, "job-s", FuncSpeakers, "conv-1"))
	require.NoError(t, err)
	assert.True(t, out.(*models.JobResult).Success)

	stored, err := f.convs.GetByID(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Maria", stored.Segments()[0].IdentifiedAs)
	assert.Empty(t, stored.Segments()[1].IdentifiedAs)
}

func TestRecognizeSpeakersNoEnrolledSpeakers(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, testSegments())
	f.speakers.available = true

	out, err := f.processor.RecognizeSpeakers(context.Background(), processingJob(t, "job-s", FuncSpeakers, "conv-1"))
	require.NoError(t, err)
	result := out.(*models.JobResult)
	assert.True(t, result.Skipped)
	assert.Equal(t, "no enrolled speakers", result.SkipReason)
}

func TestCropAudioWritesCroppedFile(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, testSegments())

	out, err := f.processor.CropAudio(context.Background(), processingJob(t, "job-x", FuncCrop, "conv-1"))
	require.NoError(t, err)
	result := out.(*models.JobResult)
	assert.True(t, result.Success)

	stored, err := f.convs.GetByID(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1.cropped.wav", stored.CroppedAudioPath)

	data, err := os.ReadFile(filepath.Join(f.processor.Cfg.Audio.ChunkDir, "conv-1.cropped.wav"))
	require.NoError(t, err)
	pcm, format, err := wav.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, f.processor.Cfg.Audio.SampleRate, format.SampleRate)

	// Spans 1.0-3.0 and 5.0-7.5 with 0.5s padding merge to 0.5-3.5 and
	// 4.5-8.0: 6.5 seconds of audio.
	duration := wav.Duration(pcm, format.SampleRate, format.Channels)
	assert.InDelta(t, 6.5, duration, 0.01)
}

func TestCropAudioKeepsShortSegments(t *testing.T) {
	f := newTestProcessor(t)
	f.processor.Cfg.Speech.ContextPaddingSecs = 0
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, []models.SpeakerSegment{
		{Start: 1.0, End: 1.4, Text: "yes", Speaker: "Speaker 0"},
	})

	out, err := f.processor.CropAudio(context.Background(), processingJob(t, "job-x", FuncCrop, "conv-1"))
	require.NoError(t, err)
	result := out.(*models.JobResult)
	require.True(t, result.Success)
	assert.False(t, result.Skipped)

	data, err := os.ReadFile(filepath.Join(f.processor.Cfg.Audio.ChunkDir, "conv-1.cropped.wav"))
	require.NoError(t, err)
	pcm, format, err := wav.Decode(data)
	require.NoError(t, err)
	duration := wav.Duration(pcm, format.SampleRate, format.Channels)
	assert.InDelta(t, 0.4, duration, 0.01)
}

func TestCropAudioBridgesShortPauses(t *testing.T) {
	f := newTestProcessor(t)
	f.processor.Cfg.Speech.ContextPaddingSecs = 0
	f.processor.Cfg.Speech.MinSegmentDuration = 0.5
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, []models.SpeakerSegment{
		{Start: 1.0, End: 2.0, Text: "so the plan", Speaker: "Speaker 0"},
		{Start: 2.3, End: 3.0, Text: "is Lisbon", Speaker: "Speaker 0"},
	})

	out, err := f.processor.CropAudio(context.Background(), processingJob(t, "job-x", FuncCrop, "conv-1"))
	require.NoError(t, err)
	require.True(t, out.(*models.JobResult).Success)

	data, err := os.ReadFile(filepath.Join(f.processor.Cfg.Audio.ChunkDir, "conv-1.cropped.wav"))
	require.NoError(t, err)
	pcm, format, err := wav.Decode(data)
	require.NoError(t, err)

	// The 0.3s pause is shorter than MinSegmentDuration, so the two
	// segments come out as one uninterrupted 2.0s stretch.
	duration := wav.Duration(pcm, format.SampleRate, format.Channels)
	assert.InDelta(t, 2.0, duration, 0.01)
}

func TestCropAudioNoSegmentsIsSkipped(t *testing.T) {
	f := newTestProcessor(t)
	f.addConversation(t, "conv-1")

	out, err := f.processor.CropAudio(context.Background(), processingJob(t, "job-x", FuncCrop, "conv-1"))
	require.NoError(t, err)
	result := out.(*models.JobResult)
	assert.True(t, result.Skipped)
	assert.Equal(t, "no transcript segments", result.SkipReason)
}

func TestExtractMemoriesRecordsVersion(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, testSegments())
	f.memory.stored = true
	f.memory.ids = []string{"mem-1", "mem-2"}

	out, err := f.processor.ExtractMemories(context.Background(), processingJob(t, "job-m", FuncMemories, "conv-1"))
	require.NoError(t, err)
	assert.True(t, out.(*models.JobResult).Success)

	stored, err := f.convs.GetByID(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, stored.MemoryVersions, 1)
	version := stored.ActiveMemory()
	require.NotNil(t, version)
	assert.Equal(t, 2, version.MemoryCount)
	assert.Equal(t, "ver-seed", version.TranscriptVersionID)
	assert.Equal(t, []string{"mem-1", "mem-2"}, version.Metadata["memory_ids"])

	// The provider saw a speaker-attributed transcript.
	require.Len(t, f.memory.transcripts, 1)
	assert.Contains(t, f.memory.transcripts[0], "Speaker 0: let's plan the trip")
}

func TestExtractMemoriesShortTranscriptSkipped(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, []models.SpeakerSegment{{Start: 0, End: 1, Text: "hi", Speaker: "Speaker 0"}})

	out, err := f.processor.ExtractMemories(context.Background(), processingJob(t, "job-m", FuncMemories, "conv-1"))
	require.NoError(t, err)
	result := out.(*models.JobResult)
	assert.True(t, result.Skipped)
	assert.Equal(t, "transcript too short", result.SkipReason)
	assert.Empty(t, f.memory.transcripts)
}

func TestExtractMemoriesPrimarySpeakerFilter(t *testing.T) {
	f := newTestProcessor(t)
	f.processor.Cfg.Memory.FilterPrimarySpeaker = true
	f.users.users["user-a"] = &models.User{
		UserID:          "user-a",
		Email:           "a@example.com",
		PrimarySpeakers: []models.PrimarySpeaker{{Name: "Maria"}},
	}

	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, testSegments())

	// Nobody was identified as Maria, so extraction is skipped.
	out, err := f.processor.ExtractMemories(context.Background(), processingJob(t, "job-m", FuncMemories, "conv-1"))
	require.NoError(t, err)
	result := out.(*models.JobResult)
	assert.True(t, result.Skipped)
	assert.Equal(t, "no primary speaker identified", result.SkipReason)

	// With Maria identified in a segment, extraction proceeds.
	c.ActiveTranscript().Segments[0].IdentifiedAs = "Maria"
	f.memory.stored = true
	f.memory.ids = []string{"mem-1"}
	out, err = f.processor.ExtractMemories(context.Background(), processingJob(t, "job-m", FuncMemories, "conv-1"))
	require.NoError(t, err)
	assert.False(t, out.(*models.JobResult).Skipped)
}

func TestExtractMemoriesNothingStored(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, testSegments())
	f.memory.stored = false

	out, err := f.processor.ExtractMemories(context.Background(), processingJob(t, "job-m", FuncMemories, "conv-1"))
	require.NoError(t, err)
	result := out.(*models.JobResult)
	assert.True(t, result.Skipped)
	assert.Equal(t, "no memories extracted", result.SkipReason)

	stored, _ := f.convs.GetByID(context.Background(), "conv-1")
	assert.Empty(t, stored.MemoryVersions)
}

func TestGenerateTitleSummary(t *testing.T) {
	f := newTestProcessor(t)
	c := f.addConversation(t, "conv-1")
	f.addTranscript(t, c, testSegments())

	out, err := f.processor.GenerateTitleSummary(context.Background(), processingJob(t, "job-u", FuncTitleSummary, "conv-1"))
	require.NoError(t, err)
	assert.True(t, out.(*models.JobResult).Success)

	stored, err := f.convs.GetByID(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Trip Planning Discussion", stored.Title)
	assert.Equal(t, "Two people planned a trip to Lisbon in May.", stored.Summary)
	assert.Contains(t, stored.DetailedSummary, "book flights")
}

func TestGenerateTitleSummaryNoTranscriptSkipped(t *testing.T) {
	f := newTestProcessor(t)
	f.addConversation(t, "conv-1")

	out, err := f.processor.GenerateTitleSummary(context.Background(), processingJob(t, "job-u", FuncTitleSummary, "conv-1"))
	require.NoError(t, err)
	assert.True(t, out.(*models.JobResult).Skipped)
}
