package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chronicleaudio/chronicle/internal/config"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

func speechCfg() config.SpeechConfig {
	return config.SpeechConfig{MinWords: 5, MinConfidence: 0.5, MinDuration: 10.0}
}

func words(confidence *float64, times ...float64) []models.Word {
	var out []models.Word
	for i := 0; i+1 < len(times); i += 2 {
		out = append(out, models.Word{Text: "w", Start: times[i], End: times[i+1], Confidence: confidence})
	}
	return out
}

func TestAnalyzeSpeechNilAggregate(t *testing.T) {
	analysis := AnalyzeSpeech(nil, speechCfg())
	assert.False(t, analysis.HasSpeech)
	assert.Equal(t, "no_results", analysis.Reason)
}

func TestAnalyzeSpeechQualifies(t *testing.T) {
	agg := &models.Aggregate{
		Words: words(nil, 0, 1, 2, 3, 4, 5, 6, 7, 10, 11),
	}
	analysis := AnalyzeSpeech(agg, speechCfg())
	assert.True(t, analysis.HasSpeech)
	assert.Equal(t, "meaningful_speech", analysis.Reason)
	assert.Equal(t, 5, analysis.WordCount)
	assert.InDelta(t, 11.0, analysis.Duration, 0.001)
}

func TestAnalyzeSpeechBelowWordThreshold(t *testing.T) {
	agg := &models.Aggregate{Words: words(nil, 0, 1, 5, 6, 11, 12)}
	analysis := AnalyzeSpeech(agg, speechCfg())
	assert.False(t, analysis.HasSpeech)
	assert.Equal(t, "below_word_threshold", analysis.Reason)
}

func TestAnalyzeSpeechBelowDurationThreshold(t *testing.T) {
	// Five words crammed into three seconds: enough words, not enough time.
	agg := &models.Aggregate{Words: words(nil, 0, 0.5, 0.6, 1.0, 1.2, 1.8, 2.0, 2.4, 2.6, 3.0)}
	analysis := AnalyzeSpeech(agg, speechCfg())
	assert.False(t, analysis.HasSpeech)
	assert.Equal(t, "below_duration_threshold", analysis.Reason)
	assert.Equal(t, 5, analysis.WordCount)
}

func TestAnalyzeSpeechFiltersLowConfidence(t *testing.T) {
	low, high := 0.2, 0.9
	agg := &models.Aggregate{
		Words: append(words(&low, 0, 1, 2, 3, 4, 5), words(&high, 6, 7, 20, 21)...),
	}
	analysis := AnalyzeSpeech(agg, speechCfg())
	// Only the two high-confidence words qualify.
	assert.Equal(t, 2, analysis.WordCount)
	assert.False(t, analysis.HasSpeech)
	assert.Equal(t, "below_word_threshold", analysis.Reason)
}

func TestAnalyzeSpeechMissingConfidenceQualifies(t *testing.T) {
	agg := &models.Aggregate{Words: words(nil, 0, 1, 3, 4, 6, 7, 9, 10, 12, 13)}
	analysis := AnalyzeSpeech(agg, speechCfg())
	assert.True(t, analysis.HasSpeech)
	assert.Equal(t, 5, analysis.WordCount)
}

func TestAnalyzeSpeechTextFallback(t *testing.T) {
	agg := &models.Aggregate{Text: "one two three four five six"}
	analysis := AnalyzeSpeech(agg, speechCfg())
	assert.True(t, analysis.HasSpeech)
	assert.True(t, analysis.Fallback)
	assert.Equal(t, "text_word_count", analysis.Reason)
	assert.Equal(t, 6, analysis.WordCount)
}

func TestAnalyzeSpeechTextFallbackBelowThreshold(t *testing.T) {
	agg := &models.Aggregate{Text: "too short"}
	analysis := AnalyzeSpeech(agg, speechCfg())
	assert.False(t, analysis.HasSpeech)
	assert.True(t, analysis.Fallback)
	assert.Equal(t, "below_word_threshold", analysis.Reason)
}

func TestSpeakerLabelsPrefersIdentified(t *testing.T) {
	segments := []models.SpeakerSegment{
		{Speaker: "Speaker 0", IdentifiedAs: "Maria"},
		{Speaker: "Speaker 1"},
		{Speaker: "Speaker 0", IdentifiedAs: "Maria"},
		{Speaker: "Speaker 2", IdentifiedAs: ""},
	}
	assert.Equal(t, []string{"Maria", "Speaker 1", "Speaker 2"}, speakerLabels(segments))
}

func TestTranscriptPreview(t *testing.T) {
	assert.Equal(t, "short", transcriptPreview("short", 500))
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	preview := transcriptPreview(string(long), 500)
	assert.Len(t, preview, 503)
	assert.Equal(t, "...", preview[500:])
}
