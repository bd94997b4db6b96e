package engine

import (
	"github.com/chronicleaudio/chronicle/internal/config"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

// AnalyzeSpeech decides whether an aggregate contains meaningful speech.
// With word-level data: count words at or above the confidence floor, and
// require both enough of them and enough elapsed time between the first and
// last qualifying word. Without word data, fall back to a bare word count
// over the text.
func AnalyzeSpeech(agg *models.Aggregate, cfg config.SpeechConfig) models.SpeechAnalysis {
	if agg == nil {
		return models.SpeechAnalysis{Reason: "no_results"}
	}

	if len(agg.Words) == 0 {
		count := agg.WordCount()
		if count >= cfg.MinWords {
			return models.SpeechAnalysis{
				HasSpeech: true,
				Reason:    "text_word_count",
				WordCount: count,
				Fallback:  true,
			}
		}
		return models.SpeechAnalysis{
			Reason:    "below_word_threshold",
			WordCount: count,
			Fallback:  true,
		}
	}

	var qualifying int
	var first, last float64
	for _, w := range agg.Words {
		if w.Confidence != nil && *w.Confidence < cfg.MinConfidence {
			continue
		}
		if qualifying == 0 {
			first = w.Start
		}
		last = w.End
		qualifying++
	}

	analysis := models.SpeechAnalysis{
		WordCount: qualifying,
		Start:     first,
		End:       last,
		Duration:  last - first,
	}

	if qualifying < cfg.MinWords {
		analysis.Reason = "below_word_threshold"
		return analysis
	}
	if analysis.Duration < cfg.MinDuration {
		analysis.Reason = "below_duration_threshold"
		return analysis
	}

	analysis.HasSpeech = true
	analysis.Reason = "meaningful_speech"
	return analysis
}

// speakerLabels returns the distinct speaker labels seen so far, preferring
// identified names over raw diarization labels, in first-seen order.
func speakerLabels(segments []models.SpeakerSegment) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, seg := range segments {
		label := seg.Speaker
		if seg.IdentifiedAs != "" {
			label = seg.IdentifiedAs
		}
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels
}

// transcriptPreview truncates a transcript for job progress metadata.
func transcriptPreview(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
