package models

// Word is a single recognized word with timing and confidence. Confidence
// is nil when the provider did not report one; such words are never filtered
// out by the confidence floor.
type Word struct {
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// SpeakerSegment is a contiguous stretch of speech attributed to one speaker.
// Speaker is always a string label; providers that emit numeric speaker ids
// must format them before the segment enters the system.
type SpeakerSegment struct {
	Start        float64  `json:"start"`
	End          float64  `json:"end"`
	Text         string   `json:"text"`
	Speaker      string   `json:"speaker"`
	Confidence   *float64 `json:"confidence,omitempty"`
	IdentifiedAs string   `json:"identified_as,omitempty"`
}

// TranscriptionResult is one emission from a streaming transcription
// provider, appended to the per-session result stream.
type TranscriptionResult struct {
	Text                 string           `json:"text"`
	Words                []Word           `json:"words,omitempty"`
	Segments             []SpeakerSegment `json:"segments,omitempty"`
	ChunkCountAtEmission int              `json:"chunk_count_at_emission"`
}

// Aggregate is the merged view of every TranscriptionResult emitted so far
// for a session, in stream order.
type Aggregate struct {
	Text       string           `json:"text"`
	Words      []Word           `json:"words"`
	Segments   []SpeakerSegment `json:"segments"`
	ChunkCount int              `json:"chunk_count"`
}

// WordCount returns the number of words in the aggregate, preferring
// word-level data and falling back to whitespace splitting of the text.
func (a *Aggregate) WordCount() int {
	if len(a.Words) > 0 {
		return len(a.Words)
	}
	return countFields(a.Text)
}

func countFields(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

// SpeechAnalysis is the outcome of meaningful-speech detection over an
// aggregate.
type SpeechAnalysis struct {
	HasSpeech bool    `json:"has_speech"`
	Reason    string  `json:"reason"`
	WordCount int     `json:"word_count"`
	Duration  float64 `json:"duration"`
	Start     float64 `json:"speech_start,omitempty"`
	End       float64 `json:"speech_end,omitempty"`
	Fallback  bool    `json:"fallback,omitempty"`
}

// AudioFormat describes raw PCM parameters advertised in the audio-start
// header or read from an uploaded WAV.
type AudioFormat struct {
	SampleRate int `json:"rate"`
	Width      int `json:"width"` // bytes per sample
	Channels   int `json:"channels"`
}
