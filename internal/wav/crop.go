package wav

import "sort"

// Span is a half-open time range in seconds within a recording.
type Span struct {
	Start float64
	End   float64
}

// MergeSpans pads each span by padding seconds on both sides, clamps to
// [0, total], sorts, and merges spans whose gap is at most joinGap seconds.
// Zero-length and inverted spans are dropped.
func MergeSpans(spans []Span, padding, joinGap, total float64) []Span {
	padded := make([]Span, 0, len(spans))
	for _, s := range spans {
		start := s.Start - padding
		end := s.End + padding
		if start < 0 {
			start = 0
		}
		if total > 0 && end > total {
			end = total
		}
		if end <= start {
			continue
		}
		padded = append(padded, Span{Start: start, End: end})
	}

	sort.Slice(padded, func(i, j int) bool { return padded[i].Start < padded[j].Start })

	merged := make([]Span, 0, len(padded))
	for _, s := range padded {
		if n := len(merged); n > 0 && s.Start <= merged[n-1].End+joinGap {
			if s.End > merged[n-1].End {
				merged[n-1].End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// Crop extracts the given spans from a mono PCM16 payload and concatenates
// them in order. It returns the cropped PCM and its duration in seconds.
// Spans are expected to be merged and non-overlapping; sample offsets are
// aligned down to frame boundaries.
func Crop(pcm []byte, sampleRate int, spans []Span) ([]byte, float64) {
	if len(spans) == 0 || sampleRate <= 0 {
		return nil, 0
	}

	totalFrames := len(pcm) / 2
	var out []byte
	for _, s := range spans {
		startFrame := int(s.Start * float64(sampleRate))
		endFrame := int(s.End * float64(sampleRate))
		if startFrame < 0 {
			startFrame = 0
		}
		if endFrame > totalFrames {
			endFrame = totalFrames
		}
		if endFrame <= startFrame {
			continue
		}
		out = append(out, pcm[startFrame*2:endFrame*2]...)
	}

	return out, Duration(out, sampleRate, 1)
}
