// Package wav reads and writes 16-bit PCM WAV. It covers the three audio
// paths Chronicle needs: encoding streamed PCM into per-conversation files,
// validating uploads, and cropping finished files down to speech segments.
package wav

import (
	"encoding/binary"
	"fmt"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
)

const headerSize = 44

// Encode wraps raw little-endian PCM16 samples in a WAV container.
func Encode(pcm []byte, sampleRate, channels int) []byte {
	out := make([]byte, headerSize+len(pcm))
	writeHeader(out, uint32(len(pcm)), uint32(sampleRate), uint16(channels))
	copy(out[headerSize:], pcm)
	return out
}

func writeHeader(buf []byte, dataSize, sampleRate uint32, channels uint16) {
	const bitsPerSample = 16
	byteRate := sampleRate * uint32(channels) * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
}

// Decode parses a WAV file and returns its PCM payload and format. Only
// uncompressed 16-bit PCM is accepted; anything else returns
// domain.ErrAudioFormatUnsupported.
func Decode(data []byte) ([]byte, models.AudioFormat, error) {
	var format models.AudioFormat

	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, format, fmt.Errorf("%w: not a RIFF/WAVE file", domain.ErrAudioFormatUnsupported)
	}

	var pcm []byte
	haveFmt := false
	offset := 12

	// Walk the chunk list. Real-world files carry LIST, fact and other
	// chunks between fmt and data.
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, format, fmt.Errorf("%w: truncated fmt chunk", domain.ErrAudioFormatUnsupported)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate := binary.LittleEndian.Uint32(data[body+4 : body+8])
			bitsPerSample := binary.LittleEndian.Uint16(data[body+14 : body+16])

			if audioFormat != 1 {
				return nil, format, fmt.Errorf("%w: compressed format %d", domain.ErrAudioFormatUnsupported, audioFormat)
			}
			if bitsPerSample != 16 {
				return nil, format, fmt.Errorf("%w: %d-bit samples", domain.ErrAudioFormatUnsupported, bitsPerSample)
			}
			if channels != 1 && channels != 2 {
				return nil, format, fmt.Errorf("%w: %d channels", domain.ErrAudioFormatUnsupported, channels)
			}

			format.SampleRate = int(sampleRate)
			format.Width = 2
			format.Channels = int(channels)
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !haveFmt {
		return nil, format, fmt.Errorf("%w: missing fmt chunk", domain.ErrAudioFormatUnsupported)
	}
	if pcm == nil {
		return nil, format, fmt.Errorf("%w: missing data chunk", domain.ErrAudioFormatUnsupported)
	}

	return pcm, format, nil
}

// Duration returns the playback length in seconds of a PCM16 payload.
func Duration(pcm []byte, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(len(pcm)) / float64(sampleRate*channels*2)
}

// DownmixStereo averages interleaved stereo PCM16 into mono. The input
// length is truncated to whole frames.
func DownmixStereo(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*4+2 : i*4+4]))
		mixed := int16((int32(left) + int32(right)) / 2)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(mixed))
	}
	return out
}
