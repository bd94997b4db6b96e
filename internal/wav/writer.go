package wav

import (
	"encoding/binary"
	"fmt"
	"os"
)

// FileWriter streams PCM16 into a WAV file. The header is written up front
// with zero sizes and patched on Close, so a crash leaves a recognizably
// truncated file rather than a silently wrong one.
type FileWriter struct {
	f          *os.File
	path       string
	sampleRate int
	channels   int
	dataBytes  uint32
	closed     bool
}

// NewFileWriter creates the file, truncating any previous content.
func NewFileWriter(path string, sampleRate, channels int) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}

	header := make([]byte, headerSize)
	writeHeader(header, 0, uint32(sampleRate), uint16(channels))
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}

	return &FileWriter{f: f, path: path, sampleRate: sampleRate, channels: channels}, nil
}

// Path returns the file's location on disk.
func (w *FileWriter) Path() string {
	return w.path
}

// Write appends raw PCM16 samples.
func (w *FileWriter) Write(pcm []byte) error {
	if w.closed {
		return fmt.Errorf("wav writer already closed")
	}
	n, err := w.f.Write(pcm)
	w.dataBytes += uint32(n)
	if err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// Duration returns the seconds of audio written so far.
func (w *FileWriter) Duration() float64 {
	return float64(w.dataBytes) / float64(w.sampleRate*w.channels*2)
}

// BytesWritten returns the PCM byte count written so far.
func (w *FileWriter) BytesWritten() int64 {
	return int64(w.dataBytes)
}

// Close patches the header sizes, fsyncs and closes the file. Once Close
// returns nil the file is durable on disk, so callers may announce it.
func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var sizes [4]byte
	binary.LittleEndian.PutUint32(sizes[:], 36+w.dataBytes)
	if _, err := w.f.WriteAt(sizes[:], 4); err != nil {
		w.f.Close()
		return fmt.Errorf("patch riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(sizes[:], w.dataBytes)
	if _, err := w.f.WriteAt(sizes[:], 40); err != nil {
		w.f.Close()
		return fmt.Errorf("patch data size: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("sync wav file: %w", err)
	}
	return w.f.Close()
}
