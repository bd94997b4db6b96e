package domain

// Stream and consumer-group names for the per-session bus. Audio bytes fan
// out to two independent consumer groups; transcription results are read
// whole by the aggregator and never acked.

func AudioStream(sessionID string) string {
	return "audio:bytes:" + sessionID
}

func ResultStream(sessionID string) string {
	return "transcription:results:" + sessionID
}

const (
	GroupPersistence   = "persistence"
	GroupTranscription = "transcription"
)

// FieldAudio is the stream entry field carrying one raw PCM chunk.
const FieldAudio = "data"
