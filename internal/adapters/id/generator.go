package id

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Generator mints the ids used across Chronicle. Session, conversation and
// version ids are plain UUIDv4 so they interop with external tooling; job
// and memory ids carry a readable prefix.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) SessionID() string {
	return uuid.NewString()
}

func (g *Generator) ConversationID() string {
	return uuid.NewString()
}

func (g *Generator) VersionID() string {
	return uuid.NewString()
}

func (g *Generator) prefixed(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_" + uuid.NewString()
	}
	return prefix + "_" + id
}

func (g *Generator) JobID(prefix string) string {
	if prefix == "" {
		prefix = "job"
	}
	return g.prefixed(prefix)
}

func (g *Generator) MemoryID() string {
	return g.prefixed("mem")
}
