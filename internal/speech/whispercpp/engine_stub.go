//go:build !cgo

package whispercpp

import (
	"context"
	"errors"

	"github.com/whisperq/whisperq/internal/speech"
)

// Config describes the whisper.cpp backend.
type Config struct {
	ModelDir string
	Threads  int
}

// Engine is the placeholder used when the binary is built without cgo.
type Engine struct{}

var errNoCgo = errors.New("whisper.cpp backend requires a cgo build")

// New reports that the backend is unavailable in this build.
func New(Config) (*Engine, error) {
	return nil, errNoCgo
}

func (e *Engine) Name() string { return "whispercpp" }

func (e *Engine) LoadModel(context.Context, string, speech.Device) (speech.ModelContext, error) {
	return nil, errNoCgo
}
