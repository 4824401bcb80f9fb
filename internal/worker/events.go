package worker

import (
	"github.com/whisperq/whisperq/internal/model"
)

// Notifier receives task lifecycle events. Delivery is best effort and
// must never block or fail the worker.
type Notifier interface {
	Emit(event string, payload any)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Emit(string, any) {}

// Event names emitted by the worker.
const (
	EventTaskUpdate = "task_update"
	EventLogMessage = "log_message"
)

// TaskUpdate is the payload for task lifecycle events.
type TaskUpdate struct {
	TaskID         string           `json:"task_id"`
	Filename       string           `json:"filename"`
	Status         model.TaskStatus `json:"status"`
	Progress       int              `json:"progress,omitempty"`
	Position       int              `json:"position,omitempty"`
	Message        string           `json:"message,omitempty"`
	Language       string           `json:"language,omitempty"`
	OutputFile     string           `json:"output_file,omitempty"`
	ElapsedSeconds int              `json:"elapsed_seconds,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// LogMessage is the payload for operator-visible log events.
type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
