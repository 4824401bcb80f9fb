package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whisperq/whisperq/pkg/util"
)

// TaskStatus is the lifecycle state of a transcription task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is one end-to-end request to transcribe one audio file. A task is
// owned by exactly one holder at a time: the queue while pending, the
// active registry while processing.
type Task struct {
	ID         string     `json:"id"`
	InputPath  string     `json:"-"`
	OutputPath string     `json:"-"`
	Model      string     `json:"model"`
	Language   string     `json:"language"`
	GPUIDs     []int      `json:"gpus"`
	Status     TaskStatus `json:"status"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	StartedAt  time.Time  `json:"startedAt,omitempty"`
}

// FileName returns the base name of the input media file.
func (t *Task) FileName() string {
	return filepath.Base(t.InputPath)
}

// OutputFileName returns the base name of the transcript file.
func (t *Task) OutputFileName() string {
	return filepath.Base(t.OutputPath)
}

// NewTaskID generates an opaque 32-character hex task identity.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TranscriptFileName derives the deterministic output name for an input
// file: the input stem plus a short task-id suffix.
func TranscriptFileName(inputPath, taskID string) string {
	suffix := taskID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s_%s.txt", util.FileStem(inputPath), suffix)
}

// SubmitRequest is the payload accepted by the queue endpoint.
type SubmitRequest struct {
	Files    []string `json:"files"`
	Model    string   `json:"model"`
	Language string   `json:"language"`
	GPUs     []int    `json:"gpus"`
}

// TaskReceipt is returned per file when tasks are submitted.
type TaskReceipt struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	Position int    `json:"position"`
}

// TaskView is the queue snapshot entry returned by the status API.
type TaskView struct {
	TaskID         string     `json:"task_id"`
	Filename       string     `json:"filename"`
	Status         TaskStatus `json:"status"`
	Position       int        `json:"position"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	ElapsedSeconds int        `json:"elapsed_seconds,omitempty"`
}
