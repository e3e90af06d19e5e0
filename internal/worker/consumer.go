package worker

import (
	"encoding/json"
	"time"

	"github.com/relayq/relayq/internal/domain/model"
)

// ProgressEvent is one progress note emitted by a running job callable via
// TaskConsumer.Progress. The dispatcher sends these on its buffered Progress
// channel; it does not log or record them itself.
type ProgressEvent struct {
	WorkerID string
	TaskID   string
	Note     string
	At       time.Time
}

// TaskConsumer is the model.JobContext handed to a job callable: it binds
// the callable to one worker's identity, the task record under execution,
// and an outbound progress-emission channel (spec's worker surface).
type TaskConsumer struct {
	workerID string
	task     *model.Task
	progress chan<- ProgressEvent
}

// NewTaskConsumer constructs a TaskConsumer. progress may be nil, in which
// case Progress calls are silently dropped.
func NewTaskConsumer(workerID string, task *model.Task, progress chan<- ProgressEvent) *TaskConsumer {
	return &TaskConsumer{workerID: workerID, task: task, progress: progress}
}

// Args returns the task's bound positional arguments.
func (c *TaskConsumer) Args() []json.RawMessage { return c.task.Args }

// Kwargs returns the task's bound keyword arguments.
func (c *TaskConsumer) Kwargs() map[string]json.RawMessage { return c.task.Kwargs }

// Task returns the task record under execution.
func (c *TaskConsumer) Task() *model.Task { return c.task }

// Progress emits a non-blocking progress note. A full or nil progress
// channel drops the note rather than stalling the job callable.
func (c *TaskConsumer) Progress(note string) {
	if c.progress == nil {
		return
	}
	select {
	case c.progress <- ProgressEvent{WorkerID: c.workerID, TaskID: c.task.ID, Note: note, At: time.Now()}:
	default:
	}
}

var _ model.JobContext = (*TaskConsumer)(nil)
