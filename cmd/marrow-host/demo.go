// ABOUTME: Sample object graph exposed by the demo host
// ABOUTME: A task board with events, constructors, statics, and a generic accessor

package main

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/marrowdev/marrow/internal/events"
	"github.com/marrowdev/marrow/internal/heap"
	"github.com/marrowdev/marrow/internal/typeres"
)

// DefaultBoardName is exposed as a registered static for controllers to read
// and rewrite.
var DefaultBoardName = "demo"

// Task is one unit of work on the board.
type Task struct {
	ID    int
	Title string
	Done  bool
}

// NewTask constructs a task with the given title.
func NewTask(title string) *Task {
	return &Task{Title: title}
}

// MarkDone completes the task.
func (t *Task) MarkDone() {
	t.Done = true
}

func (t *Task) String() string {
	state := "open"
	if t.Done {
		state = "done"
	}
	return fmt.Sprintf("#%d %s (%s)", t.ID, t.Title, state)
}

// TaskBoard holds tasks and announces changes through its embedded emitter.
type TaskBoard struct {
	*events.Emitter

	mu     sync.Mutex
	Name   string
	tasks  []*Task
	nextID int
}

// NewTaskBoard constructs an empty board.
func NewTaskBoard() *TaskBoard {
	return &TaskBoard{
		Emitter: events.NewEmitter("task_added", "task_done"),
		Name:    DefaultBoardName,
	}
}

// Add appends a new task and fires task_added.
func (b *TaskBoard) Add(title string) *Task {
	b.mu.Lock()
	b.nextID++
	t := &Task{ID: b.nextID, Title: title}
	b.tasks = append(b.tasks, t)
	b.mu.Unlock()

	b.Fire(b, "task_added", t)
	return t
}

// Complete marks the task with the given ID done and fires task_done.
func (b *TaskBoard) Complete(id int) error {
	b.mu.Lock()
	var found *Task
	for _, t := range b.tasks {
		if t.ID == id {
			found = t
			break
		}
	}
	b.mu.Unlock()

	if found == nil {
		return fmt.Errorf("no task with id %d", id)
	}
	found.MarkDone()
	b.Fire(b, "task_done", found)
	return nil
}

// Count returns the number of tasks on the board.
func (b *TaskBoard) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// Iterate exposes the board's tasks for element enumeration.
func (b *TaskBoard) Iterate() func() (any, bool) {
	b.mu.Lock()
	snapshot := make([]*Task, len(b.tasks))
	copy(snapshot, b.tasks)
	b.mu.Unlock()

	i := 0
	return func() (any, bool) {
		if i >= len(snapshot) {
			return nil, false
		}
		t := snapshot[i]
		i++
		return t, true
	}
}

// taskAt is the "task" instantiation of the board's generic At accessor.
func (b *TaskBoard) taskAt(index int) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.tasks) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return b.tasks[index], nil
}

// Churn keeps the board changing so event subscribers and heap enumerations
// have live data to observe.
func (b *TaskBoard) Churn(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			t := b.Add(fmt.Sprintf("background task %d", n))
			if n%3 == 0 {
				_ = b.Complete(t.ID)
			}
		}
	}
}

// buildDemoGraph registers the demo types and exposes a live board.
func buildDemoGraph() (*typeres.Resolver, *heap.Registry, *TaskBoard) {
	types := typeres.NewResolver()

	types.Register("demo", reflect.TypeOf(Task{}))
	boardDesc := types.Register("demo", reflect.TypeOf(TaskBoard{}))
	_ = types.RegisterConstructor(reflect.TypeOf(Task{}), NewTask)
	_ = types.RegisterConstructor(reflect.TypeOf(TaskBoard{}), NewTaskBoard)
	_ = types.RegisterStatic(boardDesc.Type, "DefaultBoardName", &DefaultBoardName)
	_ = types.RegisterGeneric(boardDesc.Type, typeres.GenericMethod{
		Name:       "At",
		TypeParams: []string{"T"},
		Instantiations: map[string]any{
			"demo!Task": (*TaskBoard).taskAt,
		},
	})

	exposure := heap.NewRegistry()
	board := NewTaskBoard()
	board.Add("read the morning logs")
	board.Add("rotate the demo credentials")
	exposure.Add(board)

	return types, exposure, board
}
