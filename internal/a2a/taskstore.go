package a2a

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// NewTaskID returns a random UUID v4 string.
func NewTaskID() string {
	return uuid.NewString()
}

// TaskStore is a concurrency-safe in-memory store for agent-side task
// tracking. Insertion order is kept for deterministic pagination.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewTaskStore returns an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*Task)}
}

// Create stores a new task. Creating an ID that already exists is an error.
func (s *TaskStore) Create(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %q already exists", task.ID)
	}
	s.tasks[task.ID] = cloneTask(&task)
	s.order = append(s.order, task.ID)
	return nil
}

// Get returns a copy of the task with the given ID, or an error wrapping
// ErrTaskNotFound.
func (s *TaskStore) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	return cloneTask(t), nil
}

// Update applies fn to the stored task under the write lock and returns a
// copy of the result.
func (s *TaskStore) Update(id string, fn func(*Task)) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	fn(t)
	return cloneTask(t), nil
}

// List returns tasks matching the filter in insertion order.
//
// PageToken is the ID of the last task of the previous page. PageSize <= 0
// returns every match after the token. TotalSize counts all matches,
// including those before the token.
func (s *TaskStore) List(filter ListTasksRequest) (*ListTasksResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if filter.PageToken != "" {
		start = -1
		for i, id := range s.order {
			if id == filter.PageToken {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("invalid page token %q", filter.PageToken)
		}
	}

	resp := &ListTasksResponse{Tasks: []Task{}}
	for i, id := range s.order {
		t := s.tasks[id]
		if !matchesFilter(t, filter) {
			continue
		}
		resp.TotalSize++
		if i < start {
			continue
		}
		if filter.PageSize > 0 && len(resp.Tasks) == filter.PageSize {
			if resp.NextPageToken == "" {
				resp.NextPageToken = resp.Tasks[len(resp.Tasks)-1].ID
			}
			continue
		}
		resp.Tasks = append(resp.Tasks, *cloneTask(t))
	}
	return resp, nil
}

// matchesFilter reports whether t passes the context and status filters.
func matchesFilter(t *Task, filter ListTasksRequest) bool {
	if filter.ContextID != "" && t.ContextID != filter.ContextID {
		return false
	}
	if filter.Status != "" && string(t.Status.State) != filter.Status {
		return false
	}
	return true
}

// cloneTask deep-copies a task through its JSON form; every field of Task is
// JSON-serializable, so the copy shares no slices or pointers with src.
func cloneTask(src *Task) *Task {
	data, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("a2a: clone task %q: %v", src.ID, err))
	}
	var dst Task
	if err := json.Unmarshal(data, &dst); err != nil {
		panic(fmt.Sprintf("a2a: clone task %q: %v", src.ID, err))
	}
	return &dst
}
