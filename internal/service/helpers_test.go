// internal/service/helpers_test.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"todocore/internal/bus"
	"todocore/internal/models"
	"todocore/internal/repository"
)

// fakeTaskStore is an in-memory TaskStore mirroring the repository's
// transactional semantics: fn returning (nil, nil, nil) leaves the task
// untouched, events are captured instead of hitting an outbox.
type fakeTaskStore struct {
	mu     sync.Mutex
	tasks  map[uuid.UUID]*models.Task
	events []bus.Envelope
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[uuid.UUID]*models.Task)}
}

func (f *fakeTaskStore) Create(_ context.Context, task *models.Task, events ...bus.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task.Clone()
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeTaskStore) Get(_ context.Context, tenantID, id uuid.UUID) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok || task.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return task.Clone(), nil
}

func (f *fakeTaskStore) Mutate(
	_ context.Context, tenantID, id uuid.UUID,
	fn func(current *models.Task) (*models.Task, []bus.Envelope, error),
) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.tasks[id]
	if !ok || current.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}

	next, events, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current.Clone(), nil
	}
	f.tasks[id] = next.Clone()
	f.events = append(f.events, events...)
	return next, nil
}

func (f *fakeTaskStore) Delete(
	_ context.Context, tenantID, id uuid.UUID,
	buildEvents func(deleted *models.Task) ([]bus.Envelope, error),
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok || task.TenantID != tenantID {
		return repository.ErrNotFound
	}

	events, err := buildEvents(task.Clone())
	if err != nil {
		return err
	}
	delete(f.tasks, id)
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeTaskStore) List(_ context.Context, tenantID uuid.UUID, _ repository.ListQuery) ([]models.Task, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, task := range f.tasks {
		if task.TenantID == tenantID {
			out = append(out, *task.Clone())
		}
	}
	return out, len(out), nil
}

func (f *fakeTaskStore) capturedEvents() []bus.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.Envelope(nil), f.events...)
}

// fakeSink records publishes synchronously.
type fakeSink struct {
	mu        sync.Mutex
	published map[string][]bus.Envelope
}

func newFakeSink() *fakeSink {
	return &fakeSink{published: make(map[string][]bus.Envelope)}
}

func (f *fakeSink) Publish(_ context.Context, topic string, env bus.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append(f.published[topic], env)
	return nil
}

func (f *fakeSink) Subscribe(string, string, bus.Handler) {}
func (f *fakeSink) Close()                                {}

func (f *fakeSink) topic(topic string) []bus.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.Envelope(nil), f.published[topic]...)
}

// fakeReminderStore is an in-memory ReminderStore.
type fakeReminderStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]models.ReminderJob
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{jobs: make(map[uuid.UUID]models.ReminderJob)}
}

func (f *fakeReminderStore) Upsert(_ context.Context, job models.ReminderJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.TaskID] = job
	return nil
}

func (f *fakeReminderStore) Cancel(_ context.Context, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[taskID]
	if !ok || job.State != models.ReminderPending {
		return nil
	}
	job.State = models.ReminderCancelled
	f.jobs[taskID] = job
	return nil
}

func (f *fakeReminderStore) DuePending(_ context.Context, now time.Time, limit int) ([]models.ReminderJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.ReminderJob
	for _, job := range f.jobs {
		if job.State == models.ReminderPending && !job.FireAt.After(now) {
			due = append(due, job)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (f *fakeReminderStore) MarkFired(_ context.Context, taskID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[taskID]
	if !ok || job.State != models.ReminderPending {
		return false, nil
	}
	job.State = models.ReminderFired
	f.jobs[taskID] = job
	return true, nil
}

func (f *fakeReminderStore) job(taskID uuid.UUID) (models.ReminderJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[taskID]
	return job, ok
}
