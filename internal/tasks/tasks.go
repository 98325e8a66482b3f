// Package tasks runs named background jobs on a fixed interval.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bakkerme/topic-finder/internal/core"
)

// Task is a named job that first runs after WaitBeforeStart and then every Interval.
type Task struct {
	Name            string
	WaitBeforeStart time.Duration
	Interval        time.Duration
	Run             func(ctx context.Context) error
}

func (t Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Run == nil {
		return fmt.Errorf("task %s: run func is required", t.Name)
	}
	if t.Interval < time.Second {
		return fmt.Errorf("task %s: interval must be at least 1s", t.Name)
	}
	if t.WaitBeforeStart < 0 {
		return fmt.Errorf("task %s: wait_before_start must be >= 0", t.Name)
	}
	return nil
}

type registration struct {
	entry   cron.EntryID
	started bool
	timer   *time.Timer
	cancel  context.CancelFunc
}

// Manager schedules tasks on a robfig/cron scheduler. Adding a task under an
// existing name replaces it.
type Manager struct {
	mu       sync.Mutex
	cron     *cron.Cron
	tasks    map[string]*registration
	logger   *slog.Logger
	cronLog  cron.Logger
	inflight sync.WaitGroup
	stopped  bool
}

func NewManager(logger *slog.Logger) *Manager {
	logger = core.DefaultLogger(logger).With("component", "tasks")
	m := &Manager{
		cron:    cron.New(),
		tasks:   map[string]*registration{},
		logger:  logger,
		cronLog: slogCronLogger{logger: logger},
	}
	m.cron.Start()
	return m
}

// AddTask registers task. The task's context derives from ctx and is cancelled
// when the task is replaced or the manager stops.
func (m *Manager) AddTask(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return fmt.Errorf("task manager stopped")
	}
	m.removeLocked(task.Name)

	taskCtx, cancel := context.WithCancel(ctx)
	job := cron.NewChain(cron.Recover(m.cronLog), cron.SkipIfStillRunning(m.cronLog)).Then(cron.FuncJob(func() {
		if taskCtx.Err() != nil {
			return
		}
		if err := task.Run(taskCtx); err != nil {
			m.logger.Error("task run failed", "task", task.Name, "error", err)
		}
	}))

	reg := &registration{cancel: cancel}
	reg.timer = time.AfterFunc(task.WaitBeforeStart, func() {
		m.mu.Lock()
		if m.stopped || taskCtx.Err() != nil {
			m.mu.Unlock()
			return
		}
		reg.entry = m.cron.Schedule(cron.Every(task.Interval), job)
		reg.started = true
		m.inflight.Add(1)
		m.mu.Unlock()

		defer m.inflight.Done()
		job.Run()
	})
	m.tasks[task.Name] = reg

	m.logger.Info("task added", "task", task.Name, "wait_before_start", task.WaitBeforeStart, "interval", task.Interval)
	return nil
}

// RemoveTask stops and forgets the named task.
func (m *Manager) RemoveTask(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(name)
}

func (m *Manager) removeLocked(name string) {
	reg, ok := m.tasks[name]
	if !ok {
		return
	}
	reg.timer.Stop()
	reg.cancel()
	if reg.started {
		m.cron.Remove(reg.entry)
	}
	delete(m.tasks, name)
}

// Names lists registered task names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tasks))
	for name := range m.tasks {
		names = append(names, name)
	}
	return names
}

// Stop cancels all tasks and waits for running jobs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for name := range m.tasks {
		m.removeLocked(name)
	}
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	m.inflight.Wait()
}

type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
