// Package scheduler owns one recurring timer task per active job. Scheduling a
// name that already has a task is a no-op, cancellation is idempotent, and a
// failed execution never kills the schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rpa-agent/internal/model"
	"rpa-agent/internal/rpalog"
)

// ConfigSource decrypts a job's configuration on demand.
type ConfigSource interface {
	Decrypt(encPath, keyPath string) (*model.Document, error)
}

// ExecuteFunc runs one execution of the named job. The scheduler logs a
// returned error and carries on with the next interval.
type ExecuteFunc func(name string) error

type task struct {
	cancel context.CancelFunc
}

type Scheduler struct {
	source  ConfigSource
	execLog *rpalog.Log

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

func New(source ConfigSource, execLog *rpalog.Log) *Scheduler {
	return &Scheduler{
		source:  source,
		execLog: execLog,
		tasks:   make(map[string]*task),
	}
}

// Schedule installs a recurring task for name unless one already exists. An
// invalid or incomplete spec is reported as an error the caller may ignore;
// the job simply stays unscheduled. A nil execute callback is a programming
// error and panics.
func (skd *Scheduler) Schedule(name string, spec *model.ScheduleSpec, execute ExecuteFunc) error {
	if execute == nil {
		panic("scheduler: nil execute callback")
	}

	rec, err := buildRecurrence(spec, time.Now())
	if err != nil {
		skd.execLog.Append(name, fmt.Sprintf("[!] not scheduled: %v", err))
		log.WithFields(log.Fields{"job": name, "error": err}).Warn("Refusing to schedule job")
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	skd.mu.Lock()
	defer skd.mu.Unlock()
	if _, exists := skd.tasks[name]; exists {
		skd.execLog.Append(name, "[i] schedule already active")
		log.WithFields(log.Fields{"job": name}).Info("Schedule already active, ignoring")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	skd.tasks[name] = &task{cancel: cancel}
	skd.wg.Add(1)
	go skd.run(ctx, name, rec, execute)

	skd.execLog.Append(name, fmt.Sprintf("RPA - scheduled: %s", rec))
	log.WithFields(log.Fields{"job": name, "recurrence": rec.String()}).Info("Job scheduled")
	return nil
}

// ScheduleFromEncryptedSource decrypts the job's configuration and schedules it
// from the embedded spec. Any decryption or parse failure is logged and leaves
// the job unscheduled; nothing is raised to the caller.
func (skd *Scheduler) ScheduleFromEncryptedSource(name, encPath, keyPath string, execute ExecuteFunc) {
	doc, err := skd.source.Decrypt(encPath, keyPath)
	if err != nil {
		skd.execLog.Append(name, fmt.Sprintf("[!] could not schedule: %v", err))
		log.WithFields(log.Fields{"job": name, "error": err}).Warn("Could not decrypt configuration for scheduling")
		return
	}
	skd.Schedule(name, doc.RPA.Schedule, execute)
}

// Cancel signals the task for name to stop at its next wait point and removes
// it from the active set. Cancelling twice, or cancelling a name with no task,
// is a logged no-op.
func (skd *Scheduler) Cancel(name string) {
	skd.mu.Lock()
	defer skd.mu.Unlock()
	t, exists := skd.tasks[name]
	if !exists {
		skd.execLog.Append(name, "[!] no scheduled task to cancel")
		log.WithFields(log.Fields{"job": name}).Info("No scheduled task to cancel")
		return
	}
	t.cancel()
	delete(skd.tasks, name)
	skd.execLog.Append(name, "RPA - schedule cancelled")
	log.WithFields(log.Fields{"job": name}).Info("Schedule cancelled")
}

// Scheduled reports whether name currently has an active task.
func (skd *Scheduler) Scheduled(name string) bool {
	skd.mu.Lock()
	defer skd.mu.Unlock()
	_, exists := skd.tasks[name]
	return exists
}

// Count returns the number of active tasks.
func (skd *Scheduler) Count() int {
	skd.mu.Lock()
	defer skd.mu.Unlock()
	return len(skd.tasks)
}

// Stop cancels every task and waits for the timer goroutines to exit. An
// in-flight execution is allowed to finish.
func (skd *Scheduler) Stop() {
	skd.mu.Lock()
	for name, t := range skd.tasks {
		t.cancel()
		delete(skd.tasks, name)
	}
	skd.mu.Unlock()
	skd.wg.Wait()
}

func (skd *Scheduler) run(ctx context.Context, name string, rec recurrence, execute ExecuteFunc) {
	defer skd.wg.Done()

	timer := time.NewTimer(rec.firstWait(time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		skd.execLog.Append(name, "RPA - execution started")
		if err := execute(name); err != nil {
			skd.execLog.Append(name, fmt.Sprintf("[ERROR] execution failed: %v", err))
			log.WithFields(log.Fields{"job": name, "error": err}).Error("Scheduled execution failed")
		} else {
			skd.execLog.Append(name, "RPA - execution finished")
		}

		timer.Reset(rec.nextWait(time.Now()))
	}
}
