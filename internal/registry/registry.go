// Package registry owns the durable set of known jobs: one directory per job
// holding the encrypted configuration, the key material, and a metadata
// document. All registry mutations go through here; scheduling changes are
// delegated to the scheduler.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rpa-agent/internal/executor"
	"rpa-agent/internal/model"
	"rpa-agent/internal/rpalog"
	"rpa-agent/internal/scheduler"
)

const (
	encFileName = "rpa_config.enc"
	keyFileName = "rpa.key"
)

// Executor runs the single-job execution path.
type Executor interface {
	Execute(ctx context.Context, name, encPath, keyPath string) executor.Outcome
}

type jobEntry struct {
	mu  sync.Mutex // serializes metadata read-modify-write and persistence
	job model.Job
}

type Registry struct {
	dir       string
	scheduler *scheduler.Scheduler
	executor  Executor
	execLog   *rpalog.Log

	mu    sync.RWMutex // guards the jobs map
	jobs  map[string]*jobEntry
	runWg sync.WaitGroup
}

func New(dir string, skd *scheduler.Scheduler, ex Executor, execLog *rpalog.Log) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed creating job directory: %w", err)
	}
	return &Registry{
		dir:       dir,
		scheduler: skd,
		executor:  ex,
		execLog:   execLog,
		jobs:      make(map[string]*jobEntry),
	}, nil
}

// LoadAll scans the job directory and registers every directory that holds
// both an encrypted configuration and a key file. Jobs whose metadata marks
// them active are scheduled immediately. Malformed metadata never aborts the
// scan; it is replaced with defaults and logged.
func (r *Registry) LoadAll() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		log.WithFields(log.Fields{"dir": r.dir, "error": err}).Error("Failed scanning job directory")
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		jobDir := filepath.Join(r.dir, name)
		encPath := filepath.Join(jobDir, encFileName)
		keyPath := filepath.Join(jobDir, keyFileName)
		if !fileExists(encPath) || !fileExists(keyPath) {
			continue
		}

		meta := loadMetadata(name, jobDir)
		r.mu.Lock()
		r.jobs[name] = &jobEntry{job: model.Job{
			Name:    name,
			EncPath: encPath,
			KeyPath: keyPath,
			Meta:    meta,
		}}
		r.mu.Unlock()
		log.WithFields(log.Fields{"job": name, "active": meta.Active}).Info("Job loaded")

		if meta.Active {
			r.scheduler.ScheduleFromEncryptedSource(name, encPath, keyPath, r.runScheduled)
		}
	}
}

// Add registers a new job from the two source files. The name is normalized
// (trimmed, spaces to underscores); empty or already-taken names are rejected.
// The new job starts inactive.
func (r *Registry) Add(name, encSource, keySource, description string) error {
	name = NormalizeName(name)
	if name == "" {
		return model.ErrorInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("cannot add %s: %w", name, model.ErrorExists)
	}

	jobDir := filepath.Join(r.dir, name)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("failed creating directory for %s: %w", name, err)
	}
	encPath := filepath.Join(jobDir, encFileName)
	keyPath := filepath.Join(jobDir, keyFileName)
	if err := copyFile(encSource, encPath); err != nil {
		os.RemoveAll(jobDir)
		return fmt.Errorf("failed copying encrypted configuration for %s: %w", name, err)
	}
	if err := copyFile(keySource, keyPath); err != nil {
		os.RemoveAll(jobDir)
		return fmt.Errorf("failed copying key file for %s: %w", name, err)
	}

	meta := model.DefaultMetadata(time.Now())
	meta.Description = description
	if err := saveMetadata(jobDir, meta); err != nil {
		log.WithFields(log.Fields{"job": name, "error": err}).Error("Failed persisting metadata")
	}

	r.jobs[name] = &jobEntry{job: model.Job{
		Name:    name,
		EncPath: encPath,
		KeyPath: keyPath,
		Meta:    meta,
	}}
	r.execLog.Append(name, "[OK] RPA added")
	log.WithFields(log.Fields{"job": name}).Info("Job added")
	return nil
}

// removeAll is swapped out in tests to exercise the deletion failure path.
var removeAll = os.RemoveAll

// Remove deletes the job's files, cancels its schedule, and drops it from the
// registry. The schedule is only cancelled once the files are gone; a failed
// deletion keeps the entry and its timer intact so the operation can be
// retried without silently stopping an active job.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, exists := r.jobs[name]
	if !exists {
		return fmt.Errorf("cannot remove %s: %w", name, model.ErrorNotFound)
	}

	jobDir := filepath.Dir(entry.job.EncPath)
	if err := removeAll(jobDir); err != nil {
		r.execLog.Append(name, fmt.Sprintf("[ERROR] failed removing RPA files: %v", err))
		log.WithFields(log.Fields{"job": name, "error": err}).Error("Failed removing job files")
		return fmt.Errorf("failed removing files for %s: %w", name, err)
	}
	r.scheduler.Cancel(name)
	delete(r.jobs, name)
	r.execLog.Append(name, "[INFO] RPA removed")
	log.WithFields(log.Fields{"job": name}).Info("Job removed")
	return nil
}

// Rename moves the job's storage directory, cancels the old schedule and, if
// the job was active, re-establishes it under the new name. Metadata transfers
// verbatim, execution count included.
func (r *Registry) Rename(oldName, newName string) error {
	newName = NormalizeName(newName)
	if newName == "" {
		return model.ErrorInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, exists := r.jobs[oldName]
	if !exists {
		return fmt.Errorf("cannot rename %s: %w", oldName, model.ErrorNotFound)
	}
	if _, taken := r.jobs[newName]; taken {
		return fmt.Errorf("cannot rename to %s: %w", newName, model.ErrorExists)
	}

	oldDir := filepath.Join(r.dir, oldName)
	newDir := filepath.Join(r.dir, newName)
	if err := os.Rename(oldDir, newDir); err != nil {
		return fmt.Errorf("failed renaming %s to %s: %w", oldName, newName, err)
	}

	r.scheduler.Cancel(oldName)

	entry.mu.Lock()
	entry.job.Name = newName
	entry.job.EncPath = filepath.Join(newDir, encFileName)
	entry.job.KeyPath = filepath.Join(newDir, keyFileName)
	meta := entry.job.Meta
	entry.mu.Unlock()

	delete(r.jobs, oldName)
	r.jobs[newName] = entry
	if err := saveMetadata(newDir, meta); err != nil {
		log.WithFields(log.Fields{"job": newName, "error": err}).Error("Failed persisting metadata")
	}

	if meta.Active {
		r.scheduler.ScheduleFromEncryptedSource(newName, entry.job.EncPath, entry.job.KeyPath, r.runScheduled)
	}
	r.execLog.Append(newName, fmt.Sprintf("[INFO] RPA renamed from %s", oldName))
	log.WithFields(log.Fields{"from": oldName, "to": newName}).Info("Job renamed")
	return nil
}

// Activate marks the job active, persists the flag, and schedules it.
// Activating an already-active job is a harmless re-assertion; the scheduler's
// at-most-one guard prevents duplicate tasks.
func (r *Registry) Activate(name string) error {
	entry, err := r.entry(name)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	entry.job.Meta.Active = true
	r.persistLocked(entry)
	encPath, keyPath := entry.job.EncPath, entry.job.KeyPath
	entry.mu.Unlock()

	r.scheduler.ScheduleFromEncryptedSource(name, encPath, keyPath, r.runScheduled)
	r.execLog.Append(name, "[INFO] RPA activated")
	return nil
}

// Deactivate clears the active flag, persists it, and cancels the schedule.
func (r *Registry) Deactivate(name string) error {
	entry, err := r.entry(name)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	entry.job.Meta.Active = false
	r.persistLocked(entry)
	entry.mu.Unlock()

	r.scheduler.Cancel(name)
	r.execLog.Append(name, "[INFO] RPA deactivated")
	return nil
}

// ExecuteNow runs the job immediately on its own goroutine, independent of the
// schedule. The caller is never blocked by the job's runtime.
func (r *Registry) ExecuteNow(name string) error {
	if _, err := r.entry(name); err != nil {
		return err
	}
	r.runWg.Add(1)
	go func() {
		defer r.runWg.Done()
		r.runOnce(name)
	}()
	return nil
}

// Info returns a snapshot of the job's run metadata.
func (r *Registry) Info(name string) (model.RunMetadata, error) {
	entry, err := r.entry(name)
	if err != nil {
		return model.RunMetadata{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.Meta, nil
}

// List returns snapshots of every registered job, sorted by name.
func (r *Registry) List() []model.Job {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, entry := range r.jobs {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	jobs := make([]model.Job, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		jobs = append(jobs, entry.job)
		entry.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Close cancels every schedule and waits for in-flight manual runs to finish.
func (r *Registry) Close() {
	r.scheduler.Stop()
	r.runWg.Wait()
}

// NormalizeName trims the name and replaces inner spaces with underscores so
// it is safe to use as a directory name.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

func (r *Registry) entry(name string) (*jobEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.jobs[name]
	if !exists {
		return nil, fmt.Errorf("%s: %w", name, model.ErrorNotFound)
	}
	return entry, nil
}

// runScheduled is the callback handed to the scheduler for timer ticks.
func (r *Registry) runScheduled(name string) error {
	return r.runOnce(name)
}

// runOnce executes the job and then, serialized per job, increments the
// execution counter and persists the metadata. Every attempted run counts,
// successful or not, so the counter reflects attempts rather than deliveries.
func (r *Registry) runOnce(name string) error {
	entry, err := r.entry(name)
	if err != nil {
		log.WithFields(log.Fields{"job": name}).Warn("Execution requested for unknown job")
		return err
	}
	entry.mu.Lock()
	encPath, keyPath := entry.job.EncPath, entry.job.KeyPath
	entry.mu.Unlock()

	outcome := r.executor.Execute(context.Background(), name, encPath, keyPath)

	entry.mu.Lock()
	entry.job.Meta.ExecutionCount++
	entry.job.Meta.LastRunAt = time.Now().Format(model.TimestampLayout)
	r.persistLocked(entry)
	entry.mu.Unlock()

	if outcome.Failed() {
		r.execLog.Append(name, fmt.Sprintf("[ERROR] run failed (%s): %v", outcome.Status, outcome.Err))
		return outcome.Err
	}
	r.execLog.Append(name, "[SUCCESS] RPA executed successfully")
	return nil
}

// persistLocked writes the entry's metadata; callers hold entry.mu. A failed
// write is logged and skipped, it does not roll back the in-memory state.
func (r *Registry) persistLocked(entry *jobEntry) {
	jobDir := filepath.Dir(entry.job.EncPath)
	if err := saveMetadata(jobDir, entry.job.Meta); err != nil {
		log.WithFields(log.Fields{"job": entry.job.Name, "error": err}).Error("Failed persisting metadata")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
