// Package rpalog keeps one append-only text log per job. Every recorded outcome
// of a run, scheduled or manual, lands here so it stays observable after the
// process restarts.
package rpalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"rpa-agent/internal/model"
)

type Log struct {
	dir string
}

// New creates the log directory if needed and returns a Log writing into it.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed creating log directory: %w", err)
	}
	return &Log{dir: dir}, nil
}

func (l *Log) path(name string) string {
	return filepath.Join(l.dir, name+".log")
}

// Append writes one timestamp-prefixed line to the job's log. Failures are
// logged and swallowed: a broken log file must never break an execution.
func (l *Log) Append(name, message string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(model.TimestampLayout), strings.TrimSpace(message))
	f, err := os.OpenFile(l.path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.WithFields(log.Fields{"job": name, "error": err}).Error("Failed opening execution log")
		return
	}
	defer f.Close()
	if _, err = f.WriteString(line); err != nil {
		log.WithFields(log.Fields{"job": name, "error": err}).Error("Failed appending to execution log")
	}
}

// ReadAll returns every line of the job's log in order. When the log cannot be
// read it returns a single error marker line instead of failing.
func (l *Log) ReadAll(name string) []string {
	data, err := os.ReadFile(l.path(name))
	if err != nil {
		return []string{fmt.Sprintf("[ERROR] could not read log for %s", name)}
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}
	}
	return lines
}

// Summary returns, for every job with a log file, its most recent line.
func (l *Log) Summary() []string {
	summary := []string{}
	for _, name := range l.List() {
		lines := l.ReadAll(name)
		if len(lines) == 0 {
			summary = append(summary, fmt.Sprintf("%s: [no entries]", name))
			continue
		}
		summary = append(summary, fmt.Sprintf("%s: %s", name, lines[len(lines)-1]))
	}
	return summary
}

// List returns the job names that currently have a log file.
func (l *Log) List() []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return []string{}
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".log"))
	}
	return names
}

func (l *Log) Count() int {
	return len(l.List())
}

// Clear removes the job's log file if present.
func (l *Log) Clear(name string) error {
	err := os.Remove(l.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed removing log for %s: %w", name, err)
	}
	return nil
}

// ClearAll removes every log file in the directory.
func (l *Log) ClearAll() error {
	for _, name := range l.List() {
		if err := l.Clear(name); err != nil {
			return err
		}
	}
	return nil
}
