// Package executor runs the sequential execution path of a single job:
// decrypt the configuration, drive the browser steps, mail the report, and
// record every outcome in the job's execution log. All failures are converted
// into an enumerated outcome; nothing here can kill a schedule.
package executor

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"rpa-agent/internal/model"
	"rpa-agent/internal/rpalog"
)

type Status int

const (
	StatusSuccess Status = iota
	StatusConfigError
	StatusRunnerError
	StatusNotifyError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusConfigError:
		return "config error"
	case StatusRunnerError:
		return "runner error"
	case StatusNotifyError:
		return "notify error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one attempted run. A NotifyError outcome still
// carries the number of captures taken before mailing failed.
type Outcome struct {
	Status   Status
	Captures int
	Err      error
}

func (o Outcome) Failed() bool {
	return o.Status != StatusSuccess
}

// ConfigSource decrypts a job's configuration document.
type ConfigSource interface {
	Decrypt(encPath, keyPath string) (*model.Document, error)
}

// Runner performs the browser navigation steps of a parsed document.
type Runner interface {
	Run(ctx context.Context, doc *model.Document) ([]model.Capture, []model.StepResult, error)
}

// Notifier sends the report email for a completed run.
type Notifier interface {
	Send(mail model.MailConfig, rpa model.RPAConfig, captures []model.Capture, timestamp string) error
}

type Executor struct {
	source   ConfigSource
	runner   Runner
	notifier Notifier
	execLog  *rpalog.Log
}

func New(source ConfigSource, runner Runner, notifier Notifier, execLog *rpalog.Log) *Executor {
	return &Executor{source: source, runner: runner, notifier: notifier, execLog: execLog}
}

// Execute runs the full pipeline for one job. Steps are strictly sequential; a
// mailing failure does not erase the captures already taken.
func (ex *Executor) Execute(ctx context.Context, name, encPath, keyPath string) Outcome {
	doc, err := ex.source.Decrypt(encPath, keyPath)
	if err != nil {
		ex.execLog.Append(name, fmt.Sprintf("[ERROR] could not decrypt configuration: %v", err))
		log.WithFields(log.Fields{"job": name, "error": err}).Error("Decryption failed")
		return Outcome{Status: StatusConfigError, Err: fmt.Errorf("failed decrypting configuration: %w", err)}
	}

	ex.execLog.Append(name, "RPA: starting navigation and captures")
	captures, steps, err := ex.runner.Run(ctx, doc)
	if err != nil {
		ex.execLog.Append(name, fmt.Sprintf("[ERROR] navigation failed: %v", err))
		log.WithFields(log.Fields{"job": name, "error": err}).Error("Navigation failed")
		return Outcome{Status: StatusRunnerError, Captures: len(captures), Err: fmt.Errorf("failed running navigation: %w", err)}
	}

	for _, step := range steps {
		ex.execLog.Append(name, fmt.Sprintf("RPA: URL visited -> %s", step.URL))
		ex.execLog.Append(name, fmt.Sprintf("RPA: load time -> %.2fs", step.LoadSeconds))
		if step.CaptureFile != "" {
			ex.execLog.Append(name, fmt.Sprintf("RPA: capture taken -> %s", step.CaptureFile))
		} else {
			ex.execLog.Append(name, "RPA: capture taken -> none")
		}
	}
	ex.execLog.Append(name, fmt.Sprintf("RPA: total captures -> %d", len(captures)))

	ex.execLog.Append(name, "RPA: sending report email")
	timestamp := time.Now().Format(model.TimestampLayout)
	if err = ex.notifier.Send(doc.Mail, doc.RPA, captures, timestamp); err != nil {
		ex.execLog.Append(name, fmt.Sprintf("[ERROR] failed sending report: %v", err))
		log.WithFields(log.Fields{"job": name, "error": err}).Error("Report email failed")
		return Outcome{Status: StatusNotifyError, Captures: len(captures), Err: fmt.Errorf("failed sending report: %w", err)}
	}
	ex.execLog.Append(name, "RPA: report email sent")

	return Outcome{Status: StatusSuccess, Captures: len(captures)}
}
