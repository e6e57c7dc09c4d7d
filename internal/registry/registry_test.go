package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"rpa-agent/internal/crypto"
	"rpa-agent/internal/executor"
	"rpa-agent/internal/model"
	"rpa-agent/internal/rpalog"
	"rpa-agent/internal/scheduler"
)

type fakeExecutor struct {
	calls   int64
	outcome executor.Outcome
}

func (fe *fakeExecutor) Execute(ctx context.Context, name, encPath, keyPath string) executor.Outcome {
	atomic.AddInt64(&fe.calls, 1)
	return fe.outcome
}

type testEnv struct {
	reg  *Registry
	exec *fakeExecutor
	dir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	execLog, err := rpalog.New(t.TempDir())
	if err != nil {
		t.Fatalf("error creating execution log: %v", err)
	}
	skd := scheduler.New(crypto.NewDecryptor(), execLog)
	fe := &fakeExecutor{}
	dir := t.TempDir()
	reg, err := New(dir, skd, fe, execLog)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	t.Cleanup(reg.Close)
	return &testEnv{reg: reg, exec: fe, dir: dir}
}

// writeSources encrypts a document with a daily schedule and writes the
// encrypted blob and its key file into a fresh directory.
func writeSources(t *testing.T, name string) (string, string) {
	t.Helper()
	doc := model.Document{RPA: model.RPAConfig{
		Name:   name,
		Routes: []model.Route{{URL: "https://intranet.example.com", Capture: true}},
		Schedule: &model.ScheduleSpec{
			Frequency: model.FrequencyDaily,
			Interval:  1,
			StartTime: "03:00",
		},
	}}
	plaintext, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("error marshaling document: %v", err)
	}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	blob, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("error encrypting document: %v", err)
	}

	dir := t.TempDir()
	encPath := filepath.Join(dir, "source.enc")
	keyPath := filepath.Join(dir, "source.key")
	if err = os.WriteFile(encPath, blob, 0o600); err != nil {
		t.Fatalf("error writing encrypted source: %v", err)
	}
	if err = os.WriteFile(keyPath, key, 0o600); err != nil {
		t.Fatalf("error writing key source: %v", err)
	}
	return encPath, keyPath
}

func mustAdd(t *testing.T, env *testEnv, name string) {
	t.Helper()
	encPath, keyPath := writeSources(t, name)
	if err := env.reg.Add(name, encPath, keyPath, ""); err != nil {
		t.Fatalf("error adding %s: %v", name, err)
	}
}

func waitForCount(t *testing.T, env *testEnv, name string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		meta, err := env.reg.Info(name)
		if err != nil {
			t.Fatalf("error reading info for %s: %v", name, err)
		}
		if meta.ExecutionCount == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	meta, _ := env.reg.Info(name)
	t.Fatalf("expected execution count %d, got %d", want, meta.ExecutionCount)
}

func TestAddAndInfo(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "invoice")

	meta, err := env.reg.Info("invoice")
	if err != nil {
		t.Fatalf("error reading info: %v", err)
	}
	if meta.Active {
		t.Error("expected a freshly added job to start inactive")
	}
	if meta.ExecutionCount != 0 {
		t.Errorf("expected zero executions, got %d", meta.ExecutionCount)
	}
	if meta.CreatedAt == "" {
		t.Error("expected a creation timestamp")
	}
	if !fileExists(filepath.Join(env.dir, "invoice", encFileName)) {
		t.Error("expected encrypted configuration copied into the job directory")
	}
	if !fileExists(filepath.Join(env.dir, "invoice", metaFileName)) {
		t.Error("expected metadata persisted on add")
	}
}

func TestAddNormalizesName(t *testing.T) {
	env := newTestEnv(t)
	encPath, keyPath := writeSources(t, "monthly report")
	if err := env.reg.Add("  monthly report ", encPath, keyPath, ""); err != nil {
		t.Fatalf("error adding job: %v", err)
	}
	if _, err := env.reg.Info("monthly_report"); err != nil {
		t.Errorf("expected job stored under normalized name: %v", err)
	}
}

func TestAddRejectsEmptyAndDuplicateNames(t *testing.T) {
	env := newTestEnv(t)
	encPath, keyPath := writeSources(t, "invoice")

	if err := env.reg.Add("   ", encPath, keyPath, ""); !errors.Is(err, model.ErrorInvalidName) {
		t.Errorf("expected invalid name error, got %v", err)
	}
	if err := env.reg.Add("invoice", encPath, keyPath, ""); err != nil {
		t.Fatalf("error adding job: %v", err)
	}
	if err := env.reg.Add("invoice", encPath, keyPath, ""); !errors.Is(err, model.ErrorExists) {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestAddRejectsMissingSourceFiles(t *testing.T) {
	env := newTestEnv(t)
	if err := env.reg.Add("invoice", "/nonexistent.enc", "/nonexistent.key", ""); err == nil {
		t.Fatal("expected error for missing source files")
	}
	if fileExists(filepath.Join(env.dir, "invoice")) {
		t.Error("expected job directory cleaned up after failed add")
	}
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "invoice")

	if err := env.reg.Remove("invoice"); err != nil {
		t.Fatalf("error removing job: %v", err)
	}
	if _, err := env.reg.Info("invoice"); !errors.Is(err, model.ErrorNotFound) {
		t.Errorf("expected not found after remove, got %v", err)
	}
	if fileExists(filepath.Join(env.dir, "invoice")) {
		t.Error("expected job directory deleted")
	}
	if err := env.reg.Remove("invoice"); !errors.Is(err, model.ErrorNotFound) {
		t.Errorf("expected not found for second remove, got %v", err)
	}
}

func TestFailedRemoveKeepsActiveSchedule(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "invoice")
	if err := env.reg.Activate("invoice"); err != nil {
		t.Fatalf("error activating job: %v", err)
	}

	removeAll = func(string) error { return errors.New("device busy") }
	t.Cleanup(func() { removeAll = os.RemoveAll })

	if err := env.reg.Remove("invoice"); err == nil {
		t.Fatal("expected error when file deletion fails")
	}
	if !env.reg.scheduler.Scheduled("invoice") {
		t.Error("expected schedule kept after failed remove")
	}
	if _, err := env.reg.Info("invoice"); err != nil {
		t.Errorf("expected entry kept for retry, got %v", err)
	}

	// retrying once deletion works again tears everything down
	removeAll = os.RemoveAll
	if err := env.reg.Remove("invoice"); err != nil {
		t.Fatalf("error retrying remove: %v", err)
	}
	if env.reg.scheduler.Scheduled("invoice") {
		t.Error("expected schedule cancelled after successful remove")
	}
}

func TestRenamePreservesMetadata(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "invoice")

	if err := env.reg.ExecuteNow("invoice"); err != nil {
		t.Fatalf("error executing job: %v", err)
	}
	waitForCount(t, env, "invoice", 1)

	if err := env.reg.Rename("invoice", "billing"); err != nil {
		t.Fatalf("error renaming job: %v", err)
	}
	meta, err := env.reg.Info("billing")
	if err != nil {
		t.Fatalf("error reading info after rename: %v", err)
	}
	if meta.ExecutionCount != 1 {
		t.Errorf("expected execution count to survive rename, got %d", meta.ExecutionCount)
	}
	if _, err = env.reg.Info("invoice"); !errors.Is(err, model.ErrorNotFound) {
		t.Errorf("expected old name gone, got %v", err)
	}
	if !fileExists(filepath.Join(env.dir, "billing", encFileName)) {
		t.Error("expected job directory moved to the new name")
	}
}

func TestRenameRejectsBadTargets(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "invoice")
	mustAdd(t, env, "billing")

	if err := env.reg.Rename("invoice", "  "); !errors.Is(err, model.ErrorInvalidName) {
		t.Errorf("expected invalid name error, got %v", err)
	}
	if err := env.reg.Rename("ghost", "anything"); !errors.Is(err, model.ErrorNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}
	if err := env.reg.Rename("invoice", "billing"); !errors.Is(err, model.ErrorExists) {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestRenameActiveJobMovesSchedule(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "invoice")

	if err := env.reg.Activate("invoice"); err != nil {
		t.Fatalf("error activating job: %v", err)
	}
	if !env.reg.scheduler.Scheduled("invoice") {
		t.Fatal("expected active job to be scheduled")
	}

	if err := env.reg.Rename("invoice", "billing"); err != nil {
		t.Fatalf("error renaming job: %v", err)
	}
	if env.reg.scheduler.Scheduled("invoice") {
		t.Error("expected old schedule cancelled")
	}
	if !env.reg.scheduler.Scheduled("billing") {
		t.Error("expected schedule re-established under the new name")
	}
	if count := env.reg.scheduler.Count(); count != 1 {
		t.Errorf("expected exactly one task after rename, got %d", count)
	}
}

func TestActivateDeactivate(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "invoice")

	if err := env.reg.Activate("invoice"); err != nil {
		t.Fatalf("error activating job: %v", err)
	}
	if err := env.reg.Activate("invoice"); err != nil {
		t.Fatalf("activating an active job must not fail: %v", err)
	}
	if count := env.reg.scheduler.Count(); count != 1 {
		t.Errorf("expected one task after double activate, got %d", count)
	}
	meta, _ := env.reg.Info("invoice")
	if !meta.Active {
		t.Error("expected active flag set")
	}

	if err := env.reg.Deactivate("invoice"); err != nil {
		t.Fatalf("error deactivating job: %v", err)
	}
	if err := env.reg.Deactivate("invoice"); err != nil {
		t.Fatalf("deactivating an inactive job must not fail: %v", err)
	}
	if env.reg.scheduler.Scheduled("invoice") {
		t.Error("expected schedule cancelled on deactivate")
	}
	meta, _ = env.reg.Info("invoice")
	if meta.Active {
		t.Error("expected active flag cleared")
	}

	// the persisted flag must match the in-memory one
	var persisted model.RunMetadata
	data, err := os.ReadFile(filepath.Join(env.dir, "invoice", metaFileName))
	if err != nil {
		t.Fatalf("error reading persisted metadata: %v", err)
	}
	if err = json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("error unmarshaling persisted metadata: %v", err)
	}
	if persisted.Active {
		t.Error("expected persisted active flag cleared")
	}
}

func TestExecuteNowUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	if err := env.reg.ExecuteNow("ghost"); !errors.Is(err, model.ErrorNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestConcurrentExecuteNowCountsEveryRun(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, "invoice")

	const runs = 20
	for i := 0; i < runs; i++ {
		if err := env.reg.ExecuteNow("invoice"); err != nil {
			t.Fatalf("error executing job: %v", err)
		}
	}
	waitForCount(t, env, "invoice", runs)
	if got := atomic.LoadInt64(&env.exec.calls); got != runs {
		t.Errorf("expected %d executor calls, got %d", runs, got)
	}
}

func TestFailedRunStillIncrementsCounter(t *testing.T) {
	env := newTestEnv(t)
	env.exec.outcome = executor.Outcome{
		Status: executor.StatusRunnerError,
		Err:    errors.New("navigation blew up"),
	}
	mustAdd(t, env, "invoice")

	if err := env.reg.ExecuteNow("invoice"); err != nil {
		t.Fatalf("error executing job: %v", err)
	}
	waitForCount(t, env, "invoice", 1)

	meta, _ := env.reg.Info("invoice")
	if meta.LastRunAt == "" {
		t.Error("expected last run timestamp recorded for a failed run")
	}
}

func TestLoadAll(t *testing.T) {
	env := newTestEnv(t)

	// scheduled: full job directory with metadata marking it active
	encPath, keyPath := writeSources(t, "active-job")
	activeDir := filepath.Join(env.dir, "active-job")
	if err := os.MkdirAll(activeDir, 0o755); err != nil {
		t.Fatalf("error creating job directory: %v", err)
	}
	if err := copyFile(encPath, filepath.Join(activeDir, encFileName)); err != nil {
		t.Fatalf("error copying encrypted file: %v", err)
	}
	if err := copyFile(keyPath, filepath.Join(activeDir, keyFileName)); err != nil {
		t.Fatalf("error copying key file: %v", err)
	}
	if err := saveMetadata(activeDir, model.RunMetadata{Active: true, ExecutionCount: 7}); err != nil {
		t.Fatalf("error writing metadata: %v", err)
	}

	// loaded with defaults: malformed metadata file
	encPath, keyPath = writeSources(t, "broken-meta")
	brokenDir := filepath.Join(env.dir, "broken-meta")
	if err := os.MkdirAll(brokenDir, 0o755); err != nil {
		t.Fatalf("error creating job directory: %v", err)
	}
	if err := copyFile(encPath, filepath.Join(brokenDir, encFileName)); err != nil {
		t.Fatalf("error copying encrypted file: %v", err)
	}
	if err := copyFile(keyPath, filepath.Join(brokenDir, keyFileName)); err != nil {
		t.Fatalf("error copying key file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(brokenDir, metaFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("error writing malformed metadata: %v", err)
	}

	// skipped: directory without a key file
	incompleteDir := filepath.Join(env.dir, "incomplete")
	if err := os.MkdirAll(incompleteDir, 0o755); err != nil {
		t.Fatalf("error creating job directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(incompleteDir, encFileName), []byte("blob"), 0o600); err != nil {
		t.Fatalf("error writing encrypted file: %v", err)
	}

	env.reg.LoadAll()

	jobs := env.reg.List()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs loaded, got %d: %+v", len(jobs), jobs)
	}

	meta, err := env.reg.Info("active-job")
	if err != nil {
		t.Fatalf("error reading info: %v", err)
	}
	if !meta.Active || meta.ExecutionCount != 7 {
		t.Errorf("expected persisted metadata honored, got %+v", meta)
	}
	if !env.reg.scheduler.Scheduled("active-job") {
		t.Error("expected active job scheduled on load")
	}

	meta, err = env.reg.Info("broken-meta")
	if err != nil {
		t.Fatalf("error reading info: %v", err)
	}
	if !meta.Active || meta.ExecutionCount != 0 {
		t.Errorf("expected defaults for malformed metadata, got %+v", meta)
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"  invoice  ":      "invoice",
		"monthly report":   "monthly_report",
		"a b c":            "a_b_c",
		"already_fine":     "already_fine",
		"   ":              "",
		"trailing inner  ": "trailing_inner",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
