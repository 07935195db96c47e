package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/internal/config"
	"github.com/nevindra/clonechat/platform/memtest"
	"github.com/nevindra/clonechat/transcode"
)

// countingRunner wraps fakeRunner to record which external-tool operations
// actually ran, for asserting that latched stages are skipped on resume.
type countingRunner struct {
	fakeRunner
	reencodes int
	concats   int
}

func (r *countingRunner) Reencode(ctx context.Context, srcPath, dstPath string, plan transcode.ReencodePlan) error {
	r.reencodes++
	return r.fakeRunner.Reencode(ctx, srcPath, dstPath, plan)
}

func (r *countingRunner) Concat(ctx context.Context, srcPaths []string, dstPath string, activateTransition bool) error {
	r.concats++
	return r.fakeRunner.Concat(ctx, srcPaths, dstPath, activateTransition)
}

func seedSourceFolder(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	for _, name := range []string{"a.mp4", "b.mp4"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte("video"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(src, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	return src
}

func newPublishTask(src string) clonechat.PublishTask {
	now := clonechat.NowUnix()
	return clonechat.PublishTask{
		SourceFolderPath: src,
		ProjectName:      filepath.Base(src),
		CurrentStep:      clonechat.StepInit,
		Status:           clonechat.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestPipelineRunsAllStagesToDone(t *testing.T) {
	src := seedSourceFolder(t)
	store := newTestPublishStore(t)
	fake := memtest.New()
	runner := &countingRunner{}

	cfg := config.Default()
	cfg.ReencodePlan = "group"

	task := newPublishTask(src)
	if err := store.UpsertPublishTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	base := t.TempDir()
	p := New(store, fake, runner, cfg, WithWorkspaceBase(base))

	got, err := p.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.CurrentStep != clonechat.StepDone {
		t.Errorf("CurrentStep = %v, want done", got.CurrentStep)
	}
	if got.Status != clonechat.StatusCompleted {
		t.Errorf("Status = %v, want completed", got.Status)
	}
	for i, latch := range got.Latches() {
		if !latch {
			t.Errorf("latch %d unset after a full run", i)
		}
	}

	w := workspace{sourceRoot: src, root: filepath.Join(base, got.ProjectName)}
	if _, err := os.Stat(w.report()); err != nil {
		t.Errorf("missing report artefact: %v", err)
	}
	if _, err := os.Stat(w.summary()); err != nil {
		t.Errorf("missing summary artefact: %v", err)
	}
	if got.DestinationChatID == 0 {
		t.Error("expected a destination channel")
	}
	if len(fake.Sent) == 0 {
		t.Error("expected uploads to reach the platform")
	}
	// Two small videos under the group plan are joined into one output.
	if runner.concats != 1 {
		t.Errorf("concats = %d, want 1", runner.concats)
	}

	// Persisted state round-trips.
	stored, found, err := store.GetPublishTask(context.Background(), src)
	if err != nil || !found {
		t.Fatalf("GetPublishTask: found=%v err=%v", found, err)
	}
	if stored.CurrentStep != clonechat.StepDone {
		t.Errorf("stored CurrentStep = %v, want done", stored.CurrentStep)
	}
}

func TestPipelineResumeSkipsLatchedStages(t *testing.T) {
	src := seedSourceFolder(t)
	store := newTestPublishStore(t)
	fake := memtest.New()

	cfg := config.Default()
	cfg.ReencodePlan = "group"

	base := t.TempDir()
	task := newPublishTask(src)
	if err := store.UpsertPublishTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	run1 := &countingRunner{}
	p1 := New(store, fake, run1, cfg, WithWorkspaceBase(base))
	done, err := p1.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Simulate a crash after is_reencoded but before is_joined: roll the
	// task back to the reencode step and clear the joined/ directory.
	crashed := done
	crashed.CurrentStep = clonechat.StepReencode
	crashed.Status = clonechat.StatusFailed
	crashed.IsJoined = false
	crashed.IsTimestamped = false
	crashed.IsUploadAuth = false
	crashed.IsPublished = false
	crashed.LastUploadedFile = ""
	if err := store.UpsertPublishTask(context.Background(), crashed); err != nil {
		t.Fatal(err)
	}
	w := workspace{sourceRoot: src, root: filepath.Join(base, crashed.ProjectName)}
	if err := os.RemoveAll(w.joined()); err != nil {
		t.Fatal(err)
	}

	run2 := &countingRunner{}
	p2 := New(store, fake, run2, cfg, WithWorkspaceBase(base))
	resumed, err := p2.Run(context.Background(), crashed)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	if resumed.CurrentStep != clonechat.StepDone {
		t.Errorf("CurrentStep = %v, want done", resumed.CurrentStep)
	}
	// zip/report/reencode are latched and must not re-execute.
	if run2.reencodes != 0 {
		t.Errorf("reencodes on resume = %d, want 0", run2.reencodes)
	}
	// join re-executes against the cleaned joined/ directory.
	if run2.concats != 1 {
		t.Errorf("concats on resume = %d, want 1", run2.concats)
	}
	for i, latch := range resumed.Latches() {
		if !latch {
			t.Errorf("latch %d unset after resume", i)
		}
	}
}
