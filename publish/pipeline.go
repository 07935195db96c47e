// Package publish implements the Publish Pipeline: a ten-state machine
// (init -> zip -> report -> reencode_auth -> reencode -> join -> timestamp
// -> upload_auth -> upload -> done) that turns a local folder tree into a
// structured destination channel. Each stage is idempotent given the
// on-disk workspace state; the driver advances PublishTask.CurrentStep and
// its corresponding latch only after the stage's artefacts exist on disk
// AND the store commit for that latch succeeds, so the latch vector only
// ever grows.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/internal/config"
	"github.com/nevindra/clonechat/transcode"
)

// AuthConfirmer gates the two human-authorisation stages (reencode_auth,
// upload_auth). The CLI's --yes flag and an interactive prompt are both
// implementations; tests use a function that always returns true.
type AuthConfirmer func(ctx context.Context, prompt string) (bool, error)

// Pipeline drives one PublishTask to completion. It holds no task-specific
// state between Run calls: every stage method reads whatever it needs from
// the workspace and the store.
type Pipeline struct {
	store         clonechat.PublishStore
	platform      clonechat.Platform
	transcode     transcode.Runner
	cfg           config.Config
	logger        *slog.Logger
	confirm       AuthConfirmer
	workspaceBase string
	stageDuration metric.Float64Histogram
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithAuthConfirmer(fn AuthConfirmer) Option {
	return func(p *Pipeline) { p.confirm = fn }
}

// WithWorkspaceBase overrides the directory stage artefacts are written
// under; the default is data/project_workspace/.
func WithWorkspaceBase(dir string) Option {
	return func(p *Pipeline) { p.workspaceBase = dir }
}

// WithStageDuration wires a histogram recording each stage's wall-clock
// seconds, attributed by stage name.
func WithStageDuration(h metric.Float64Histogram) Option {
	return func(p *Pipeline) { p.stageDuration = h }
}

// New builds a Pipeline. confirm defaults to an always-approve stub, which
// callers should override for any non-interactive deployment that wants an
// actual authorisation gate.
func New(store clonechat.PublishStore, platform clonechat.Platform, runner transcode.Runner, cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         store,
		platform:      platform,
		transcode:     runner,
		cfg:           cfg,
		logger:        discardLogger,
		confirm:       func(context.Context, string) (bool, error) { return true, nil },
		workspaceBase: filepath.Join("data", "project_workspace"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// stageOrder fixes the state machine's step sequence.
var stageOrder = []clonechat.PublishStep{
	clonechat.StepInit,
	clonechat.StepZip,
	clonechat.StepReport,
	clonechat.StepReencodeAuth,
	clonechat.StepReencode,
	clonechat.StepJoin,
	clonechat.StepTimestamp,
	clonechat.StepUploadAuth,
	clonechat.StepUpload,
	clonechat.StepDone,
}

// Run drives task from its CurrentStep to done, or until ctx is cancelled
// or a stage returns an error. The task's SourceFolderPath is read-only
// input; stage artefacts land under <workspaceBase>/<project>. Restart is
// the caller's responsibility: delete the task row before calling Run to
// force every stage to re-execute.
func (p *Pipeline) Run(ctx context.Context, task clonechat.PublishTask) (clonechat.PublishTask, error) {
	if clonechat.RunLockHeld(task.Status, task.UpdatedAt) {
		return task, &clonechat.ErrPermanent{Op: "publish", Err: fmt.Errorf("source_folder_path %q already running", task.SourceFolderPath)}
	}
	task.Status = clonechat.StatusRunning
	task.IsStarted = true
	task.UpdatedAt = clonechat.NowUnix()
	if err := p.store.UpsertPublishTask(ctx, task); err != nil {
		return task, err
	}

	w := workspace{
		sourceRoot: task.SourceFolderPath,
		root:       filepath.Join(p.workspaceBase, task.ProjectName),
	}

	idx := stepIndex(task.CurrentStep)
	for idx < len(stageOrder)-1 {
		if err := ctx.Err(); err != nil {
			task.Status = clonechat.StatusFailed
			_ = p.store.UpsertPublishTask(ctx, task)
			return task, &clonechat.ErrInterrupted{}
		}

		next := stageOrder[idx+1]
		start := time.Now()
		var err error
		task, err = p.runStage(ctx, task, next, w)
		if p.stageDuration != nil {
			p.stageDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("stage", string(next))))
		}
		if err != nil {
			task.Status = clonechat.StatusFailed
			_ = p.store.UpsertPublishTask(ctx, task)
			return task, err
		}
		idx = stepIndex(task.CurrentStep)
	}

	task.Status = clonechat.StatusCompleted
	if err := p.store.UpsertPublishTask(ctx, task); err != nil {
		return task, err
	}
	return task, nil
}

func (p *Pipeline) runStage(ctx context.Context, task clonechat.PublishTask, stage clonechat.PublishStep, w workspace) (clonechat.PublishTask, error) {
	switch stage {
	case clonechat.StepZip:
		if task.IsZipped {
			return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsZipped = true })
		}
		if err := runZip(ctx, w, p.cfg); err != nil {
			return task, err
		}
		return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsZipped = true })

	case clonechat.StepReport:
		if task.IsReported {
			return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsReported = true })
		}
		if err := runReport(ctx, w, p.cfg, p.transcode); err != nil {
			return task, err
		}
		return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsReported = true })

	case clonechat.StepReencodeAuth:
		if task.IsReencodeAuth {
			return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsReencodeAuth = true })
		}
		ok, err := p.confirm(ctx, fmt.Sprintf("reencode plan ready for %s, proceed?", task.ProjectName))
		if err != nil {
			return task, err
		}
		if !ok {
			return task, &clonechat.ErrPermanent{Op: "reencode_auth", Err: fmt.Errorf("authorisation declined")}
		}
		return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsReencodeAuth = true })

	case clonechat.StepReencode:
		if task.IsReencoded {
			return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsReencoded = true })
		}
		if err := runReencode(ctx, w, p.cfg, p.transcode); err != nil {
			return task, err
		}
		return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsReencoded = true })

	case clonechat.StepJoin:
		if task.IsJoined {
			return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsJoined = true })
		}
		if err := runJoin(ctx, w, p.cfg, p.transcode); err != nil {
			return task, err
		}
		return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsJoined = true })

	case clonechat.StepTimestamp:
		if task.IsTimestamped {
			return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsTimestamped = true })
		}
		if err := runTimestamp(ctx, w, p.cfg, task); err != nil {
			return task, err
		}
		return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsTimestamped = true })

	case clonechat.StepUploadAuth:
		if task.IsUploadAuth {
			return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsUploadAuth = true })
		}
		ok, err := p.confirm(ctx, fmt.Sprintf("upload plan ready for %s, proceed?", task.ProjectName))
		if err != nil {
			return task, err
		}
		if !ok {
			return task, &clonechat.ErrPermanent{Op: "upload_auth", Err: fmt.Errorf("authorisation declined")}
		}
		return p.commitStage(ctx, task, stage, func(t *clonechat.PublishTask) { t.IsUploadAuth = true })

	case clonechat.StepUpload:
		updated, err := runUpload(ctx, p.logger, p.platform, p.store, w, p.cfg, task)
		if err != nil {
			return task, err
		}
		task = updated
		task.IsPublished = true
		task.CurrentStep = clonechat.StepUpload
		if err := p.store.AdvancePublishStage(ctx, task.SourceFolderPath, task); err != nil {
			return task, err
		}
		task.CurrentStep = clonechat.StepDone
		if err := p.store.AdvancePublishStage(ctx, task.SourceFolderPath, task); err != nil {
			return task, err
		}
		if p.cfg.AutodelVideoTemp {
			cleanupIntermediateVideos(p.logger, w)
		}
		return task, nil
	}

	return task, fmt.Errorf("publish: unknown stage %q", stage)
}

// commitStage sets the latch and CurrentStep together and persists them
// transactionally via the store's Advance call, keeping the latch vector
// non-decreasing under any crash interleaving: the artefact write (done by
// the caller before commitStage runs) happens strictly before this commit.
func (p *Pipeline) commitStage(ctx context.Context, task clonechat.PublishTask, stage clonechat.PublishStep, setLatch func(*clonechat.PublishTask)) (clonechat.PublishTask, error) {
	setLatch(&task)
	task.CurrentStep = stage
	task.UpdatedAt = clonechat.NowUnix()
	if err := p.store.AdvancePublishStage(ctx, task.SourceFolderPath, task); err != nil {
		return task, err
	}
	return task, nil
}

func stepIndex(step clonechat.PublishStep) int {
	for i, s := range stageOrder {
		if s == step {
			return i
		}
	}
	return 0
}

var discardLogger = slog.New(slog.NewTextHandler(discardWriter{}, nil))

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
