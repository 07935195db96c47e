// Command clonechat wires the task store, retry adapter, identifier
// resolver, message processor, clone/download engines, and publish
// pipeline into the CLI surface. This is deliberately the thinnest layer
// that can invoke the engines.
//
// The platform transport library is external: this module depends only on
// the clonechat.Platform interface, never a concrete wire implementation.
// Build a real deployment by setting newPlatform to a constructor for a
// real session-based client before compiling a release binary; as shipped
// here, platform-dependent subcommands fail fast with a clear,
// exit-code-1 "missing credential" error rather than pretending to talk
// to a server that was never wired.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/internal/config"
	"github.com/nevindra/clonechat/observability"
	"github.com/nevindra/clonechat/publish"
	"github.com/nevindra/clonechat/store/sqlite"
	"github.com/nevindra/clonechat/transcode"
)

// newPlatform constructs the session-based platform client. It is a var,
// not a call, so a real deployment can replace it (e.g. via a sibling
// build that imports a concrete transport package) without touching
// dispatch below.
var newPlatform = func(cfg config.Config) (clonechat.Platform, error) {
	return nil, errors.New("no platform transport configured: TELEGRAM_API_ID/HASH alone cannot open a session without a concrete client wired into newPlatform")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: clonechat <sync|download|publish|list-chats|list-topics|test-resolve|init-database|version> [flags]")
		return 1
	}

	cmd, rest := args[0], args[1:]

	if cmd == "version" {
		fmt.Println("clonechat (dev)")
		return 0
	}

	cfg, err := config.Load(os.Getenv("CLONECHAT_CONFIG"))
	if err != nil {
		logger.Error("config load failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	obs, err := observability.New(ctx, "clonechat", observability.Config{
		Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure: true,
	})
	if err != nil {
		logger.Error("observability init failed", "err", err)
		return 1
	}
	defer obs.Shutdown(context.Background())

	dbPath := filepath.Join("data", "clonechat.db")
	st := sqlite.New(dbPath, sqlite.WithLogger(logger))
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("schema migration failed", "err", err)
		return 1
	}

	if cmd == "init-database" {
		return 0
	}

	switch cmd {
	case "sync":
		return runSync(ctx, logger, cfg, st, obs, rest)
	case "download":
		return runDownload(ctx, logger, cfg, st, obs, rest)
	case "publish":
		return runPublish(ctx, logger, cfg, st, obs, rest)
	case "list-chats":
		return runListChats(ctx, logger, cfg)
	case "list-topics":
		return runListTopics(ctx, logger, cfg, rest)
	case "test-resolve":
		return runTestResolve(ctx, logger, cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return 1
	}
}

func runSync(ctx context.Context, logger *slog.Logger, cfg config.Config, st *sqlite.Store, obs *observability.Provider, args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	origin := fs.String("origin", "", "source chat identifier")
	dest := fs.Int64("dest", 0, "destination chat id (0 = create new)")
	forceDownload := fs.Bool("force-download", false, "force download_upload strategy")
	extractAudio := fs.Bool("extract-audio", false, "extract MP3 sidecar for video messages")
	restart := fs.Bool("restart", false, "reset task and replay from the beginning")
	leaveOrigin := fs.Bool("leave-origin", false, "leave the origin chat after a successful clone")
	publishTo := fs.Int64("publish-to", 0, "chat id to post the clone's deep link to")
	topic := fs.Int64("topic", 0, "forum topic id in the publish-to chat")
	batch := fs.Bool("batch", false, "batch mode: run one task per identifier in --source")
	sourceFile := fs.String("source", "", "path to a newline-delimited file of identifiers (batch mode)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	p, err := newPlatform(cfg)
	if err != nil {
		logger.Error("sync: platform unavailable", "err", err)
		return 1
	}

	engine := clonechat.NewEngine(p, st,
		clonechat.WithLogger(logger),
		clonechat.WithDelay(time.Duration(cfg.ClonerDelaySeconds)*time.Second),
		clonechat.WithScratchRoot(cfg.ClonerDownloadPath),
		clonechat.WithExtractAudio(*extractAudio),
		clonechat.WithForceDownload(*forceDownload),
		clonechat.WithRestart(*restart),
		clonechat.WithLeaveOrigin(*leaveOrigin),
		clonechat.WithPublishTo(*publishTo),
		clonechat.WithPublishTopic(*topic),
		clonechat.WithRegisterInviteLink(cfg.RegisterInviteLink),
		clonechat.WithTranscoder(transcode.NewExecRunner(time.Duration(cfg.TimeLimitMinutes)*time.Minute)),
		clonechat.WithMaxPath(cfg.MaxPath),
		clonechat.WithDeliveryCounter(obs.Instruments.Deliveries),
	)

	if *batch || *sourceFile != "" {
		if *sourceFile == "" {
			fmt.Fprintln(os.Stderr, "sync: --batch requires --source <file>")
			return 1
		}
		ids, err := readLines(*sourceFile)
		if err != nil {
			logger.Error("sync: batch file read failed", "err", err)
			return 1
		}
		if err := engine.SyncBatch(ctx, ids); err != nil {
			return exitCodeFor(err, logger)
		}
		return 0
	}

	if *origin == "" {
		fmt.Fprintln(os.Stderr, "sync: --origin is required (or --source for batch mode)")
		return 1
	}
	resolved, err := clonechat.Resolve(ctx, p, *origin)
	if err != nil {
		logger.Error("sync: origin unresolvable", "err", err)
		return 1
	}
	if err := engine.Sync(ctx, resolved.ChatID, *dest); err != nil {
		return exitCodeFor(err, logger)
	}
	return 0
}

func runDownload(ctx context.Context, logger *slog.Logger, cfg config.Config, st *sqlite.Store, obs *observability.Provider, args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	origin := fs.String("origin", "", "source chat identifier")
	limit := fs.Int("limit", 0, "stop after N new videos (0 = unbounded)")
	output := fs.String("output", "data/downloads", "output directory root")
	restart := fs.Bool("restart", false, "reset task and replay from the beginning")
	deleteVideo := fs.Bool("delete-video", false, "remove source video once MP3 is written")
	messageID := fs.Int64("message-id", 0, "override starting checkpoint downward")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *origin == "" {
		fmt.Fprintln(os.Stderr, "download: --origin is required")
		return 1
	}

	p, err := newPlatform(cfg)
	if err != nil {
		logger.Error("download: platform unavailable", "err", err)
		return 1
	}

	resolved, err := clonechat.Resolve(ctx, p, *origin)
	if err != nil {
		logger.Error("download: origin unresolvable", "err", err)
		return 1
	}

	engine := clonechat.NewDownloadEngine(p, st,
		clonechat.WithDownloadLogger(logger),
		clonechat.WithOutputRoot(*output),
		clonechat.WithDeleteVideo(*deleteVideo),
		clonechat.WithDownloadLimit(*limit),
		clonechat.WithDownloadRestart(*restart),
		clonechat.WithDownloadTranscoder(transcode.NewExecRunner(time.Duration(cfg.TimeLimitMinutes)*time.Minute)),
		clonechat.WithDownloadMaxPath(cfg.MaxPath),
		clonechat.WithDownloadBytesCounter(obs.Instruments.BytesDownloaded),
	)
	if err := engine.Download(ctx, resolved.ChatID, *messageID); err != nil {
		return exitCodeFor(err, logger)
	}
	return 0
}

func runPublish(ctx context.Context, logger *slog.Logger, cfg config.Config, st *sqlite.Store, obs *observability.Provider, args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	folder := fs.String("folder", "", "source folder path")
	restart := fs.Bool("restart", false, "reset task and replay every stage")
	yes := fs.Bool("yes", false, "auto-approve the two authorisation gates")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *folder == "" {
		fmt.Fprintln(os.Stderr, "publish: --folder is required")
		return 1
	}

	p, err := newPlatform(cfg)
	if err != nil {
		logger.Error("publish: platform unavailable", "err", err)
		return 1
	}

	abs, err := filepath.Abs(*folder)
	if err != nil {
		logger.Error("publish: path resolution failed", "err", err)
		return 1
	}

	task, found, err := st.GetPublishTask(ctx, abs)
	if err != nil {
		logger.Error("publish: store lookup failed", "err", err)
		return 1
	}
	if found && *restart {
		if err := st.DeletePublishTask(ctx, abs); err != nil {
			logger.Error("publish: task reset failed", "err", err)
			return 1
		}
		found = false
	}
	if !found {
		now := clonechat.NowUnix()
		task = clonechat.PublishTask{
			SourceFolderPath: abs,
			ProjectName:      filepath.Base(abs),
			CurrentStep:      clonechat.StepInit,
			Status:           clonechat.StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := st.UpsertPublishTask(ctx, task); err != nil {
			logger.Error("publish: task init failed", "err", err)
			return 1
		}
	}

	runner := transcode.NewExecRunner(time.Duration(cfg.TimeLimitMinutes) * time.Minute)
	pipeline := publish.New(st, p, runner, cfg,
		publish.WithLogger(logger),
		publish.WithStageDuration(obs.Instruments.StageDuration),
		publish.WithAuthConfirmer(func(ctx context.Context, prompt string) (bool, error) {
			if *yes {
				return true, nil
			}
			return confirmInteractive(prompt)
		}),
	)

	if _, err := pipeline.Run(ctx, task); err != nil {
		return exitCodeFor(err, logger)
	}
	return 0
}

func runListChats(ctx context.Context, logger *slog.Logger, cfg config.Config) int {
	p, err := newPlatform(cfg)
	if err != nil {
		logger.Error("list-chats: platform unavailable", "err", err)
		return 1
	}
	chats, err := clonechat.Call(ctx, logger, "list_dialogs", func(ctx context.Context) ([]clonechat.Chat, error) {
		return p.ListDialogs(ctx)
	})
	if err != nil {
		return exitCodeFor(err, logger)
	}
	for _, c := range chats {
		fmt.Printf("%d\t%s\n", c.ID, c.Title)
	}
	return 0
}

func runListTopics(ctx context.Context, logger *slog.Logger, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("list-topics", flag.ContinueOnError)
	id := fs.Int64("id", 0, "group chat id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	p, err := newPlatform(cfg)
	if err != nil {
		logger.Error("list-topics: platform unavailable", "err", err)
		return 1
	}
	topics, err := clonechat.Call(ctx, logger, "list_forum_topics", func(ctx context.Context) ([]string, error) {
		return p.ListForumTopics(ctx, *id)
	})
	if err != nil {
		return exitCodeFor(err, logger)
	}
	for _, t := range topics {
		fmt.Println(t)
	}
	return 0
}

func runTestResolve(ctx context.Context, logger *slog.Logger, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("test-resolve", flag.ContinueOnError)
	id := fs.String("id", "", "identifier to resolve")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	p, err := newPlatform(cfg)
	if err != nil {
		logger.Error("test-resolve: platform unavailable", "err", err)
		return 1
	}
	resolved, err := clonechat.Resolve(ctx, p, *id)
	if err != nil {
		var unresolvable *clonechat.ErrUnresolvable
		if errors.As(err, &unresolvable) {
			fmt.Fprintf(os.Stderr, "unresolvable: %s\n", *id)
			return 1
		}
		return exitCodeFor(err, logger)
	}
	fmt.Printf("chat_id=%d message_id=%d\n", resolved.ChatID, resolved.MessageID)
	return 0
}

// exitCodeFor maps a returned engine error to the process exit code: 1
// for user errors, 2 when the external tool is missing or failed, 3 for
// interruption, 4 for permanent platform errors.
func exitCodeFor(err error, logger *slog.Logger) int {
	var interrupted *clonechat.ErrInterrupted
	if errors.As(err, &interrupted) {
		return 3
	}
	var permanent *clonechat.ErrPermanent
	if errors.As(err, &permanent) {
		logger.Error("permanent error", "err", err)
		return 4
	}
	var unresolvable *clonechat.ErrUnresolvable
	if errors.As(err, &unresolvable) {
		logger.Error("unresolvable identifier", "err", err)
		return 1
	}
	var extTool *clonechat.ErrExternalTool
	if errors.As(err, &extTool) {
		logger.Error("external tool error", "err", err)
		return 2
	}
	logger.Error("command failed", "err", err)
	return 4
}

// readLines reads a newline-delimited file of identifiers for --source
// batch mode, skipping blank lines.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// confirmInteractive prompts on stdin for the two authorisation gates
// (reencode_auth, upload_auth) when --yes is not passed.
func confirmInteractive(prompt string) (bool, error) {
	fmt.Printf("%s [y/N] ", prompt)
	var resp string
	if _, err := fmt.Scanln(&resp); err != nil && resp == "" {
		return false, nil
	}
	return resp == "y" || resp == "Y" || resp == "yes", nil
}
