package publish

import (
	"log/slog"
	"os"
	"path/filepath"
)

// workspace locates every stage's dedicated subtree. The user's source
// folder is read-only input; all stage artefacts live under
// project_workspace/<project>/.
type workspace struct {
	sourceRoot string // the folder tree being published, never written to
	root       string // project_workspace/<project>
}

func (w workspace) source() string    { return w.sourceRoot }
func (w workspace) zipped() string    { return filepath.Join(w.root, "zipped") }
func (w workspace) report() string    { return filepath.Join(w.root, "report", "report.csv") }
func (w workspace) reencoded() string { return filepath.Join(w.root, "reencoded") }
func (w workspace) joined() string    { return filepath.Join(w.root, "joined") }
func (w workspace) summary() string   { return filepath.Join(w.root, "summary", "summary.txt") }
func (w workspace) uploadPlan() string {
	return filepath.Join(w.root, "summary", "upload_plan.csv")
}

// cleanupIntermediateVideos removes the reencoded video tree once upload
// has completed, per AUTODEL_VIDEO_TEMP. The user's source folder, the
// joined/ directory (the files just uploaded), and the report and summary
// artefacts are left in place.
func cleanupIntermediateVideos(logger *slog.Logger, w workspace) {
	if err := os.RemoveAll(w.reencoded()); err != nil && logger != nil {
		logger.Warn("failed to remove intermediate video directory", "dir", w.reencoded(), "err", err)
	}
}
