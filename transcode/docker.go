package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/nevindra/clonechat"
)

// DockerRunner runs ffmpeg/ffprobe inside a container, for hosts where the
// binaries are only distributed as an image rather than installed locally.
// It bind-mounts the host workspace directory into the container and
// otherwise exposes the same Runner surface as ExecRunner.
type DockerRunner struct {
	cli           *client.Client
	image         string
	workspaceHost string
}

// NewDockerRunner connects to the local Docker daemon via the standard
// DOCKER_HOST / TLS environment, matching the client construction the
// sandboxed runner used for untrusted code execution.
func NewDockerRunner(image, workspaceHost string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &clonechat.ErrExternalTool{Tool: "docker", Err: err}
	}
	return &DockerRunner{cli: cli, image: image, workspaceHost: workspaceHost}, nil
}

func (r *DockerRunner) runContainer(ctx context.Context, cmd []string) error {
	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image: r.image,
		Cmd:   cmd,
		// ffmpeg never listens; an empty set documents that no port
		// binding is expected, rather than omitting the field.
		ExposedPorts: nat.PortSet{},
	}, &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: r.workspaceHost,
			Target: "/workspace",
		}},
	}, nil, nil, "")
	if err != nil {
		return &clonechat.ErrExternalTool{Tool: r.image, Err: err}
	}
	defer r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return &clonechat.ErrExternalTool{Tool: r.image, Err: err}
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return &clonechat.ErrInterrupted{}
		}
		return &clonechat.ErrExternalTool{Tool: r.image, Err: err}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return &clonechat.ErrExternalTool{Tool: r.image, Err: fmt.Errorf("exit code %d", status.StatusCode)}
		}
	}
	return nil
}

// containerPath maps a host path under workspaceHost to its in-container
// mount point. Paths outside the mounted workspace pass through unchanged.
func (r *DockerRunner) containerPath(hostPath string) string {
	rel, err := filepath.Rel(r.workspaceHost, hostPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return hostPath
	}
	return filepath.Join("/workspace", rel)
}

func (r *DockerRunner) Probe(ctx context.Context, path string) (Probe, error) {
	// Probing requires capturing stdout, which this backend does not
	// collect; Probe always returns ErrUnsupported and does not fall back
	// to ExecRunner.
	return Probe{}, &clonechat.ErrUnsupported{Kind: "docker-probe"}
}

func (r *DockerRunner) ExtractAudio(ctx context.Context, srcPath, dstPath string) error {
	tmp := dstPath + ".tmp"
	err := r.runContainer(ctx, []string{
		"ffmpeg", "-y", "-i", r.containerPath(srcPath),
		"-vn", "-acodec", "libmp3lame", "-q:a", "2",
		r.containerPath(tmp),
	})
	if err != nil {
		return err
	}
	return renameInto(tmp, dstPath)
}

func (r *DockerRunner) Reencode(ctx context.Context, srcPath, dstPath string, plan ReencodePlan) error {
	tmp := dstPath + ".tmp"
	args := []string{"ffmpeg", "-y", "-i", r.containerPath(srcPath)}
	if plan.Width > 0 && plan.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", plan.Width, plan.Height))
	}
	args = append(args, "-c:v", "libx264", "-c:a", "aac", r.containerPath(tmp))

	if err := r.runContainer(ctx, args); err != nil {
		return err
	}
	return renameInto(tmp, dstPath)
}

func (r *DockerRunner) Concat(ctx context.Context, srcPaths []string, dstPath string, activateTransition bool) error {
	listPath := dstPath + ".concat.txt"
	f, err := os.Create(listPath)
	if err != nil {
		return &clonechat.ErrExternalTool{Tool: r.image, Err: err}
	}
	for _, p := range srcPaths {
		fmt.Fprintf(f, "file '%s'\n", r.containerPath(p))
	}
	f.Close()

	tmp := dstPath + ".tmp"
	args := []string{"ffmpeg", "-y", "-f", "concat", "-safe", "0", "-i", r.containerPath(listPath)}
	if activateTransition {
		args = append(args, "-c:v", "libx264", "-c:a", "aac")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, r.containerPath(tmp))

	if err := r.runContainer(ctx, args); err != nil {
		return err
	}
	return renameInto(tmp, dstPath)
}

var _ Runner = (*DockerRunner)(nil)
