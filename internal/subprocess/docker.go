package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/antigravity-dev/sfbench/internal/errkind"
)

func mountBind(source, target string) mount.Mount {
	return mount.Mount{Type: mount.TypeBind, Source: source, Target: target}
}

// ContainerRunner runs a Command inside an ephemeral container instead of as
// a host subprocess, for installations that want filesystem/network
// isolation per task (config.Dispatch.Containerized).
// It implements the same Run signature as Gateway so the org provider and
// validator can stay agnostic to which strategy executes their commands.
type ContainerRunner struct {
	cli   *client.Client
	image string
}

// NewContainerRunner connects to the local Docker daemon using the standard
// environment-based configuration.
func NewContainerRunner(image string) (*ContainerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("subprocess: failed to initialize docker client: %w", err)
	}
	if image == "" {
		image = "sfbench-task:latest"
	}
	return &ContainerRunner{cli: cli, image: image}, nil
}

// Run creates, starts, waits on, and removes a container executing cmd,
// returning the same Result/error shape as Gateway.Run so callers can swap
// execution strategies without changing their call sites.
func (c *ContainerRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	containerCfg := &container.Config{
		Image:      c.image,
		Cmd:        cmd.Argv,
		WorkingDir: "/workspace",
		Tty:        false,
	}
	hostCfg := &container.HostConfig{AutoRemove: false}
	if cmd.Dir != "" {
		hostCfg.Mounts = append(hostCfg.Mounts, mountBind(cmd.Dir, "/workspace"))
	}

	start := time.Now()
	resp, err := c.cli.ContainerCreate(runCtx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("subprocess: container create: %w", err)
	}
	defer c.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := c.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("subprocess: container start: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if runCtx.Err() != nil {
			return Result{Duration: time.Since(start)}, timeoutErrFor(cmd)
		}
		if err != nil {
			return Result{}, fmt.Errorf("subprocess: container wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := c.cli.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Result{ExitCode: exitCode, Duration: time.Since(start)}, nil
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, logs)

	result := Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	if cmd.WantJSON {
		result.JSONSucceeded = jsonIndicatesSuccess(result.Stdout)
	}
	if result.Succeeded() {
		return result, nil
	}
	return result, classifyFailure(cmd, result)
}

func timeoutErrFor(cmd Command) error {
	return &errkind.TimeoutError{Command: strings.Join(cmd.Argv, " "), Timeout: cmd.Timeout.String()}
}
