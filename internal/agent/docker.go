package agent

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const containerCleanupTimeout = 30 * time.Second

// DockerLauncher runs each runtime process in a throwaway container with
// stdin, stdout and stderr attached.
type DockerLauncher struct {
	client   *client.Client
	image    string
	nanoCPUs int64
	memory   int64
}

func NewDockerLauncher(opts DockerOptions) (*DockerLauncher, error) {
	memory, err := memoryBytes(opts.MemLimit)
	if err != nil {
		return nil, fmt.Errorf("agent.NewDockerLauncher: %w", err)
	}

	cpus, err := nanoCPUs(opts.CPULimit)
	if err != nil {
		return nil, fmt.Errorf("agent.NewDockerLauncher: %w", err)
	}

	clientOpts := []client.Opt{client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}

	c, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("agent.NewDockerLauncher: %w", err)
	}

	return &DockerLauncher{
		client:   c,
		image:    opts.Image,
		nanoCPUs: cpus,
		memory:   memory,
	}, nil
}

// Launch creates, attaches and starts a container running spec.Args. The
// container is force-removed when the returned process is waited on.
func (d *DockerLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if len(spec.Args) == 0 || spec.Args[0] == "" {
		return nil, fmt.Errorf("agent.DockerLauncher.Launch: %w", ErrEmptyCommand)
	}

	cfg := &container.Config{
		Image:        d.image,
		Env:          spec.Env,
		Cmd:          spec.Args,
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   d.memory,
			NanoCPUs: d.nanoCPUs,
		},
		// The CLI must reach the model API and the MCP endpoint.
		NetworkMode: "bridge",
	}

	name := "agentchat-" + uuid.NewString()

	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return nil, fmt.Errorf("agent.DockerLauncher.Launch: create: %w", err)
	}

	attach, err := d.client.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		d.remove(resp.ID)
		return nil, fmt.Errorf("agent.DockerLauncher.Launch: attach: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		d.remove(resp.ID)
		return nil, fmt.Errorf("agent.DockerLauncher.Launch: start: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderr := newLineWriter(spec.Stderr)
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, copyErr := stdcopy.StdCopy(stdoutW, stderr, attach.Reader)
		stderr.Flush()
		stdoutW.CloseWithError(copyErr)
	}()

	log.Debug().Str("container_id", resp.ID).Str("name", name).Msg("agent.DockerLauncher.Launch: container started")

	proc := &containerProcess{
		launcher:    d,
		containerID: resp.ID,
		attach:      attach,
		stdout:      stdoutR,
		copied:      copied,
	}
	proc.stdin = &attachStdin{attach: &proc.attach}

	return proc, nil
}

func (d *DockerLauncher) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), containerCleanupTimeout)
	defer cancel()

	err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		log.Error().Err(err).Str("container_id", containerID).Msg("agent.DockerLauncher: failed to remove container")
	}
}

// Close closes the Docker client.
func (d *DockerLauncher) Close() error {
	err := d.client.Close()
	if err != nil {
		return fmt.Errorf("agent.DockerLauncher.Close: %w", err)
	}
	return nil
}

type containerProcess struct {
	launcher    *DockerLauncher
	containerID string
	attach      types.HijackedResponse
	stdin       io.WriteCloser
	stdout      io.Reader
	copied      chan struct{}
}

func (p *containerProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *containerProcess) Stdout() io.Reader     { return p.stdout }

func (p *containerProcess) Wait() error {
	defer p.launcher.remove(p.containerID)

	ctx, cancel := context.WithTimeout(context.Background(), containerCleanupTimeout)
	defer cancel()

	waitCh, errCh := p.launcher.client.ContainerWait(ctx, p.containerID, container.WaitConditionNotRunning)

	var err error
	select {
	case result := <-waitCh:
		switch {
		case result.Error != nil:
			err = fmt.Errorf("agent.containerProcess.Wait: %s", result.Error.Message)
		case result.StatusCode != 0:
			err = fmt.Errorf("agent.containerProcess.Wait: exit status %d", result.StatusCode)
		}
	case waitErr := <-errCh:
		err = fmt.Errorf("agent.containerProcess.Wait: %w", waitErr)
	}

	p.attach.Close()
	<-p.copied
	return err
}

func (p *containerProcess) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), containerCleanupTimeout)
	defer cancel()

	err := p.launcher.client.ContainerKill(ctx, p.containerID, "KILL")
	if err != nil && !alreadyStopped(err) {
		return fmt.Errorf("agent.containerProcess.Kill: %w", err)
	}
	return nil
}

// alreadyStopped reports whether a kill failed only because the
// container had already stopped or been removed.
func alreadyStopped(err error) bool {
	return errdefs.IsNotFound(err) || errdefs.IsConflict(err)
}

// attachStdin half-closes the hijacked connection on Close so the CLI sees
// EOF on stdin while stdout keeps streaming.
type attachStdin struct {
	attach *types.HijackedResponse
	mu     sync.Mutex
	closed bool
}

func (s *attachStdin) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.attach.Conn.Write(p) //nolint:wrapcheck // io.Writer contract
}

func (s *attachStdin) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.attach.CloseWrite(); err != nil {
		return fmt.Errorf("agent.attachStdin.Close: %w", err)
	}
	return nil
}
