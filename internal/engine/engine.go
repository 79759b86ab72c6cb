// Package engine runs a job's test cases inside an ephemeral,
// network-disabled Docker container and reports raw execution outputs. It
// never scores correctness; any error it returns (other than context
// cancellation) is by contract an infrastructure failure.
package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	adapterobs "github.com/optimus-run/optimus/internal/adapter/observability"
	"github.com/optimus-run/optimus/internal/domain"
	"github.com/optimus-run/optimus/internal/observability"
)

// breakerMaxFailures, breakerCooldown, and breakerSuccessThreshold tune
// the daemon-guarding circuit breaker: five consecutive daemon-level
// failures (image pull, container create/start/exec — never the job's
// own exit code) trip it open for 30s before a single trial call is let
// through.
const (
	breakerMaxFailures      = 5
	breakerCooldown         = 30 * time.Second
	breakerSuccessThreshold = 0.5

	// compileTimeout bounds the one compile step per job. The client
	// only controls the per-test deadline (job.TimeoutMS); compilation
	// is unbounded by the client, so the engine enforces a generous
	// fixed ceiling instead of letting a pathological source hang a
	// worker indefinitely.
	compileTimeout = 30 * time.Second

	// maxSourceBytes and maxStdinBytes are the engine's own defense in
	// depth caps, re-checked here even though the API admission layer
	// already enforces tighter limits.
	maxSourceBytes = 1 << 20  // 1 MiB
	maxStdinBytes  = 10 << 20 // 10 MiB
)

//go:generate mockery --name=dockerClient --with-expecter --filename=docker_client_mock.go

// dockerClient is the subset of *client.Client the engine depends on,
// narrowed to a local interface so tests can fake the daemon.
type dockerClient interface {
	ImageInspectWithRaw(ctx context.Context, image string) (dockertypes.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options dockerimage.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, config container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (dockertypes.HijackedResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config container.ExecStartOptions) error
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// Engine is the Docker-backed implementation of domain.ExecutionEngine.
type Engine struct {
	docker    dockerClient
	languages *domain.LanguageRegistry
	logger    *slog.Logger
	breaker   *observability.CircuitBreaker
}

// New connects to the local Docker daemon using environment-driven
// client options and API version negotiation.
func New(languages *domain.LanguageRegistry, logger *slog.Logger) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("engine.New: connect to docker daemon: %w", err)
	}
	return newEngine(cli, languages, logger), nil
}

func newEngine(cli dockerClient, languages *domain.LanguageRegistry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		docker:    cli,
		languages: languages,
		logger:    logger,
		breaker:   observability.NewCircuitBreaker(breakerMaxFailures, breakerCooldown, breakerSuccessThreshold),
	}
}

// Close releases the underlying Docker client connection.
func (e *Engine) Close() error {
	return e.docker.Close()
}

// Execute implements domain.ExecutionEngine using a compile-once-run-many
// strategy: one container is allocated per job, held open by
// an idle keep-alive command, the source is written once into its scratch
// path, compiled once, and then the language's run command is exec'd into
// that same container once per test case. If ctx is cancelled between test
// cases, the outputs gathered so far are returned alongside ctx.Err();
// callers must treat that distinctly from an infrastructure failure.
func (e *Engine) Execute(ctx context.Context, job domain.Job) ([]domain.TestExecutionOutput, error) {
	spec, ok := e.languages.Get(job.Language)
	if !ok {
		return nil, fmt.Errorf("engine.Execute: %w: language %q not registered", domain.ErrInternal, job.Language)
	}
	if len(job.SourceCode) > maxSourceBytes {
		return nil, fmt.Errorf("engine.Execute: %w: source code exceeds engine cap", domain.ErrInternal)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !e.breaker.CanExecute() {
		adapterobs.RecordCircuitBreakerStatus("docker", "execute", int(e.breaker.GetState()))
		return nil, fmt.Errorf("engine.Execute: %w: docker daemon circuit breaker open", domain.ErrInternal)
	}
	if err := e.ensureImage(ctx, spec.Image); err != nil {
		e.breaker.RecordFailure()
		adapterobs.RecordCircuitBreakerStatus("docker", "execute", int(e.breaker.GetState()))
		return nil, fmt.Errorf("engine.Execute: %w", err)
	}
	e.breaker.RecordSuccess()
	adapterobs.RecordCircuitBreakerStatus("docker", "execute", int(e.breaker.GetState()))

	containerID, err := e.acquireContainer(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("engine.Execute: %w", err)
	}
	defer e.removeContainer(containerID)

	if err := e.writeSource(ctx, containerID, spec, job.SourceCode); err != nil {
		e.breaker.RecordFailure()
		return nil, fmt.Errorf("engine.Execute: write source: %w", err)
	}
	e.breaker.RecordSuccess()

	if len(spec.CompileCommand) > 0 {
		_, stderr, exitCode, _, err := e.execInContainer(ctx, containerID, spec.CompileCommand, "", compileTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("engine.Execute: compile: %w", err)
		}
		if exitCode != 0 {
			return compilationFailureOutputs(job, stderr), nil
		}
	}

	outputs := make([]domain.TestExecutionOutput, 0, len(job.TestCases))
	for _, tc := range job.TestCases {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}
		if len(tc.Input) > maxStdinBytes {
			return nil, fmt.Errorf("engine.Execute: %w: test %d stdin exceeds engine cap", domain.ErrInternal, tc.ID)
		}

		out, err := e.runOne(ctx, containerID, spec, job, tc)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return outputs, err
			}
			return nil, fmt.Errorf("engine.Execute: test %d: %w", tc.ID, err)
		}
		outputs = append(outputs, out)
	}

	return outputs, nil
}

// compilationFailureOutputs builds one TestExecutionOutput per test case,
// all marked CompilationFailed, so the evaluator scores the whole job as
// failed without the engine exec'ing the run command at all.
func compilationFailureOutputs(job domain.Job, stderr string) []domain.TestExecutionOutput {
	outputs := make([]domain.TestExecutionOutput, len(job.TestCases))
	for i, tc := range job.TestCases {
		outputs[i] = domain.TestExecutionOutput{
			TestID:            tc.ID,
			Stderr:            stderr,
			CompilationFailed: true,
		}
	}
	return outputs
}

func (e *Engine) ensureImage(ctx context.Context, image string) error {
	if _, _, err := e.docker.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}

	rc, err := e.docker.ImagePull(ctx, image, dockerimage.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %q: %w", image, err)
	}
	return nil
}

// acquireContainer creates and starts one container for the whole job, held
// open by an idle keep-alive command so the compile step and every test
// case's exec share the same filesystem and process namespace.
func (e *Engine) acquireContainer(ctx context.Context, spec domain.LanguageSpec) (string, error) {
	name := "optimus-" + uuid.NewString()

	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             []string{"tail", "-f", "/dev/null"},
		WorkingDir:      "/scratch",
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   spec.MemoryLimitMB * 1024 * 1024,
			NanoCPUs: int64(spec.CPULimit * 1e9),
		},
	}

	created, err := e.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		e.breaker.RecordFailure()
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := e.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		e.breaker.RecordFailure()
		e.removeContainer(created.ID)
		return "", fmt.Errorf("start container: %w", err)
	}
	e.breaker.RecordSuccess()
	return created.ID, nil
}

// writeSource copies the job's source code into the container's scratch
// directory at the language's conventional filename, via a single-file tar
// stream (the same mechanism `docker cp` uses).
func (e *Engine) writeSource(ctx context.Context, containerID string, spec domain.LanguageSpec, source string) error {
	body := []byte(source)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: spec.ScratchFile(),
		Mode: 0o644,
		Size: int64(len(body)),
	}); err != nil {
		return fmt.Errorf("tar header: %w", err)
	}
	if _, err := tw.Write(body); err != nil {
		return fmt.Errorf("tar write: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}

	if err := e.docker.CopyToContainer(ctx, containerID, "/scratch", &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy source to container: %w", err)
	}
	return nil
}

// runOne execs the language's run command once, feeding tc.Input on stdin
// under a hard per-test wall-clock deadline, and classifies the outcome.
func (e *Engine) runOne(ctx context.Context, containerID string, spec domain.LanguageSpec, job domain.Job, tc domain.TestCase) (domain.TestExecutionOutput, error) {
	start := time.Now()
	stdout, stderr, exitCode, timedOut, err := e.execInContainer(ctx, containerID, spec.ExecuteCommand, tc.Input, time.Duration(job.TimeoutMS)*time.Millisecond)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return domain.TestExecutionOutput{}, err
	}

	return domain.TestExecutionOutput{
		TestID:          tc.ID,
		Stdout:          stdout,
		Stderr:          annotateExitCode(stderr, exitCode, timedOut),
		ExecutionTimeMS: elapsed,
		TimedOut:        timedOut,
		RuntimeError:    !timedOut && exitCode != 0,
	}, nil
}

// annotateExitCode appends a short diagnostic note to stderr for exit codes
// with a well-known meaning. It leaves stderr untouched on a clean exit or a timeout,
// where the exit code is not representative of the failure.
func annotateExitCode(stderr string, exitCode int, timedOut bool) string {
	if timedOut || exitCode == 0 {
		return stderr
	}
	var note string
	switch exitCode {
	case 137:
		note = "[engine] exit code 137: process killed, likely out of memory"
	case 139:
		note = "[engine] exit code 139: segmentation fault"
	default:
		return stderr
	}
	if stderr == "" {
		return note
	}
	return stderr + "\n" + note
}

// execInContainer runs cmd inside an already-running container, feeding
// stdin and collecting demultiplexed stdout/stderr until the process exits
// or deadline elapses. On deadline expiry it kills the in-container process
// (never the container itself, so later tests can reuse it) and returns the partial
// output captured so far with timedOut=true.
func (e *Engine) execInContainer(ctx context.Context, containerID string, cmd []string, stdin string, deadline time.Duration) (stdout, stderr string, exitCode int, timedOut bool, err error) {
	created, err := e.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		e.breaker.RecordFailure()
		return "", "", 0, false, fmt.Errorf("exec create: %w", err)
	}

	attached, err := e.docker.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		e.breaker.RecordFailure()
		return "", "", 0, false, fmt.Errorf("exec attach: %w", err)
	}
	defer attached.Close()
	e.breaker.RecordSuccess()

	if stdin != "" {
		_, _ = io.WriteString(attached.Conn, stdin)
	}
	if cw, ok := attached.Conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	type captured struct{ stdout, stderr string }
	done := make(chan captured, 1)
	go func() {
		var outBuf, errBuf bytes.Buffer
		_, _ = stdcopy.StdCopy(&outBuf, &errBuf, attached.Reader)
		done <- captured{outBuf.String(), errBuf.String()}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case c := <-done:
		stdout, stderr = c.stdout, c.stderr
	case <-ctx.Done():
		attached.Close()
		<-done
		return "", "", 0, false, ctx.Err()
	case <-timer.C:
		timedOut = true
		e.killExecProcess(context.Background(), containerID, created.ID)
		attached.Close()
		c := <-done
		stdout, stderr = c.stdout, c.stderr
	}

	if timedOut {
		return stdout, stderr, 0, true, nil
	}

	inspect, inspectErr := e.docker.ContainerExecInspect(ctx, created.ID)
	if inspectErr != nil {
		return stdout, stderr, 0, false, fmt.Errorf("exec inspect: %w", inspectErr)
	}
	return stdout, stderr, inspect.ExitCode, false, nil
}

// killExecProcess kills only the process started by execID inside
// containerID, by resolving its PID via exec-inspect and issuing a second,
// detached `kill -9` exec — the container itself is left running so
// subsequent test cases can still use it.
func (e *Engine) killExecProcess(ctx context.Context, containerID, execID string) {
	inspect, err := e.docker.ContainerExecInspect(ctx, execID)
	if err != nil || inspect.Pid == 0 {
		return
	}
	killExec, err := e.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd: []string{"kill", "-9", strconv.Itoa(inspect.Pid)},
	})
	if err != nil {
		e.logger.Warn("failed to create kill exec", "container_id", containerID, "error", err)
		return
	}
	if err := e.docker.ContainerExecStart(ctx, killExec.ID, container.ExecStartOptions{}); err != nil {
		e.logger.Warn("failed to kill hung exec process", "container_id", containerID, "pid", inspect.Pid, "error", err)
	}
}

func (e *Engine) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		e.logger.Error("failed to remove container", "container_id", containerID, "error", err)
	}
}
