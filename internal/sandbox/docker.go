package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
)

// DockerRunner runs JavaScript with node in a throwaway container per call.
type DockerRunner struct {
	cli    *client.Client
	policy Policy
	logger zerolog.Logger
}

// NewDockerRunner connects to the docker daemon from the environment.
func NewDockerRunner(policy Policy, logger zerolog.Logger) (*DockerRunner, error) {
	if !policy.IsImageAllowed(policy.Image) {
		return nil, fmt.Errorf("%w: %q", ErrImageNotAllowed, policy.Image)
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRunner{
		cli:    cli,
		policy: policy,
		logger: logger.With().Str("component", "docker-runner").Logger(),
	}, nil
}

// Ping checks that the daemon is reachable.
func (d *DockerRunner) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Close releases the docker client.
func (d *DockerRunner) Close() error {
	return d.cli.Close()
}

func (d *DockerRunner) Run(ctx context.Context, prog Program, tc TestCase) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled: %w", err)
	}
	if strings.TrimSpace(prog.Code) == "" {
		return failed(tc, MsgEmptyCode), nil
	}
	if d.policy.MaxCodeBytes > 0 && len(prog.Code) > d.policy.MaxCodeBytes {
		return failed(tc, MsgCodeTooLarge), nil
	}
	if prog.EntryPoint != "" && !identPattern.MatchString(prog.EntryPoint) {
		return failed(tc, fmt.Sprintf("Invalid function name %q", prog.EntryPoint)), nil
	}
	input, err := encodeValue(tc.Input)
	if err != nil {
		return nil, err
	}

	timeout := d.policy.timeout()
	payload, err := json.Marshal(harnessPayload{
		Code:        prog.Code,
		Input:       string(input),
		Candidates:  entryCandidates(prog),
		UseExports:  prog.EntryPoint == "",
		MaxLogLines: d.policy.MaxLogLines,
		TimeoutMs:   timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding harness payload: %w", err)
	}

	id, err := d.create(ctx, base64.StdEncoding.EncodeToString(payload))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := d.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn().Err(err).Str("container", id).Msg("failed to remove container")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Register the wait before starting so a fast exit is not missed.
	statusCh, errCh := d.cli.ContainerWait(runCtx, id, container.WaitConditionNextExit)
	started := time.Now()
	if err := d.cli.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		if res, ok := d.interrupted(ctx, runCtx, tc, started); ok {
			return res, nil
		} else if ctx.Err() != nil {
			return nil, fmt.Errorf("run cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("starting container: %w", err)
	}

	var exitCode int64
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, fmt.Errorf("run cancelled: %w", ctx.Err())
		}
		if res, ok := d.interrupted(ctx, runCtx, tc, started); ok {
			return res, nil
		}
		return nil, fmt.Errorf("waiting for container: %w", err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	stdout, stderr, err := d.logs(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.parse(stdout, stderr, exitCode, tc, time.Since(started)), nil
}

func (d *DockerRunner) create(ctx context.Context, payload string) (string, error) {
	pidsLimit := d.policy.PidsLimit
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:     d.policy.MaxMemory,
			MemorySwap: d.policy.MaxMemory, // No swap allowed
			NanoCPUs:   1_000_000_000,
			PidsLimit:  &pidsLimit,
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=16m,mode=1777",
		},
	}
	if !d.policy.Network {
		hostCfg.NetworkMode = "none"
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:           d.policy.Image,
		Cmd:             []string{"node", "-e", nodeHarness},
		Env:             []string{payloadEnv + "=" + payload},
		User:            "node",
		WorkingDir:      "/tmp",
		NetworkDisabled: !d.policy.Network,
		Labels:          map[string]string{"assessor.managed": "true"},
	}, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	return resp.ID, nil
}

// interrupted reports a timeout result when runCtx expired while the parent
// context is still live.
func (d *DockerRunner) interrupted(ctx, runCtx context.Context, tc TestCase, started time.Time) (*ExecutionResult, bool) {
	if ctx.Err() != nil || !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, false
	}
	res := failed(tc, MsgTimedOut)
	res.ExecutionTime = time.Since(started).Seconds()
	return res, true
}

func (d *DockerRunner) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("demultiplexing container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// parse turns the harness output into a result. A missing result line means
// the process died (OOM kill, pids limit) and is attributed to the code.
func (d *DockerRunner) parse(stdout, stderr string, exitCode int64, tc TestCase, wall time.Duration) *ExecutionResult {
	line, ok := lastResultLine(stdout)
	if !ok {
		msg := fmt.Sprintf("Execution failed (exit code %d)", exitCode)
		if tail := lastLine(stderr); tail != "" {
			msg += ": " + tail
		}
		res := failed(tc, msg)
		res.ExecutionTime = wall.Seconds()
		return res
	}

	var hr harnessResult
	if err := json.Unmarshal([]byte(line), &hr); err != nil {
		res := failed(tc, "Malformed sandbox output")
		res.ExecutionTime = wall.Seconds()
		return res
	}

	res := &ExecutionResult{
		ExpectedOutput: tc.ExpectedOutput,
		ExecutionTime:  hr.Time,
		Logs:           hr.Logs,
	}
	if !hr.OK {
		res.Error = hr.Error
		if res.Error == "" {
			res.Error = "Execution failed"
		}
		return res
	}
	res.Output = hr.Output
	res.Passed = Equal(hr.Output, tc.ExpectedOutput)
	return res
}

func lastResultLine(stdout string) (string, bool) {
	var found string
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if rest, ok := strings.CutPrefix(sc.Text(), resultMarker); ok {
			found = rest
		}
	}
	return found, found != ""
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
