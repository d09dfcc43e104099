// Package worker implements the Worker Agent (spec §4.4): the pull-based
// protocol client and the per-job sandboxed execution contract.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/dispatch-core/pkg/apierr"
	"github.com/cuemby/dispatch-core/pkg/config"
	"github.com/cuemby/dispatch-core/pkg/log"
	"github.com/cuemby/dispatch-core/pkg/sandbox"
	"github.com/cuemby/dispatch-core/pkg/workertoken"
	"github.com/rs/zerolog"
)

// state is the worker agent's local state machine (spec §4.4).
type state int

const (
	stateUnregistered state = iota
	stateIdle
	statePolling
	stateExecuting
)

// Agent is the Worker Agent process: registers with the dispatcher, polls
// for work, executes jobs in sandboxes, and reports results.
type Agent struct {
	id       string
	hostname string
	cfg      config.Worker

	client  *Client
	runtime *sandbox.Runtime
	logger  zerolog.Logger

	stats hostStats

	mu          sync.Mutex
	st          state
	activeJobs  int
	stopCh      chan struct{}
	wg          sync.WaitGroup
	parallelSem chan struct{}
}

// New constructs an Agent. workerID is persisted by the caller across
// restarts (spec §3: "chosen by the worker and persisted across restarts").
func New(workerID string, cfg config.Worker, rt *sandbox.Runtime) *Agent {
	hostname, _ := os.Hostname()

	maxParallel := cfg.MaxParallelJobs
	if maxParallel <= 0 {
		maxParallel = maxInt(1, int(cpuCount())/2)
	}

	if cfg.DataDir != "" {
		os.MkdirAll(cfg.DataDir, 0o755)
	}

	client := NewClient(cfg.DispatcherAddr)
	if cfg.WorkerTokenSecret != "" {
		token, err := workertoken.New(cfg.WorkerTokenSecret).Issue(workerID, hostname)
		if err == nil {
			client.SetToken(token)
		}
	}

	return &Agent{
		id:          workerID,
		hostname:    hostname,
		cfg:         cfg,
		client:      client,
		runtime:     rt,
		logger:      log.WithWorkerID(workerID),
		st:          stateUnregistered,
		stopCh:      make(chan struct{}),
		parallelSem: make(chan struct{}, maxParallel),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Start registers with the dispatcher and launches the heartbeat and poll
// loops. It blocks until registration succeeds or ctx is cancelled, then
// returns control while the loops run in the background.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.registerWithBackoff(ctx); err != nil {
		return err
	}

	a.wg.Add(2)
	go a.heartbeatLoop()
	go a.pollLoop()
	return nil
}

// Stop signals the loops to exit and waits for in-flight jobs to finish
// reporting.
func (a *Agent) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Agent) setState(s state) {
	a.mu.Lock()
	a.st = s
	a.mu.Unlock()
}

func (a *Agent) status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobs > 0 {
		return "BUSY"
	}
	return "IDLE"
}

// registerWithBackoff calls registerWorker, retrying with exponential
// backoff on transport failure (spec §4.4: "on unrecoverable transport
// error returns to Unregistered and retries registration with exponential
// backoff").
func (a *Agent) registerWithBackoff(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		totalMb, freeMb := memStats()
		req := RegisterRequest{
			WorkerID:   a.id,
			Hostname:   a.hostname,
			OS:         runtimeGOOS(),
			CPUCount:   cpuCount(),
			CPUUsage:   0,
			RamTotalMb: totalMb,
			RamFreeMb:  freeMb,
			Version:    "1",
			Status:     "IDLE",
		}
		err := a.client.RegisterWorker(ctx, req)
		if err == nil {
			a.setState(stateIdle)
			a.logger.Info().Str("dispatcher", a.cfg.DispatcherAddr).Msg("registered")
			return nil
		}

		a.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("registration failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()

	interval := time.Duration(a.cfg.HeartbeatIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.sendHeartbeat()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) sendHeartbeat() {
	totalMb, freeMb := memStats()
	req := HeartbeatRequest{
		WorkerID:   a.id,
		CPUUsage:   a.stats.samplePercent(),
		RamFreeMb:  freeMb,
		RamTotalMb: totalMb,
		Status:     a.status(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.client.Heartbeat(ctx, req); err != nil {
		a.logger.Warn().Err(err).Msg("heartbeat failed")
	}
}

func (a *Agent) pollLoop() {
	defer a.wg.Done()

	interval := time.Duration(a.cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.pollOnce()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) pollOnce() {
	select {
	case a.parallelSem <- struct{}{}:
	default:
		return // at maxParallel capacity; wait for next tick
	}

	a.setState(statePolling)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	job, err := a.client.PollJob(ctx, a.id)
	cancel()

	if err != nil {
		a.logger.Warn().Err(err).Msg("poll failed")
		<-a.parallelSem
		return
	}
	if job == nil {
		<-a.parallelSem
		return
	}

	a.mu.Lock()
	a.activeJobs++
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.parallelSem }()
		defer func() {
			a.mu.Lock()
			a.activeJobs--
			a.mu.Unlock()
		}()
		a.executeJob(job)
	}()
}

func runtimeGOOS() string {
	if v := os.Getenv("DISPATCH_WORKER_OS"); v != "" {
		return v
	}
	return runtime.GOOS
}

// executeJob runs the full per-job execution contract of spec §4.4.
func (a *Agent) executeJob(job *polledJob) {
	a.setState(stateExecuting)
	logger := a.logger.With().Str("job_id", job.JobID).Logger()

	workspaceDir, err := os.MkdirTemp(a.cfg.DataDir, "job-"+sanitizeID(job.JobID)+"-")
	if err != nil {
		logger.Error().Err(err).Msg("create workspace failed")
		a.reportFailure(job.JobID, fmt.Sprintf("create workspace: %v", err))
		return
	}
	defer os.RemoveAll(workspaceDir)

	if job.BundleRef != "" {
		if err := a.fetchAndExtractBundle(job, workspaceDir); err != nil {
			logger.Error().Err(err).Msg("bundle fetch/extract failed")
			a.reportFailure(job.JobID, err.Error())
			return
		}
	}

	commands := splitCommandSequence(job.Command)
	var stdout, stderr strings.Builder
	exitCode := 0
	aborted := false

	timeout := time.Duration(job.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	for _, cmd := range commands {
		if aborted {
			break
		}
		code, timedOut, cancelled, err := a.runCommand(job, cmd, workspaceDir, timeout, &stdout, &stderr)
		exitCode = code
		if err != nil {
			logger.Warn().Err(err).Str("command", cmd).Msg("sandbox launch failed")
			a.reportFailure(job.JobID, fmt.Sprintf("sandbox launch failed: %v", err))
			return
		}
		if timedOut || cancelled {
			aborted = true
		} else if code != 0 {
			logger.Warn().Str("command", cmd).Int("exit_code", code).Msg("command exited non-zero, continuing batch")
		}
	}

	resultData, err := buildResultArchive(workspaceDir, stdout.String(), stderr.String())
	var resultRef string
	if err != nil {
		logger.Warn().Err(err).Msg("build result archive failed")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		resultRef, err = a.client.UploadResult(ctx, job.JobID, resultData)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("upload result archive failed")
		}
	}

	a.submitResultWithRetry(job.JobID, stdout.String(), stderr.String(), exitCode, resultRef)
}

// runCommand selects a sandbox image, launches it, streams output, and
// enforces timeout/cancellation per spec §4.4 step 5.
func (a *Agent) runCommand(job *polledJob, cmd, workspaceDir string, timeout time.Duration, stdout, stderr *strings.Builder) (exitCode int, timedOut, cancelled bool, err error) {
	image := SelectImage(cmd, DefaultImageTable)

	if a.runtime == nil {
		return 0, false, false, fmt.Errorf("no sandbox runtime configured")
	}

	ctx := context.Background()
	if err := a.runtime.EnsureImage(ctx, image); err != nil {
		return 0, false, false, apierr.Wrap(apierr.SandboxLaunchFail, "pull image "+image, err)
	}

	stdoutW := &streamWriter{agent: a, jobID: job.JobID, kind: "stdout", local: stdout}
	stderrW := &streamWriter{agent: a, jobID: job.JobID, kind: "stderr", local: stderr}

	spec := sandbox.Spec{
		ID:           "job-" + sanitizeID(job.JobID) + "-" + sanitizeID(cmd),
		Image:        image,
		Command:      []string{"/bin/sh", "-c", cmd},
		Env:          []string{"HOME=/workspace", "XDG_CACHE_HOME=/workspace/.cache"},
		WorkspaceDir: workspaceDir,
		MountPath:    "/workspace",
		Limits: sandbox.Limits{
			CPUCores:    a.cfg.SandboxCPULimit,
			MemoryBytes: a.cfg.SandboxMemoryLimit,
			TmpfsMb:     a.cfg.SandboxTmpfsMb,
			PidsLimit:   256,
			Network:     sandbox.NetworkMode(a.cfg.SandboxNetworkMode),
		},
		Stdout: stdoutW,
		Stderr: stderrW,
	}

	checkCancel := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		ok, _ := a.client.CheckCancel(ctx, job.JobID)
		return ok
	}

	result, runErr := a.runtime.Run(ctx, spec, timeout, checkCancel)
	if runErr != nil {
		return 0, false, false, apierr.Wrap(apierr.SandboxLaunchFail, "run "+image, runErr)
	}

	if result.TimedOut {
		stderr.WriteString("[TIMEOUT]")
		return result.ExitCode, true, false, nil
	}
	if result.ExitCode == 130 {
		stderr.WriteString("[CANCELLED]")
		return result.ExitCode, false, true, nil
	}
	return result.ExitCode, false, false, nil
}

// streamWriter forwards sandbox output both to streamOutput and to a local
// buffer aggregated for submitResult.
type streamWriter struct {
	agent *Agent
	jobID string
	kind  string
	local *strings.Builder
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.local.Write(p)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.agent.client.StreamOutput(ctx, w.jobID, w.kind, string(p)); err != nil {
		w.agent.logger.Warn().Err(err).Str("job_id", w.jobID).Msg("stream chunk failed")
	}
	return len(p), nil
}

func (a *Agent) fetchAndExtractBundle(job *polledJob, workspaceDir string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data, err := a.client.FetchBundle(ctx, job.BundleRef)
	if err != nil {
		return fmt.Errorf("fetch bundle: %w", err)
	}
	if err := validateBundleMagic(data); err != nil {
		return err
	}
	a.logger.Debug().Str("job_id", job.JobID).Int("bytes", len(data)).Msg("bundle downloaded")
	return extractBundle(data, workspaceDir)
}

// submitResultWithRetry calls submitResult with exponential backoff up to 3
// attempts, falling back to reportFailure on persistent failure (spec §4.4
// step 7).
func (a *Agent) submitResultWithRetry(jobID, stdout, stderr string, exitCode int, resultRef string) {
	req := SubmitResultRequest{
		JobID:     jobID,
		WorkerID:  a.id,
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		ResultRef: resultRef,
	}

	backoff := time.Second
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := a.client.SubmitResult(ctx, req)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		a.logger.Warn().Err(err).Int("attempt", attempt).Msg("submitResult failed")
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}
	a.reportFailure(jobID, fmt.Sprintf("submitResult failed after retries: %v", lastErr))
}

func (a *Agent) reportFailure(jobID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.client.ReportFailure(ctx, jobID, a.id, message); err != nil {
		a.logger.Error().Err(err).Str("job_id", jobID).Msg("reportFailure itself failed")
	}
}

// splitCommandSequence splits command on newlines and drops blank lines
// (spec §4.4 step 4).
func splitCommandSequence(command string) []string {
	lines := strings.Split(command, "\n")
	var out []string
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func sanitizeID(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
		if b.Len() > 32 {
			break
		}
	}
	return b.String()
}
