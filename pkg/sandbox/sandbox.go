// Package sandbox launches the short-lived, resource-constrained execution
// context a worker agent runs each job command inside (spec §4.4,
// glossary "Sandbox"): read-only root filesystem, all Linux capabilities
// dropped, no new privileges, a size-bounded tmpfs for /tmp, the job
// workspace bind-mounted read-write, and CPU/memory/pids limits.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// Namespace is the containerd namespace sandboxes run under.
	Namespace = "dispatch-core"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// NetworkMode controls sandbox networking (spec §4.4: "disabled by default,
// configurable to host-only").
type NetworkMode string

const (
	NetworkNone NetworkMode = "none"
	NetworkHost NetworkMode = "host"
)

// Limits bounds one sandbox invocation, derived from the job's resource
// requirements and the worker's sandbox config (spec §6:
// sandboxMemoryLimit/sandboxCpuLimit/sandboxTmpfsMb/sandboxNetworkMode).
type Limits struct {
	CPUCores    float64
	MemoryBytes int64
	TmpfsMb     int64
	PidsLimit   int64
	Network     NetworkMode
}

// Spec describes one sandboxed command run.
type Spec struct {
	ID          string
	Image       string
	Command     []string
	Env         []string
	WorkspaceDir string // host path bind-mounted read-write
	MountPath    string // path inside the sandbox; /workspace when empty
	Limits       Limits
	Stdout       io.Writer
	Stderr       io.Writer
}

// Result is the outcome of one sandboxed run.
type Result struct {
	ExitCode int
	TimedOut bool
}

// Runtime launches sandboxes via containerd.
type Runtime struct {
	client *containerd.Client
}

// New connects to the containerd socket at socketPath (DefaultSocketPath if
// empty).
func New(socketPath string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect containerd: %w", err)
	}
	return &Runtime{client: client}, nil
}

// Close closes the containerd client connection.
func (r *Runtime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// EnsureImage pulls image if not already present locally (spec §4.4: "if the
// image is not present locally, fetch it (timeout 10 min)").
func (r *Runtime) EnsureImage(ctx context.Context, image string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	if _, err := r.client.GetImage(ctx, image); err == nil {
		return nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	_, err := r.client.Pull(pullCtx, image, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	return nil
}

// Run launches the sandbox described by spec, enforces timeout, streams
// output to spec.Stdout/Stderr, and returns the exit code once the sandbox
// terminates or is forcibly killed.
func (r *Runtime) Run(ctx context.Context, spec Spec, timeout time.Duration, checkCancel func() bool) (Result, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return Result{}, fmt.Errorf("get image %s: %w", spec.Image, err)
	}

	opts := buildSpecOpts(spec)

	container, err := r.client.NewContainer(
		ctx,
		spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return Result{}, fmt.Errorf("create container: %w", err)
	}
	defer container.Delete(ctx, containerd.WithSnapshotCleanup)

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, spec.Stdout, spec.Stderr)))
	if err != nil {
		return Result{}, fmt.Errorf("create task: %w", err)
	}
	defer task.Delete(ctx)

	statusC, err := task.Wait(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("wait task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return Result{}, fmt.Errorf("start task: %w", err)
	}

	deadline := time.After(timeout)
	cancelProbe := time.NewTicker(2 * time.Second)
	defer cancelProbe.Stop()

	for {
		select {
		case status := <-statusC:
			return Result{ExitCode: int(status.ExitCode())}, nil

		case <-deadline:
			killTask(ctx, task)
			<-statusC
			return Result{ExitCode: 124, TimedOut: true}, nil

		case <-cancelProbe.C:
			if checkCancel != nil && checkCancel() {
				killTask(ctx, task)
				<-statusC
				return Result{ExitCode: 130}, nil
			}
		}
	}
}

func killTask(ctx context.Context, task containerd.Task) {
	killCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	task.Kill(killCtx, syscall.SIGTERM)
	select {
	case <-killCtx.Done():
		task.Kill(ctx, syscall.SIGKILL)
	case <-time.After(2 * time.Second):
		task.Kill(ctx, syscall.SIGKILL)
	}
}

// buildSpecOpts translates a Spec into the OCI isolation contract of spec
// §4.4: read-only root, all capabilities dropped, no-new-privileges, bounded
// tmpfs, bind-mounted workspace, CPU/memory/pids limits, optional network.
func buildSpecOpts(s Spec) []oci.SpecOpts {
	opts := []oci.SpecOpts{
		oci.WithProcessArgs(s.Command...),
		oci.WithEnv(s.Env),
		oci.WithRootFSReadonly(),
		oci.WithCapabilities(nil),
		oci.WithNoNewPrivileges,
	}

	if s.Limits.CPUCores > 0 {
		shares := uint64(s.Limits.CPUCores * 1024)
		quota := int64(s.Limits.CPUCores * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if s.Limits.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(s.Limits.MemoryBytes)))
	}
	if s.Limits.PidsLimit > 0 {
		opts = append(opts, oci.WithPidsLimit(int64(s.Limits.PidsLimit)))
	}
	if s.Limits.Network == NetworkNone || s.Limits.Network == "" {
		opts = append(opts, oci.WithoutRunMount)
	}

	tmpfsMb := s.Limits.TmpfsMb
	if tmpfsMb <= 0 {
		tmpfsMb = 64
	}
	mounts := []specs.Mount{
		{
			Destination: "/tmp",
			Type:        "tmpfs",
			Source:      "tmpfs",
			Options:     []string{"nosuid", "nodev", fmt.Sprintf("size=%dm", tmpfsMb)},
		},
	}
	if s.WorkspaceDir != "" {
		mountPath := s.MountPath
		if mountPath == "" {
			mountPath = "/workspace"
		}
		mounts = append(mounts, specs.Mount{
			Source:      s.WorkspaceDir,
			Destination: mountPath,
			Type:        "bind",
			Options:     []string{"rbind", "rw"},
		})
	}
	opts = append(opts, oci.WithMounts(mounts))

	return opts
}
