package sandbox

import "testing"

// buildSpecOpts is exercised here only for its composition logic (how many
// OCI options get appended per Limits field); applying the resulting
// oci.SpecOpts requires a live containerd client and is covered instead by
// an operator running the worker agent against a real sandbox socket.
func TestBuildSpecOptsBaseline(t *testing.T) {
	opts := buildSpecOpts(Spec{Command: []string{"/bin/true"}})
	// process args, env, readonly rootfs, capabilities, no-new-privileges,
	// network (defaults to none), mounts (tmpfs only).
	if len(opts) != 7 {
		t.Fatalf("baseline buildSpecOpts returned %d opts, want 7", len(opts))
	}
}

func TestBuildSpecOptsAddsResourceLimits(t *testing.T) {
	base := buildSpecOpts(Spec{Command: []string{"/bin/true"}})
	withLimits := buildSpecOpts(Spec{
		Command: []string{"/bin/true"},
		Limits: Limits{
			CPUCores:    1.5,
			MemoryBytes: 512 * 1024 * 1024,
			PidsLimit:   64,
		},
	})
	// +2 for CPU (shares+CFS), +1 memory, +1 pids.
	if len(withLimits) != len(base)+4 {
		t.Fatalf("buildSpecOpts with limits returned %d opts, want %d", len(withLimits), len(base)+4)
	}
}

func TestBuildSpecOptsNetworkHostSkipsWithoutRunMount(t *testing.T) {
	none := buildSpecOpts(Spec{Command: []string{"/bin/true"}, Limits: Limits{Network: NetworkNone}})
	host := buildSpecOpts(Spec{Command: []string{"/bin/true"}, Limits: Limits{Network: NetworkHost}})
	if len(host) != len(none)-1 {
		t.Fatalf("host-network buildSpecOpts returned %d opts, want %d (one fewer than none)", len(host), len(none)-1)
	}
}

func TestBuildSpecOptsAddsWorkspaceMountSharesSameAppendCall(t *testing.T) {
	withoutWorkspace := buildSpecOpts(Spec{Command: []string{"/bin/true"}})
	withWorkspace := buildSpecOpts(Spec{Command: []string{"/bin/true"}, WorkspaceDir: "/tmp/job-1"})
	// Mounts are appended as a single oci.WithMounts(...) option regardless of
	// count, so the option count is unchanged; this asserts buildSpecOpts
	// does not panic or duplicate the mounts option when a workspace is set.
	if len(withWorkspace) != len(withoutWorkspace) {
		t.Fatalf("buildSpecOpts option count changed with workspace set: %d vs %d", len(withWorkspace), len(withoutWorkspace))
	}
}
