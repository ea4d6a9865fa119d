package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildArgvGroupOrder(t *testing.T) {
	cfg := JailerConfig{CgroupVersion: "v2", LogPath: "/var/log/jailer.log"}
	spawn := JailerSpawn{
		RootfsPath:  "/plugins/lua/rootfs",
		ScratchPath: "/tmp/run-1/src",
		CgroupPath:  "/sys/fs/cgroup/judged/sub-1/case-1-123",
		Lockdown:    true,
		InnerArgv:   []string{"/usr/bin/lua", "main.lua"},
	}
	argv := BuildArgv(cfg, spawn)

	wantPrefix := []string{
		"--chroot", "/plugins/lua/rootfs",
		"--disable_clone_newuser",
		"--cgroup_mem_swap_max", "0",
		"--disable_clone_newcgroup",
		"--use_cgroupv2",
		"--cgroup_cpu_parent", "case-1-123",
		"--bindmount_ro", "/tmp/run-1/src:/src",
		"-l", "/var/log/jailer.log",
		"-Me", "--",
		"/usr/bin/lua", "main.lua",
	}
	if len(argv) != len(wantPrefix) {
		t.Fatalf("argv length mismatch: got %d want %d (%v)", len(argv), len(wantPrefix), argv)
	}
	for i, want := range wantPrefix {
		if argv[i] != want {
			t.Fatalf("argv[%d] = %q, want %q (full: %v)", i, argv[i], want, argv)
		}
	}
}

func TestBuildArgvV1UsesDualControllerForm(t *testing.T) {
	cfg := JailerConfig{CgroupVersion: "v1"}
	spawn := JailerSpawn{
		RootfsPath: "/rootfs",
		CgroupPath: "/sys/fs/cgroup/memory/judged/sub/case-1",
		InnerArgv:  []string{"/bin/true"},
	}
	argv := BuildArgv(cfg, spawn)
	joined := argv
	found := false
	for i, a := range joined {
		if a == "--cgroup_mem_parent" && i+1 < len(joined) && joined[i+1] == "case-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected --cgroup_mem_parent case-1 in v1 argv, got %v", argv)
	}
}

// fakeJailerBinary writes a tiny POSIX shell script standing in for the
// real nsjail-compatible binary: it drops every flag up to and including
// "--" and execs the remaining argv directly. This exercises Jailer.Run's
// process plumbing (stdin/stdout wiring, exit classification, monitor
// race) without a real jailer or cgroups. NewJailer still starts it with
// configureSysProcAttr's namespace clone flags, so on Linux these tests
// need the privilege to create namespaces.
func fakeJailerBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-jailer.sh")
	script := `#!/bin/sh
while [ "$#" -gt 0 ]; do
  if [ "$1" = "--" ]; then
    shift
    exec "$@"
  fi
  shift
done
exit 1
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake jailer: %v", err)
	}
	return path
}

func TestJailerRunEchoesStdinToStdout(t *testing.T) {
	runtime := fakeJailerBinary(t)
	cfg := JailerConfig{Runtime: runtime, CgroupVersion: "v2"}
	spawn := JailerSpawn{
		RootfsPath:  "/",
		ScratchPath: t.TempDir(),
		CgroupPath:  "/sys/fs/cgroup/judged/sub/case-1",
		InnerArgv:   []string{"/bin/cat"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := NewJailer(ctx, cfg, spawn)
	if err != nil {
		t.Fatalf("new jailer: %v", err)
	}

	agg := NewAggregator(nil, NewOutputMonitor(1024), NewWalltimeMonitor(2*time.Second))
	corpse, err := j.Run(ctx, agg, []byte("hello from stdin"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if corpse.Exit.Kind != ExitCode || corpse.Exit.Code != 0 {
		t.Fatalf("expected clean exit, got %+v", corpse.Exit)
	}
	if string(corpse.Stdout) != "hello from stdin" {
		t.Fatalf("unexpected stdout: %q", corpse.Stdout)
	}
}

func TestJailerRunWalltimeExhaustion(t *testing.T) {
	runtime := fakeJailerBinary(t)
	cfg := JailerConfig{Runtime: runtime, CgroupVersion: "v2"}
	spawn := JailerSpawn{
		RootfsPath:  "/",
		ScratchPath: t.TempDir(),
		CgroupPath:  "/sys/fs/cgroup/judged/sub/case-2",
		InnerArgv:   []string{"/bin/sleep", "5"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := NewJailer(ctx, cfg, spawn)
	if err != nil {
		t.Fatalf("new jailer: %v", err)
	}

	agg := NewAggregator(nil, NewOutputMonitor(1024), NewWalltimeMonitor(50*time.Millisecond))
	corpse, err := j.Run(ctx, agg, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if corpse.MonitorTrigger != MonitorWalltime {
		t.Fatalf("expected MonitorWalltime trigger, got %v", corpse.MonitorTrigger)
	}
}
