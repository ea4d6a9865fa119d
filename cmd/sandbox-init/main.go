//go:build linux

// cmd/sandbox-init is the nsjail-compatible jailer binary internal/sandbox's
// Jailer wrapper spawns as a subprocess (see BuildArgv for the exact argv
// contract). Its SysProcAttr clones it straight into fresh mount/pid/uts/
// ipc/net namespaces, so by the time main runs it is already pid 1 of its
// own container; this binary's job is purely the userspace half: bind
// mount the scratch directory, chroot, apply a defensive rlimit floor,
// load a seccomp filter, and execve the judged program.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseArgv(args)
	if err != nil {
		return err
	}
	if len(cfg.InnerArgv) == 0 {
		return fmt.Errorf("no command given after --")
	}

	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return logged(cfg, fmt.Errorf("make mount private: %w", err))
	}
	if err := applyBindMounts(cfg.Chroot, cfg.BindMounts); err != nil {
		return logged(cfg, err)
	}
	if cfg.Chroot != "" {
		if err := unix.Chroot(cfg.Chroot); err != nil {
			return logged(cfg, fmt.Errorf("chroot: %w", err))
		}
	}
	if err := os.Chdir("/src"); err != nil {
		return logged(cfg, fmt.Errorf("chdir /src: %w", err))
	}

	if err := applyDefensiveRlimits(); err != nil {
		return logged(cfg, err)
	}

	if cfg.SeccompPolicy != "" {
		if err := applySeccomp(cfg.SeccompPolicy); err != nil {
			return logged(cfg, err)
		}
	}

	cmdPath, err := exec.LookPath(cfg.InnerArgv[0])
	if err != nil {
		return logged(cfg, fmt.Errorf("resolve command: %w", err))
	}
	return unix.Exec(cmdPath, cfg.InnerArgv, os.Environ())
}

func logged(cfg jailerArgs, err error) error {
	if cfg.LogPath != "" {
		if f, ferr := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); ferr == nil {
			_, _ = fmt.Fprintln(f, err.Error())
			_ = f.Close()
		}
	}
	return err
}

// jailerArgs is the decoded form of the flags BuildArgv composes. Unknown
// flags are tolerated and ignored so this binary doesn't need to track
// every nsjail option that BuildArgv never emits.
type jailerArgs struct {
	Chroot        string
	SeccompPolicy string
	LogPath       string
	BindMounts    []bindMount
	InnerArgv     []string
}

type bindMount struct {
	Source   string
	ReadOnly bool
}

func parseArgv(args []string) (jailerArgs, error) {
	var cfg jailerArgs
	i := 0
	for i < len(args) {
		a := args[i]
		if a == "--" {
			cfg.InnerArgv = append([]string{}, args[i+1:]...)
			return cfg, nil
		}
		switch a {
		case "--chroot":
			v, n, err := value(args, i)
			if err != nil {
				return cfg, err
			}
			cfg.Chroot = v
			i = n
		case "--bindmount", "--bindmount_ro":
			v, n, err := value(args, i)
			if err != nil {
				return cfg, err
			}
			src, ok := strings.CutSuffix(v, ":/src")
			if !ok {
				return cfg, fmt.Errorf("unsupported bind mount target in %q, only :/src is supported", v)
			}
			cfg.BindMounts = append(cfg.BindMounts, bindMount{Source: src, ReadOnly: a == "--bindmount_ro"})
			i = n
		case "--cgroup_mem_parent", "--cgroup_cpu_parent":
			// Cgroup membership is established by the CGroup Monitor from
			// outside via cgroup.procs, not by this binary; the parent
			// name still has to be consumed here so it isn't mistaken for
			// the inner command.
			_, n, err := value(args, i)
			if err != nil {
				return cfg, err
			}
			i = n
		case "--seccomp_policy":
			v, n, err := value(args, i)
			if err != nil {
				return cfg, err
			}
			cfg.SeccompPolicy = v
			i = n
		case "-l":
			v, n, err := value(args, i)
			if err != nil {
				return cfg, err
			}
			cfg.LogPath = v
			i = n
		case "--cgroup_mem_swap_max", "--cgroup_cpu_ms_per_sec":
			// flags BuildArgv emits with a value this binary doesn't need
			// to act on directly, since cgroup membership/limits are
			// already applied by the CGroup Monitor from outside.
			_, n, err := value(args, i)
			if err != nil {
				return cfg, err
			}
			i = n
		default:
			// boolean-only flags (--disable_clone_newuser,
			// --disable_clone_newcgroup, --use_cgroupv2, -Me, ...): no value
			// to consume.
			i++
		}
	}
	return cfg, fmt.Errorf("missing -- separator before inner command")
}

func value(args []string, i int) (string, int, error) {
	if i+1 >= len(args) {
		return "", 0, fmt.Errorf("flag %q requires a value", args[i])
	}
	return args[i+1], i + 2, nil
}

func applyBindMounts(rootfs string, mounts []bindMount) error {
	for _, m := range mounts {
		target := filepath.Join(rootfs, "src")
		if err := ensureMountTarget(m.Source, target); err != nil {
			return err
		}
		if err := unix.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("bind mount: %w", err)
		}
		if m.ReadOnly {
			if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
				return fmt.Errorf("remount readonly: %w", err)
			}
		}
	}
	if rootfs != "" {
		procPath := filepath.Join(rootfs, "proc")
		if err := os.MkdirAll(procPath, 0755); err != nil {
			return fmt.Errorf("mkdir proc: %w", err)
		}
		if err := unix.Mount("proc", procPath, "proc", 0, ""); err != nil && !errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("mount proc: %w", err)
		}
	}
	return nil
}

func ensureMountTarget(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}
	if info.IsDir() {
		return os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("mkdir mount target dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("create mount target file: %w", err)
	}
	return file.Close()
}

// applyDefensiveRlimits caps process/file-descriptor counts so a forkbomb
// or fd leak inside the jail dies on its own rather than starving the
// host; actual CPU/memory/wall/output limits are the CGroup/Walltime/
// Output Monitors' job from outside the jail.
func applyDefensiveRlimits() error {
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: 64, Max: 64}); err != nil {
		return fmt.Errorf("set rlimit nproc: %w", err)
	}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: 64, Max: 64}); err != nil {
		return fmt.Errorf("set rlimit nofile: %w", err)
	}
	return nil
}

func applySeccomp(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			if err := filter.AddRuleExact(name, action); err != nil {
				return fmt.Errorf("add seccomp rule: %w", err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
