package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/stagelight/plotsync/internal/config"
)

const (
	pidFileName = "plotsync-watch.pid"
	pidFileMode = 0o644
	pidDirMode  = 0o755
)

// pidFilePath puts the watch daemon's PID file next to the cache
// database, so one lock covers one data directory.
func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir(), pidFileName)
}

// acquirePIDFile takes the single-instance lock: an exclusive
// non-blocking flock on the PID file, with the current PID written for
// pause/resume to signal. The returned release removes the file and
// drops the lock.
func acquirePIDFile(path string) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), pidDirMode); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFileMode)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another 'plotsync sync --watch' already holds %s", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing PID file: %w", err)
	}

	// Flushed so pause/resume in another process read a real PID.
	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing PID file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// watchDaemonPID reports the live daemon's PID, if one is running for
// this data directory. A PID file left by a dead process is removed.
func watchDaemonPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}

	// Signal 0 probes liveness without touching the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return 0, false
	}

	return pid, true
}

// signalWatchDaemon sends SIGHUP to the running daemon so it rereads
// config and the persisted pause flag.
func signalWatchDaemon(path string) error {
	pid, alive := watchDaemonPID(path)
	if !alive {
		return fmt.Errorf("no running watch daemon for this data directory")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding daemon process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signaling daemon (pid %d): %w", pid, err)
	}

	return nil
}
