package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDFile_WritesCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plotsync-watch.pid")

	release, err := acquirePIDFile(path)
	require.NoError(t, err)
	require.NotNil(t, release)

	defer release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDFile_FlockPreventsSecondAcquisition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plotsync-watch.pid")

	release1, err := acquirePIDFile(path)
	require.NoError(t, err)
	require.NotNil(t, release1)

	defer release1()

	// Second attempt fails because the flock is held.
	release2, err := acquirePIDFile(path)
	require.Error(t, err)
	assert.Nil(t, release2)
	assert.Contains(t, err.Error(), "already holds")
}

func TestAcquirePIDFile_ReleaseRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plotsync-watch.pid")

	release, err := acquirePIDFile(path)
	require.NoError(t, err)

	release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquirePIDFile_CreatesParentDirectories(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state", "plotsync-watch.pid")

	release, err := acquirePIDFile(path)
	require.NoError(t, err)

	defer release()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestWatchDaemonPID_LiveProcess(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plotsync-watch.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	pid, alive := watchDaemonPID(path)
	assert.True(t, alive)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWatchDaemonPID_MissingFile(t *testing.T) {
	t.Parallel()

	_, alive := watchDaemonPID(filepath.Join(t.TempDir(), "nonexistent.pid"))
	assert.False(t, alive)
}

func TestWatchDaemonPID_GarbageContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plotsync-watch.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	_, alive := watchDaemonPID(path)
	assert.False(t, alive)
}

func TestWatchDaemonPID_StaleFileRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plotsync-watch.pid")
	// PID 999999999 is almost certainly not a running process.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	_, alive := watchDaemonPID(path)
	assert.False(t, alive)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignalWatchDaemon_NoPIDFile(t *testing.T) {
	t.Parallel()

	err := signalWatchDaemon(filepath.Join(t.TempDir(), "nonexistent.pid"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no running watch daemon")
}

func TestSignalWatchDaemon_DeliversSIGHUP(t *testing.T) {
	t.Parallel()

	// Trap SIGHUP so it doesn't kill the test process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	defer signal.Stop(sigCh)

	path := filepath.Join(t.TempDir(), "plotsync-watch.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	err := signalWatchDaemon(path)
	assert.NoError(t, err)

	sig := <-sigCh
	assert.Equal(t, syscall.SIGHUP, sig)
}
