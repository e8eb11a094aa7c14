// Package testutil provides shared environment helpers for the E2E
// suite. It depends only on stdlib, so the E2E tests stay a black box
// over the built binaries instead of reaching into internal/.
package testutil

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// BuildBinary compiles the package at pkg (relative to moduleRoot) into
// outPath. Crashes on failure because no test can run without the binary.
func BuildBinary(moduleRoot, pkg, outPath string) {
	cmd := exec.Command("go", "build", "-o", outPath, pkg)
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: building %s: %v\n", pkg, err)
		os.Exit(1)
	}
}

// scrubPrefixes are the environment variables that could leak the
// developer's real plotsync state into a test workspace.
var scrubPrefixes = []string{
	"HOME=",
	"XDG_CONFIG_HOME=",
	"XDG_DATA_HOME=",
	"XDG_CACHE_HOME=",
	"PLOTSYNC_",
}

// ScrubbedEnv returns a copy of the process environment with every
// home, XDG, and PLOTSYNC_* variable removed, then the given overrides
// appended. Commands run with the result cannot resolve any path or
// server outside what the overrides name.
func ScrubbedEnv(overrides map[string]string) []string {
	result := make([]string, 0, len(os.Environ())+len(overrides))

	for _, e := range os.Environ() {
		scrubbed := false

		for _, prefix := range scrubPrefixes {
			if strings.HasPrefix(e, prefix) {
				scrubbed = true

				break
			}
		}

		if !scrubbed {
			result = append(result, e)
		}
	}

	for k, v := range overrides {
		result = append(result, k+"="+v)
	}

	return result
}

// FreePort asks the kernel for an unused localhost TCP port. The
// listener is closed before returning, so another process could grab
// the port in the gap; WaitHealthy catches that loss.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %v", l.Addr())
	}

	return addr.Port, nil
}

// WaitHealthy polls url until it answers 200 OK or the timeout passes.
func WaitHealthy(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	var lastErr error

	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				return nil
			}

			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%s not healthy after %s: %w", url, timeout, lastErr)
		}

		time.Sleep(50 * time.Millisecond)
	}
}
