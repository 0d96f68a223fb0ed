//go:build stave

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
)

// Default target when running `stave` with no arguments.
var Default = Build

// Aliases for common targets.
var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"l": Lint,
	"i": Install,
	"c": Clean,
}

const (
	binaryName = "schedlab"
	mainPkg    = "./cmd/schedlab"
	binDir     = "bin"
)

// All runs the complete build pipeline.
func All() error {
	st.Deps(Lint, Test)
	st.Deps(Build)
	return nil
}

// Build compiles the schedlab binary.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}
	return sh.RunV("go", "build", "-ldflags", buildLdflags(), "-o", filepath.Join(binDir, binaryName), mainPkg)
}

// Linux cross-compiles schedlab for linux/amd64 and linux/arm64, the
// platforms with full affinity and rusage support.
func Linux() error {
	for _, arch := range []string{"amd64", "arm64"} {
		output := filepath.Join(binDir, fmt.Sprintf("%s-linux-%s", binaryName, arch))
		env := map[string]string{"GOOS": "linux", "GOARCH": arch, "CGO_ENABLED": "0"}
		if err := sh.RunWithV(env, "go", "build", "-ldflags", buildLdflags(), "-o", output, mainPkg); err != nil {
			return fmt.Errorf("building %s: %w", arch, err)
		}
	}
	return nil
}

// Install installs schedlab with go install.
func Install() error {
	return sh.RunV(st.GoCmd(), "install", "-ldflags", buildLdflags(), mainPkg)
}

// Test runs all tests with race detection and coverage.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// Demo builds schedlab and runs a short single-CPU sweep into a
// throwaway results directory.
func Demo() error {
	st.Deps(Build)

	dir, err := os.MkdirTemp("", "schedlab-demo-")
	if err != nil {
		return err
	}
	if st.Verbose() {
		fmt.Printf("Writing runs to %s\n", dir)
	}
	return sh.RunV(filepath.Join(binDir, binaryName),
		"--results-dir", dir, "--loops", "100000000", "--checkpoints", "20", "cpuperf", "4")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if st.Verbose() {
		fmt.Printf("Removing %s/\n", binDir)
	}
	return sh.Rm(binDir + "/")
}

// Fmt formats all Go code.
func Fmt() error {
	if err := sh.Run("gofmt", "-w", "."); err != nil {
		return fmt.Errorf("running gofmt: %w", err)
	}
	return sh.Run("goimports", "-w", ".")
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

// buildLdflags returns ldflags for version injection.
func buildLdflags() string {
	version := "dev"
	commit := "none"
	date := time.Now().UTC().Format(time.RFC3339)

	if v, err := sh.Output("git", "describe", "--tags", "--always"); err == nil && v != "" {
		version = strings.TrimSpace(v)
	}
	if c, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && c != "" {
		commit = strings.TrimSpace(c)
	}

	return fmt.Sprintf("-s -w -X main.version=%s -X main.commit=%s -X main.date=%s", version, commit, date)
}
