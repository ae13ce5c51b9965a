package runner

import (
	"context"
	"fmt"
	"os"
)

// InlineRunner executes inline source code by spilling it to a temp file
// and delegating to a ShellRunner with the right interpreter, the same
// two-step approach as original_source/baselines/CLI-011/src/executor.py's
// _execute_python (write a tempfile, then shell out to the interpreter).
type InlineRunner struct {
	shell *ShellRunner
}

// NewInlineRunner returns an InlineRunner backed by its own ShellRunner.
func NewInlineRunner() *InlineRunner {
	return &InlineRunner{shell: NewShellRunner()}
}

// LastPID exposes the underlying ShellRunner's pid for resource sampling.
func (r *InlineRunner) LastPID() int { return r.shell.LastPID() }

// interpreterFor maps a language hint to its interpreter binary and the
// file suffix it expects, per SPEC_FULL §4.3.
func interpreterFor(language string) (bin string, suffix string) {
	switch language {
	case "python", "python3":
		return "python3", ".py"
	case "node", "javascript", "js":
		return "node", ".js"
	case "bash":
		return "bash", ".sh"
	default:
		return "sh", ".sh"
	}
}

func (r *InlineRunner) Run(ctx context.Context, spec Spec) Result {
	bin, suffix := interpreterFor(spec.Command)

	f, err := os.CreateTemp("", "orchestrator-inline-*"+suffix)
	if err != nil {
		return Result{ExitCode: -1, Error: err}
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(spec.Payload); err != nil {
		f.Close()
		return Result{ExitCode: -1, Error: err}
	}
	if err := f.Close(); err != nil {
		return Result{ExitCode: -1, Error: err}
	}
	if err := os.Chmod(path, 0o700); err != nil {
		return Result{ExitCode: -1, Error: err}
	}

	return r.shell.Run(ctx, Spec{
		Command:    bin,
		Args:       []string{path},
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Payload:    fmt.Sprintf("%s %s", bin, path),
	})
}
