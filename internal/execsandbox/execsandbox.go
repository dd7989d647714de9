// Package execsandbox runs one generated code block as an isolated
// subprocess and reports back its captured output. The Orchestrator treats
// this as an RPC: a code string goes in, a Result comes out. No interpreter
// is embedded in this process.
package execsandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/insightqueue/insightqueue/internal/corerr"
)

// Result is everything the Orchestrator needs to turn an execution into an
// observation fed back to the model.
type Result struct {
	Stdout         string
	Stderr         string
	ExitStatus     int
	FinalValueText string
	Duration       time.Duration
}

// Runner executes one code block per call. Implementations must honor ctx
// cancellation by killing the subprocess promptly.
type Runner interface {
	Run(ctx context.Context, code string, timeout time.Duration) (Result, error)
}

// SubprocessRunner launches Interpreter as a subprocess with BaseArgs
// followed by the code block (shim included) as the final argument, and
// captures stdout/stderr.
//
// The subprocess is not confined: it inherits this process's environment,
// working directory and filesystem permissions. BridgeAddr, when set,
// points at a local Bridge HTTP server exposing the File Loader and
// Inflation Cache, and every invocation is prefixed with dataBridgeShim so
// the code's calls to load/load_head/inflation_summary reach it.
type SubprocessRunner struct {
	Interpreter string
	BaseArgs    []string
	BridgeAddr  string
}

// NewPythonRunner configures a runner that shells out to a "python3 -c"
// invocation, wired to reach bridgeAddr for data access. Deployments that
// need stronger isolation should wrap this in a container entrypoint and
// pass that as Interpreter instead.
func NewPythonRunner(bridgeAddr string) *SubprocessRunner {
	return &SubprocessRunner{Interpreter: "python3", BaseArgs: []string{"-I", "-c"}, BridgeAddr: bridgeAddr}
}

func (r *SubprocessRunner) Run(ctx context.Context, code string, timeout time.Duration) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := dataBridgeShim + "\n" + code
	args := append(append([]string{}, r.BaseArgs...), full)
	cmd := exec.CommandContext(runCtx, r.Interpreter, args...)
	cmd.Env = append(os.Environ(), "DATABRIDGE_ADDR="+r.BridgeAddr)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return result, corerr.New(corerr.ExecutionTimeout, "code execution exceeded per-execution timeout")
	}
	if ctx.Err() == context.Canceled {
		return result, corerr.New(corerr.Canceled, "execution canceled")
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitStatus = exitErr.ExitCode()
		// A nonzero exit is an observation, never a job failure: the
		// Orchestrator feeds stderr back to the model as a recoverable fault.
		return result, nil
	}
	if err != nil {
		return result, corerr.Wrap(corerr.ExecutionFailed, "failed to start code execution subprocess", err)
	}

	result.FinalValueText = lastNonEmptyLine(result.Stdout)
	return result, nil
}

// dataBridgeShim is prepended to every generated code block. It gives the
// subprocess three module-level functions — load, load_head,
// inflation_summary — that reach the Bridge HTTP server over DATABRIDGE_ADDR
// instead of the generated code parsing files itself.
const dataBridgeShim = `import json as __bridge_json, os as __bridge_os, urllib.request as __bridge_urllib

__DATABRIDGE_ADDR = __bridge_os.environ.get("DATABRIDGE_ADDR", "")

def __bridge_call(__path, __payload):
    __req = __bridge_urllib.Request(
        "http://" + __DATABRIDGE_ADDR + __path,
        data=__bridge_json.dumps(__payload).encode("utf-8"),
        headers={"Content-Type": "application/json"},
        method="POST",
    )
    with __bridge_urllib.urlopen(__req, timeout=30) as __resp:
        __body = __bridge_json.loads(__resp.read().decode("utf-8"))
    if isinstance(__body, dict) and "error" in __body and len(__body) == 1:
        raise RuntimeError(__body["error"])
    return __body

def load(file):
    return __bridge_call("/load", {"file": file})

def load_head(file, n=20):
    return __bridge_call("/load_head", {"file": file, "n": n})

def inflation_summary(start_year, end_year):
    return __bridge_call("/inflation", {"start_year": start_year, "end_year": end_year})
`

func lastNonEmptyLine(s string) string {
	lines := splitLines(s)
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] != "" {
			return lines[i]
		}
	}
	return ""
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
