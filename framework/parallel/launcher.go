package parallel

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

// WorkerEnvVar is set in the environment of every worker process started by ExecLauncher. Its
// value is the worker number.
const WorkerEnvVar = "SPEC_HARNESS_WORKER"

// WorkerID reports whether the current process was started as a worker.
func WorkerID() (int, bool) {
	value, ok := os.LookupEnv(WorkerEnvVar)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Launcher starts workers.
type Launcher interface {
	Launch(ctx context.Context, worker int) (*Conn, error)
}

// Conn is the coordinator's end of one worker: In carries coordinator messages to the worker,
// Out carries the worker's messages back.
type Conn struct {
	In   io.WriteCloser
	Out  io.Reader
	wait func() error
}

// NewConn creates a Conn. The wait function is called once, after Out has been read to the end.
func NewConn(in io.WriteCloser, out io.Reader, wait func() error) *Conn {
	return &Conn{In: in, Out: out, wait: wait}
}

// Wait blocks until the worker has exited.
func (c *Conn) Wait() error {
	if c.wait == nil {
		return nil
	}
	return c.wait()
}

// ExecLauncher starts each worker as a child process, by default another copy of the current
// executable. The child should check WorkerID at startup and call ServeWorker over its stdin
// and stdout. Lines the child writes to stderr are copied to Stderr with a "[worker N] " prefix.
type ExecLauncher struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer
}

func (l ExecLauncher) Launch(ctx context.Context, worker int) (*Conn, error) {
	path := l.Path
	if path == "" {
		p, err := os.Executable()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cmd := exec.CommandContext(ctx, path, l.Args...) //nolint:gosec
	cmd.Env = append(append(os.Environ(), l.Env...), fmt.Sprintf("%s=%d", WorkerEnvVar, worker))
	stderr := l.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	lines := newLineWriter(stderr, fmt.Sprintf("[worker %d] ", worker))
	cmd.Stderr = lines
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start worker %d: %w", worker, err)
	}
	return NewConn(stdin, stdout, func() error {
		err := cmd.Wait()
		_ = lines.Close()
		return err
	}), nil
}

// InProcessLauncher runs each worker as a goroutine in the current process, connected through
// pipes that carry exactly the bytes a child process would see.
type InProcessLauncher struct {
	Defs        []*ldspec.Def
	DebugLogger framework.Logger
}

func (l InProcessLauncher) Launch(ctx context.Context, worker int) (*Conn, error) {
	inReader, inWriter := io.Pipe()
	outReader, outWriter := io.Pipe()
	result := make(chan error, 1)
	go func() {
		err := ServeWorker(ctx, l.Defs, inReader, outWriter, l.DebugLogger)
		_ = inReader.Close()
		_ = outWriter.CloseWithError(err)
		result <- err
	}()
	return NewConn(inWriter, outReader, func() error { return <-result }), nil
}
