package playout

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/aircast-dev/aircast/pkg/logger"
)

// Process is a handle on a launched streaming resource.
type Process interface {
	// Signal delivers a signal to the process. Best effort.
	Signal(sig os.Signal) error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// PID returns the OS process id.
	PID() int
	// FrameStats returns encoder frame counters, zero if not reported.
	FrameStats() FrameStats
}

// Runner launches streaming processes. Injectable so producers are testable
// without spawning a real encoder.
type Runner interface {
	Start(name string, args []string) (Process, error)
}

// ExecRunner launches real OS processes.
type ExecRunner struct {
	logger *logger.Logger
}

// NewExecRunner creates a runner backed by os/exec.
func NewExecRunner(log *logger.Logger) *ExecRunner {
	return &ExecRunner{logger: log.Named("exec-runner")}
}

// Start launches the command and begins draining its progress output.
func (r *ExecRunner) Start(name string, args []string) (Process, error) {
	cmd := exec.Command(name, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get encoder stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	p := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	// Auxiliary listeners: progress parsing and exit monitoring live on
	// their own goroutines, outside the tick path.
	go p.parseProgress(stderr)
	go func() {
		if err := cmd.Wait(); err != nil {
			r.logger.Debug("Encoder process exited",
				logger.Int("pid", p.PID()),
				logger.Error(err),
			)
		}
		close(p.done)
	}()

	r.logger.Debug("Encoder process started",
		logger.String("binary", name),
		logger.Int("pid", cmd.Process.Pid),
	)

	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	dropped atomic.Int64
	queued  atomic.Int64
}

func (p *execProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) FrameStats() FrameStats {
	return FrameStats{
		Dropped: p.dropped.Load(),
		Queued:  p.queued.Load(),
	}
}

// parseProgress consumes ffmpeg -progress key=value lines from stderr and
// keeps the frame counters current.
func (p *execProcess) parseProgress(r io.ReadCloser) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "drop_frames="):
			if n, err := strconv.ParseInt(strings.TrimPrefix(line, "drop_frames="), 10, 64); err == nil {
				p.dropped.Store(n)
			}
		case strings.HasPrefix(line, "dup_frames="):
			if n, err := strconv.ParseInt(strings.TrimPrefix(line, "dup_frames="), 10, 64); err == nil {
				p.queued.Store(n)
			}
		}
	}
}
