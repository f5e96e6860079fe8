package detection

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

// processStopGrace is how long the detector gets to exit after SIGTERM
const processStopGrace = 3 * time.Second

// ProcessConfig describes the external detector command.
type ProcessConfig struct {
	Command         string
	Args            []string
	ModelConfidence float64 // forwarded as --conf
	IoUThreshold    float64 // forwarded as --iou
}

// ProcessSource runs the external detector and decodes its stdout as JSONL.
// The detector's stderr is forwarded to the log.
type ProcessSource struct {
	*JSONLSource

	cmd      *exec.Cmd
	log      logger.Logger
	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// buildArgs appends the model thresholds to the configured arguments
func (c *ProcessConfig) buildArgs() []string {
	args := append([]string{}, c.Args...)
	if c.ModelConfidence > 0 {
		args = append(args, "--conf", strconv.FormatFloat(c.ModelConfidence, 'f', -1, 64))
	}
	if c.IoUThreshold > 0 {
		args = append(args, "--iou", strconv.FormatFloat(c.IoUThreshold, 'f', -1, 64))
	}
	return args
}

// StartProcess launches the detector. The process is bound to ctx and is
// killed when ctx is cancelled.
func StartProcess(ctx context.Context, cfg ProcessConfig, log logger.Logger) (*ProcessSource, error) {
	if cfg.Command == "" {
		return nil, errors.Newf("detector command is empty").
			Component("detection").
			Category(errors.CategoryConfiguration).
			Priority(errors.PriorityCritical).
			Build()
	}
	if log == nil {
		log = logger.Global().Module("detection")
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.buildArgs()...) //nolint:gosec // G204: command comes from operator config
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = processStopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("detector stdout pipe: %w", err)
	}
	cmd.Stderr = &stderrLogger{log: log}

	if err := cmd.Start(); err != nil {
		return nil, errors.New(fmt.Errorf("start detector %s: %w", cfg.Command, err)).
			Component("detection").
			Category(errors.CategoryDetector).
			Priority(errors.PriorityCritical).
			Context("operation", "start_detector").
			Build()
	}

	log.Info("detector started",
		logger.String("command", cfg.Command),
		logger.Int("pid", cmd.Process.Pid))

	ps := &ProcessSource{
		JSONLSource: NewJSONLSource(stdout),
		cmd:         cmd,
		log:         log,
		exited:      make(chan struct{}),
	}
	return ps, nil
}

// Wait blocks until the detector exits and returns its exit error.
func (p *ProcessSource) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	})
	<-p.exited
	return p.waitErr
}

// Close stops the reader and terminates the detector.
func (p *ProcessSource) Close() error {
	_ = p.JSONLSource.Close()

	if p.cmd.ProcessState == nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	err := p.Wait()
	p.log.Info("detector stopped")

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed by our own signal
		return nil
	}
	return err
}

// stderrLogger forwards detector stderr lines at debug level
type stderrLogger struct {
	log logger.Logger
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.log.Debug("detector stderr", logger.String("output", string(p)))
	return len(p), nil
}
