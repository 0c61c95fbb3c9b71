// Package camera grabs a single field photo through an external capture
// command such as fswebcam.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/field-advisory/internal/observability"
)

// PathPlaceholder in a command argument is replaced by the output path.
const PathPlaceholder = "{path}"

// Capturer takes one photo. It reports success and the file path; failures
// are logged, never returned.
type Capturer interface {
	Capture(ctx context.Context) (ok bool, path string)
}

// devices serialises access per device path across every Exec in the process.
var devices sync.Map // map[string]*sync.Mutex

func deviceLock(device string) *sync.Mutex {
	mu, _ := devices.LoadOrStore(device, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Exec runs a capture command that writes one frame to Path.
type Exec struct {
	Command []string
	Path    string
	Timeout time.Duration
	Logger  *zap.Logger

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewExec creates an Exec capturer. command is argv with PathPlaceholder
// marking the output file argument.
func NewExec(command []string, path string, timeout time.Duration, logger *zap.Logger) *Exec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{Command: command, Path: path, Timeout: timeout, Logger: logger, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (e *Exec) Capture(ctx context.Context) (bool, string) {
	if len(e.Command) == 0 {
		e.Logger.Warn("photo capture skipped, no capture command configured")
		observability.PhotoCapturesTotal.WithLabelValues("failed").Inc()
		return false, e.Path
	}

	mu := deviceLock(e.device())
	mu.Lock()
	defer mu.Unlock()

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	// A frame left by an earlier run must not count as this capture.
	if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.Logger.Warn("photo capture failed", zap.String("path", e.Path), zap.Error(err))
		observability.PhotoCapturesTotal.WithLabelValues("failed").Inc()
		return false, e.Path
	}

	args := make([]string, 0, len(e.Command)-1)
	for _, a := range e.Command[1:] {
		args = append(args, strings.ReplaceAll(a, PathPlaceholder, e.Path))
	}

	out, err := e.run(ctx, e.Command[0], args...)
	if err == nil {
		err = checkOutput(e.Path)
	}
	if err != nil {
		e.Logger.Warn("photo capture failed",
			zap.String("command", e.Command[0]),
			zap.String("output", truncate(string(out), 256)),
			zap.Error(err),
		)
		observability.PhotoCapturesTotal.WithLabelValues("failed").Inc()
		return false, e.Path
	}
	observability.PhotoCapturesTotal.WithLabelValues("captured").Inc()
	return true, e.Path
}

// device returns the /dev path named in the command, or the command itself.
func (e *Exec) device() string {
	for _, a := range e.Command {
		if strings.HasPrefix(a, "/dev/") {
			return a
		}
	}
	return e.Command[0]
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no image written: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("empty image at %s", path)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
