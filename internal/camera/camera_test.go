package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeRun(write []byte, err error) func(context.Context, string, ...string) ([]byte, error) {
	return func(_ context.Context, _ string, args ...string) ([]byte, error) {
		if err != nil {
			return []byte("Error opening device"), err
		}
		return nil, os.WriteFile(args[len(args)-1], write, 0o644)
	}
}

func TestExec_Capture_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field_capture.jpg")
	var gotArgs []string
	e := NewExec([]string{"fswebcam", "-d", "/dev/video9", "--no-banner", PathPlaceholder}, path, time.Second, nil)
	e.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "fswebcam", name)
		gotArgs = args
		return fakeRun([]byte{0xFF, 0xD8}, nil)(ctx, name, args...)
	}

	ok, got := e.Capture(context.Background())
	assert.True(t, ok)
	assert.Equal(t, path, got)
	assert.Equal(t, []string{"-d", "/dev/video9", "--no-banner", path}, gotArgs)
}

func TestExec_Capture_CommandFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field_capture.jpg")
	e := NewExec([]string{"fswebcam", PathPlaceholder}, path, time.Second, nil)
	e.run = fakeRun(nil, errors.New("exit status 1"))

	ok, got := e.Capture(context.Background())
	assert.False(t, ok)
	assert.Equal(t, path, got)
}

// TestExec_Capture_EmptyFileIsFailure covers commands that exit 0 without producing a frame.
func TestExec_Capture_EmptyFileIsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field_capture.jpg")
	e := NewExec([]string{"fswebcam", PathPlaceholder}, path, time.Second, nil)
	e.run = fakeRun([]byte{}, nil)

	ok, _ := e.Capture(context.Background())
	assert.False(t, ok)
}

// TestExec_Capture_StaleFrameIsFailure covers a photo left by an earlier run
// when the command exits 0 without writing a new one.
func TestExec_Capture_StaleFrameIsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field_capture.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF}, 0o644))
	e := NewExec([]string{"fswebcam", PathPlaceholder}, path, time.Second, nil)
	e.run = func(context.Context, string, ...string) ([]byte, error) { return nil, nil }

	ok, _ := e.Capture(context.Background())
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "stale frame is removed before capture")
}

func TestExec_Capture_NoCommand(t *testing.T) {
	ok, path := NewExec(nil, "x.jpg", time.Second, nil).Capture(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "x.jpg", path)
}

// TestExec_Capture_DeviceIsExclusive verifies concurrent captures on one device never overlap.
func TestExec_Capture_DeviceIsExclusive(t *testing.T) {
	dir := t.TempDir()
	var active, peak atomic.Int32
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil, os.WriteFile(args[len(args)-1], []byte{1}, 0o644)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		e := NewExec([]string{"fswebcam", "-d", "/dev/video-test", PathPlaceholder}, filepath.Join(dir, "p.jpg"), time.Second, nil)
		e.run = run
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Capture(context.Background())
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, peak.Load())
}

func TestRunCommand_MissingBinary(t *testing.T) {
	_, err := runCommand(context.Background(), "definitely-not-a-capture-binary")
	assert.Error(t, err)
}
