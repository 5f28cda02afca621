package grid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CopyClient transfers files with xrdcp. Retry policy belongs to the caller;
// Copy performs exactly one attempt.
type CopyClient struct {
	runner  Runner
	xrdcp   string
	timeout time.Duration
}

// NewCopyClient creates a transfer client. A zero timeout lets a transfer
// run as long as the tool allows.
func NewCopyClient(runner Runner, xrdcpPath string, timeout time.Duration) *CopyClient {
	return &CopyClient{runner: runner, xrdcp: xrdcpPath, timeout: timeout}
}

// Copy transfers src (an xrootd URL) to the local path dst. The destination
// directory is created as needed and any existing file is overwritten, so a
// partial file from a crashed attempt is always replaced, never appended to.
func (c *CopyClient) Copy(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create cache directory for %s: %w", dst, err)
	}

	args := []string{"--force", "--nopbar", src, dst}
	result, err := c.runner.Run(ctx, c.xrdcp, args, c.timeout)
	if err != nil {
		return fmt.Errorf("xrdcp %s: %w", src, err)
	}
	if !result.Ok() {
		return fmt.Errorf("xrdcp %s exited %d: %s", src, result.ExitCode, firstLine(result.Stderr))
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
