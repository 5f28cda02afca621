package grid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clip-hep/samplecache/internal/logger"
)

// DefaultProxyValidity is the lifetime requested for a fresh proxy.
const DefaultProxyValidity = 192 * time.Hour

// Proxy manages the VOMS grid proxy credential used by remote transfers.
type Proxy struct {
	runner  Runner
	infoBin string
	initBin string

	// Path is where the proxy file lives; exported to X509_USER_PROXY.
	Path string

	// VO is the virtual organisation, "cms" by default.
	VO string
}

// NewProxy creates a proxy manager.
func NewProxy(runner Runner, bins *Binaries, path, vo string) *Proxy {
	if vo == "" {
		vo = "cms"
	}
	return &Proxy{
		runner:  runner,
		infoBin: bins.VomsProxyInfo,
		initBin: bins.VomsProxyInit,
		Path:    path,
		VO:      vo,
	}
}

// EnsureValid checks the proxy and refreshes it when it is missing, not
// RFC3820, bound to the wrong VO, or valid for less than minValidity. On
// success X509_USER_PROXY points at the proxy file so the transfer tools
// pick it up.
func (p *Proxy) EnsureValid(ctx context.Context, minValidity time.Duration) error {
	if !p.check(ctx, minValidity) {
		if err := p.renew(ctx); err != nil {
			return err
		}
	}
	return os.Setenv("X509_USER_PROXY", p.Path)
}

// check reports whether the existing proxy file satisfies the requirements.
func (p *Proxy) check(ctx context.Context, minValidity time.Duration) bool {
	if _, err := os.Stat(p.Path); err != nil {
		return false
	}

	args := []string{"--type", "--vo", "--timeleft", "--file", p.Path}
	result, err := p.runner.Run(ctx, p.infoBin, args, time.Minute)
	if err != nil || !result.Ok() {
		logger.Debug("voms-proxy-info failed", "exit", result.ExitCode, "error", err)
		return false
	}

	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	if len(lines) < 3 {
		logger.Debug("unexpected voms-proxy-info output", "lines", len(lines))
		return false
	}

	if !strings.HasPrefix(lines[0], "RFC3820 ") {
		logger.Debug("proxy is not RFC3820 compliant")
		return false
	}

	vo := strings.TrimSpace(lines[1])
	if vo != p.VO {
		logger.Warn("proxy bound to wrong VO", "vo", vo, "want", p.VO)
		return false
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(lines[2]), 64)
	if err != nil {
		logger.Debug("proxy has no valid time information", "error", err)
		return false
	}
	left := time.Duration(seconds) * time.Second
	if left < minValidity {
		logger.Debug("proxy validity too short", "left", left, "min", minValidity)
		return false
	}

	return true
}

// renew obtains a fresh proxy with voms-proxy-init.
func (p *Proxy) renew(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return fmt.Errorf("create proxy directory: %w", err)
	}

	hours := int(DefaultProxyValidity / time.Hour)
	args := []string{
		"--rfc",
		"--voms", p.VO,
		"--valid", fmt.Sprintf("%d:0", hours),
		"--out", p.Path,
	}
	result, err := p.runner.Run(ctx, p.initBin, args, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("voms-proxy-init: %w", err)
	}
	if !result.Ok() {
		return fmt.Errorf("voms-proxy-init exited %d: %s", result.ExitCode, firstLine(result.Stderr))
	}

	logger.Info("obtained new VOMS proxy", "path", p.Path, "vo", p.VO)
	return nil
}
