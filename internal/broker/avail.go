package broker

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// InstallStatus is the result of the tool-installed check.
type InstallStatus struct {
	Installed bool
	Version   string
	Err       string
}

// AuthStatus is the result of the credential check.
type AuthStatus struct {
	Authenticated bool
	Account       string
	Err           string
}

// Availability is the cached composite of both checks.
type Availability struct {
	Installed     bool
	Version       string
	Authenticated bool
	Account       string
	Err           string
	CheckedAt     time.Time
}

// CommandRunner executes a short-lived diagnostic command and returns its
// combined outcome. Injectable so the checker can be tested without a CLI.
type CommandRunner func(ctx context.Context, bin string, args ...string) (stdout string, stderr string, err error)

func execCommand(ctx context.Context, bin string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.String(), errb.String(), err
}

// Checker probes the external CLI for installation and authentication.
// Results are cached for a short staleness window so the CLI is not
// re-invoked on every request. Both checks are advisory: a passing check is
// not a guarantee that a subsequent spawn will succeed.
type Checker struct {
	bin string
	ttl time.Duration
	run CommandRunner

	mu        sync.Mutex
	cached    Availability
	haveCache bool
}

// NewChecker builds a Checker for bin with the given staleness window.
// run may be nil to use the real CLI.
func NewChecker(bin string, ttl time.Duration, run CommandRunner) *Checker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if run == nil {
		run = execCommand
	}
	return &Checker{bin: bin, ttl: ttl, run: run}
}

const checkTimeout = 10 * time.Second

// CheckInstalled invokes the CLI's version entry point. Never returns an
// error: launch failures and non-zero exits yield Installed=false with a
// diagnostic.
func (c *Checker) CheckInstalled(ctx context.Context) InstallStatus {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	out, errOut, err := c.run(ctx, c.bin, "--version")
	if err != nil {
		return InstallStatus{Err: diagnostic(err, errOut)}
	}
	version := strings.TrimSpace(out)
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = strings.TrimSpace(version[:i])
	}
	return InstallStatus{Installed: true, Version: version}
}

// CheckAuthenticated invokes the CLI's credential-status entry point. Same
// non-throwing contract as CheckInstalled.
func (c *Checker) CheckAuthenticated(ctx context.Context) AuthStatus {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	out, errOut, err := c.run(ctx, c.bin, "auth", "status")
	if err != nil {
		return AuthStatus{Err: diagnostic(err, errOut)}
	}
	return AuthStatus{Authenticated: true, Account: parseAccount(out)}
}

// Refresh returns the cached availability, re-running both checks when the
// cache is stale or force is set.
func (c *Checker) Refresh(ctx context.Context, force bool) Availability {
	c.mu.Lock()
	if !force && c.haveCache && time.Since(c.cached.CheckedAt) < c.ttl {
		av := c.cached
		c.mu.Unlock()
		return av
	}
	c.mu.Unlock()

	av := Availability{CheckedAt: time.Now()}
	inst := c.CheckInstalled(ctx)
	av.Installed = inst.Installed
	av.Version = inst.Version
	av.Err = inst.Err
	if inst.Installed {
		auth := c.CheckAuthenticated(ctx)
		av.Authenticated = auth.Authenticated
		av.Account = auth.Account
		if auth.Err != "" {
			av.Err = auth.Err
		}
	}

	c.mu.Lock()
	c.cached = av
	c.haveCache = true
	c.mu.Unlock()
	return av
}

func diagnostic(err error, stderr string) string {
	msg := err.Error()
	if s := strings.TrimSpace(stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// parseAccount extracts the account identifier from the auth-status output.
// The CLI prints a line of the form "Logged in as <account>"; absent that,
// the account is left empty.
func parseAccount(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if rest, ok := strings.CutPrefix(lower, "logged in as "); ok {
			return strings.TrimSpace(line[len(line)-len(rest):])
		}
	}
	return ""
}
