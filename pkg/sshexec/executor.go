// Package sshexec executes validated shell commands on the remediation
// fleet. One cached SSH connection per host is reused across calls; a host
// whose address resolves to the local machine runs commands via a local
// subprocess instead.
package sshexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/homelab-ops/remedy/pkg/config"
)

// connectRetries bounds SSH dial attempts per call. Command timeouts are the
// command's fault and are never retried.
const connectRetries = 3

// ErrUnknownHost is returned for hosts outside the configured fleet.
var ErrUnknownHost = errors.New("unknown host")

// ConnectionObserver is notified about SSH connect outcomes. The host
// monitor implements it to drive availability state.
type ConnectionObserver interface {
	RecordSuccess(host string)
	RecordFailure(host string, err error)
}

// Result is the outcome of executing a command batch on one host.
//
// Three shapes: SSH failure (Error set, Outputs empty, ExitCodes [-1]);
// command failure (partial arrays, Success false); success (all zero exits).
type Result struct {
	Success   bool
	Outputs   []string
	ExitCodes []int
	Duration  time.Duration
	Error     string
}

// Executor runs command batches over pooled SSH connections.
type Executor struct {
	hosts          map[string]config.SSHHost
	connectTimeout time.Duration

	observer ConnectionObserver

	mu    sync.Mutex
	conns map[string]*ssh.Client
	locks map[string]*sync.Mutex // single-flight per host
}

// New creates an Executor over the closed host set.
func New(hosts []config.SSHHost, connectTimeout time.Duration) *Executor {
	m := make(map[string]config.SSHHost, len(hosts))
	locks := make(map[string]*sync.Mutex, len(hosts))
	for _, h := range hosts {
		key := strings.ToLower(h.Name)
		m[key] = h
		locks[key] = &sync.Mutex{}
	}
	return &Executor{
		hosts:          m,
		connectTimeout: connectTimeout,
		conns:          make(map[string]*ssh.Client),
		locks:          locks,
	}
}

// SetObserver wires the host monitor. May be nil.
func (e *Executor) SetObserver(obs ConnectionObserver) { e.observer = obs }

// Execute runs the commands sequentially on the host, stopping at the first
// non-zero exit. Arrays are partial on early stop. The timeout applies per
// command.
func (e *Executor) Execute(ctx context.Context, host string, cmds []string, timeout time.Duration) *Result {
	start := time.Now()
	key := strings.ToLower(host)
	cfg, ok := e.hosts[key]
	if !ok {
		return &Result{
			Success:   false,
			Outputs:   []string{},
			ExitCodes: []int{-1},
			Duration:  time.Since(start),
			Error:     fmt.Sprintf("%v: %s", ErrUnknownHost, host),
		}
	}

	lock := e.locks[key]
	lock.Lock()
	defer lock.Unlock()

	if isLocalAddress(cfg.Address) {
		return e.executeLocal(ctx, cmds, timeout, start)
	}

	client, err := e.connectWithRetry(ctx, key, cfg)
	if err != nil {
		return &Result{
			Success:   false,
			Outputs:   []string{},
			ExitCodes: []int{-1},
			Duration:  time.Since(start),
			Error:     fmt.Sprintf("ssh connect %s: %v", host, err),
		}
	}

	res := &Result{Success: true}
	for _, cmd := range cmds {
		output, exitCode, err := runRemote(ctx, client, cmd, timeout)
		res.Outputs = append(res.Outputs, output)
		res.ExitCodes = append(res.ExitCodes, exitCode)
		if err != nil && exitCode < 0 {
			// Transport-level failure mid-batch; drop the cached
			// connection so the next call rebuilds it.
			e.dropConnection(key)
			res.Success = false
			res.Error = err.Error()
			break
		}
		if exitCode != 0 {
			res.Success = false
			res.Error = fmt.Sprintf("command %q exited %d", cmd, exitCode)
			break
		}
	}
	res.Duration = time.Since(start)
	return res
}

// connectWithRetry returns a cached live connection or dials a new one with
// exponential backoff (2·2^attempt seconds).
func (e *Executor) connectWithRetry(ctx context.Context, key string, cfg config.SSHHost) (*ssh.Client, error) {
	e.mu.Lock()
	client, ok := e.conns[key]
	e.mu.Unlock()
	if ok && connectionAlive(client) {
		return client, nil
	}
	e.dropConnection(key)

	var lastErr error
	for attempt := 0; attempt < connectRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(2<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		client, err := e.dial(cfg)
		if err == nil {
			e.mu.Lock()
			e.conns[key] = client
			e.mu.Unlock()
			if e.observer != nil {
				e.observer.RecordSuccess(cfg.Name)
			}
			return client, nil
		}
		lastErr = err
		slog.Warn("SSH connect failed", "host", cfg.Name, "attempt", attempt+1, "error", err)
	}
	if e.observer != nil {
		e.observer.RecordFailure(cfg.Name, lastErr)
	}
	return nil, lastErr
}

func (e *Executor) dial(cfg config.SSHHost) (*ssh.Client, error) {
	keyBytes, err := os.ReadFile(expandHome(cfg.KeyPath))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	addr := cfg.Address
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // closed homelab fleet
		Timeout:         e.connectTimeout,
	}
	return ssh.Dial("tcp", addr, clientCfg)
}

func (e *Executor) dropConnection(key string) {
	e.mu.Lock()
	if client, ok := e.conns[key]; ok {
		_ = client.Close()
		delete(e.conns, key)
	}
	e.mu.Unlock()
}

// Close tears down all cached connections.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, client := range e.conns {
		_ = client.Close()
		delete(e.conns, key)
	}
}

// Hosts returns the configured host names.
func (e *Executor) Hosts() []string {
	names := make([]string, 0, len(e.hosts))
	for _, h := range e.hosts {
		names = append(names, h.Name)
	}
	return names
}

// HasHost reports whether the host is part of the fleet.
func (e *Executor) HasHost(host string) bool {
	_, ok := e.hosts[strings.ToLower(host)]
	return ok
}

// runRemote executes one command in a fresh session with a hard timeout.
// Returns exitCode -1 for transport failures (retriable connect class) and
// -2 for command timeouts (never retried).
func runRemote(ctx context.Context, client *ssh.Client, cmd string, timeout time.Duration) (string, int, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", -1, fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = session.Close() }()

	type outcome struct {
		output []byte
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- outcome{output: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return "", -2, fmt.Errorf("command %q cancelled: %w", cmd, ctx.Err())
	case <-timer.C:
		_ = session.Close()
		return "", -2, fmt.Errorf("command %q timed out after %s", cmd, timeout)
	case oc := <-done:
		output := string(oc.output)
		if oc.err == nil {
			return output, 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(oc.err, &exitErr) {
			return output, exitErr.ExitStatus(), nil
		}
		return output, -1, fmt.Errorf("run %q: %w", cmd, oc.err)
	}
}

// executeLocal runs the batch via local subprocesses (the engine is running
// on the box it is remediating).
func (e *Executor) executeLocal(ctx context.Context, cmds []string, timeout time.Duration, start time.Time) *Result {
	res := &Result{Success: true}
	for _, cmd := range cmds {
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := exec.CommandContext(cmdCtx, "sh", "-c", cmd).CombinedOutput()
		cancel()

		exitCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		res.Outputs = append(res.Outputs, string(out))
		res.ExitCodes = append(res.ExitCodes, exitCode)
		if exitCode != 0 {
			res.Success = false
			res.Error = fmt.Sprintf("command %q exited %d", cmd, exitCode)
			break
		}
	}
	res.Duration = time.Since(start)
	return res
}

// connectionAlive probes the cached connection with a keepalive request.
func connectionAlive(client *ssh.Client) bool {
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func isLocalAddress(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	if hostname, err := os.Hostname(); err == nil && strings.EqualFold(host, hostname) {
		return true
	}
	return false
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
