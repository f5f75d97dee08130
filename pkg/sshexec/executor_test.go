package sshexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/remedy/pkg/config"
)

func localExecutor() *Executor {
	return New([]config.SSHHost{
		{Name: "local", Address: "127.0.0.1", User: "root", KeyPath: "/nonexistent"},
	}, time.Second)
}

func TestExecuteUnknownHost(t *testing.T) {
	e := New(nil, time.Second)
	res := e.Execute(context.Background(), "ghost", []string{"uptime"}, time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, []int{-1}, res.ExitCodes)
	assert.Empty(t, res.Outputs)
	assert.Contains(t, res.Error, "unknown host")
}

func TestExecuteLocalFallback(t *testing.T) {
	e := localExecutor()
	res := e.Execute(context.Background(), "local", []string{"echo hello", "echo world"}, 5*time.Second)
	require.True(t, res.Success, "error: %s", res.Error)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, []int{0, 0}, res.ExitCodes)
	assert.Contains(t, res.Outputs[0], "hello")
	assert.Contains(t, res.Outputs[1], "world")
}

func TestExecuteLocalStopsAtFirstFailure(t *testing.T) {
	e := localExecutor()
	res := e.Execute(context.Background(), "local",
		[]string{"echo one", "exit 3", "echo never"}, 5*time.Second)
	assert.False(t, res.Success)
	// Partial parallel arrays: the third command never ran.
	require.Len(t, res.Outputs, 2)
	require.Len(t, res.ExitCodes, 2)
	assert.Equal(t, 3, res.ExitCodes[1])
	assert.Contains(t, res.Error, "exited 3")
}

func TestHasHost(t *testing.T) {
	e := localExecutor()
	assert.True(t, e.HasHost("local"))
	assert.True(t, e.HasHost("LOCAL"))
	assert.False(t, e.HasHost("nas"))
}

func TestIsLocalAddress(t *testing.T) {
	assert.True(t, isLocalAddress("localhost"))
	assert.True(t, isLocalAddress("127.0.0.1"))
	assert.True(t, isLocalAddress("127.0.0.1:22"))
	assert.True(t, isLocalAddress("::1"))
	assert.False(t, isLocalAddress("192.168.1.50"))
}

func TestRestartCommand(t *testing.T) {
	assert.Equal(t, "docker restart caddy", RestartCommand(ServiceKindDocker, "caddy"))
	assert.Equal(t, "systemctl restart nginx", RestartCommand(ServiceKindSystemd, "nginx"))
}
