package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ListenFailureIsReturned(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := baseConfig(t.TempDir())
	cfg.Server.Address = busy.Addr().String()

	err = run(contextWithSilentLogger(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), busy.Addr().String())
}
