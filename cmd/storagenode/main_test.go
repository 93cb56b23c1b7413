package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvertiseAddr(t *testing.T) {
	for _, tc := range []struct {
		listen, route, want string
	}{
		// -listen moved the node to another port
		{"127.0.0.1:7055", "127.0.0.1:6055", "127.0.0.1:7055"},
		{"[::]:7055", "10.0.0.2:6055", "10.0.0.2:7055"},
		{"0.0.0.0:6055", "10.0.0.2:6055", "10.0.0.2:6055"},
		{"10.0.0.9:6055", "10.0.0.2:6055", "10.0.0.9:6055"},
		{"[::]:7055", ":6055", "127.0.0.1:7055"},
		{"node-s2:6055", "10.0.0.2:6055", "node-s2:6055"},
	} {
		require.Equal(t, tc.want, advertiseAddr(tc.listen, tc.route), tc.listen)
	}
}
