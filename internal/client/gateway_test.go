package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinWSPath(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080":      "ws://localhost:8080/ws",
		"wss://chat.example.org":   "wss://chat.example.org/ws",
		"http://localhost:8080":    "ws://localhost:8080/ws",
		"https://chat.example.org": "wss://chat.example.org/ws",
		"ws://localhost:8080/":     "ws://localhost:8080/ws",
	}
	for in, want := range cases {
		got, err := joinWSPath(in, "/ws")
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}

	_, err := joinWSPath("ftp://nope", "/ws")
	require.Error(t, err)
}

func TestHTTPBase(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080":      "http://localhost:8080",
		"wss://chat.example.org":   "https://chat.example.org",
		"http://localhost:8080/":   "http://localhost:8080",
		"https://chat.example.org": "https://chat.example.org",
	}
	for in, want := range cases {
		got, err := httpBase(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
}
