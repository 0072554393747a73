package resp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeSuccess(t *testing.T) {
	body := `{"code":0,"message":"success","data":{"stunServers":["stun:a:3478"]}}`

	var cfg struct {
		STUNServers []string `json:"stunServers"`
	}
	require.NoError(t, DecodeSuccess(strings.NewReader(body), &cfg))
	require.Equal(t, []string{"stun:a:3478"}, cfg.STUNServers)
}

func TestDecodeSuccessBusinessError(t *testing.T) {
	body := `{"code":1003,"message":"Rate limit exceeded."}`

	err := DecodeSuccess(strings.NewReader(body), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1003")
}
