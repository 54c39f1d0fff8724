package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMain(t *testing.T) {
	out := bytes.NewBuffer([]byte{})
	errout := bytes.NewBuffer([]byte{})
	rc := 0
	exit := func(c int) {
		rc = c
	}

	realMain([]string{"p11mac-tool", "version"}, out, errout, exit)
	assert.Equal(t, 80, rc)
	assert.Equal(t, "p11mac-tool: error: unexpected argument version\n", errout.String())
	assert.Empty(t, out.String())
}

func TestMainHmac(t *testing.T) {
	out := bytes.NewBuffer([]byte{})
	errout := bytes.NewBuffer([]byte{})
	exit := func(c int) {}

	realMain([]string{
		"p11mac-tool",
		"--cfg=testtoken",
		"hmac", "HMAC-SHA256",
		"--key=key",
		"--data=The quick brown fox jumps over the lazy dog",
	}, out, errout, exit)
	assert.Contains(t, out.String(),
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8")
}
