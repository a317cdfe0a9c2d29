package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSocksClient_Direct(t *testing.T) {
	c, err := NewSocksClient("")
	require.NoError(t, err)
	assert.Nil(t, c.Transport)
	assert.Equal(t, clientTimeout, c.Timeout)
}

func TestNewSocksClient_Proxy(t *testing.T) {
	c, err := NewSocksClient("127.0.0.1:1080")
	require.NoError(t, err)
	assert.IsType(t, &http.Transport{}, c.Transport)
}
