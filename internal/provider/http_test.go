package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCredentialAlwaysReturnsSameKey(t *testing.T) {
	c := StaticCredential("sk-fixed")
	assert.Equal(t, "sk-fixed", c.Next())
	assert.Equal(t, "sk-fixed", c.Next())
}

func TestRoundRobinCredentialsCycles(t *testing.T) {
	c := NewRoundRobinCredentials([]string{"key-a", "key-b", "key-c"})
	assert.Equal(t, "key-a", c.Next())
	assert.Equal(t, "key-b", c.Next())
	assert.Equal(t, "key-c", c.Next())
	assert.Equal(t, "key-a", c.Next())
}

func TestRoundRobinCredentialsPanicsOnEmptyPool(t *testing.T) {
	assert.Panics(t, func() { NewRoundRobinCredentials(nil) })
}

func TestHTTPProviderAPIKeyPrefersCredentials(t *testing.T) {
	p := NewHTTPProvider(HTTPProviderConfig{
		Name:        "test",
		APIKey:      "static-key",
		Credentials: NewRoundRobinCredentials([]string{"rotating-key"}),
	}, nil, nil)
	require.Equal(t, "rotating-key", p.apiKey())
}

func TestHTTPProviderAPIKeyFallsBackWithoutCredentials(t *testing.T) {
	p := NewHTTPProvider(HTTPProviderConfig{Name: "test", APIKey: "static-key"}, nil, nil)
	require.Equal(t, "static-key", p.apiKey())
}
