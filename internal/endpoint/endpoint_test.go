package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		scheme   string
		address  string
		host     string
		port     int
		path     string
		query    string
		fragment string
	}{
		{name: "host port", scheme: "rest", address: "127.0.0.1:8080", host: "127.0.0.1", port: 8080},
		{name: "query", scheme: "rest", address: "0.0.0.0:8080?protocol=http2", host: "0.0.0.0", port: 8080, query: "protocol=http2"},
		{name: "path and fragment", scheme: "grpc", address: "10.1.1.1:7070/root/sub#frag", host: "10.1.1.1", port: 7070, path: "/root/sub", fragment: "frag"},
		{name: "ipv6", scheme: "rest", address: "[::1]:9090", host: "::1", port: 9090},
		{name: "empty host", scheme: "rest", address: ":8080", host: "", port: 8080},
		{name: "hostname", scheme: "rest", address: "localhost:80/x", host: "localhost", port: 80, path: "/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := Parse(tt.scheme, tt.address)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, ep.Scheme)
			assert.Equal(t, tt.host, ep.Host)
			assert.Equal(t, tt.port, ep.Port)
			assert.Equal(t, tt.path, ep.Path)
			assert.Equal(t, tt.query, ep.RawQuery)
			assert.Equal(t, tt.fragment, ep.Fragment)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, addr := range []string{"not a uri", "127.0.0.1", "127.0.0.1:http", "127.0.0.1:70000", ""} {
		t.Run(addr, func(t *testing.T) {
			_, err := Parse("rest", addr)
			assert.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}

func TestString_RoundTrip(t *testing.T) {
	for _, addr := range []string{
		"127.0.0.1:8080",
		"0.0.0.0:8080?protocol=http2",
		"user:pw@10.0.0.1:7070/a/b?x=1&y=2#top",
		"[::1]:9090/path",
	} {
		t.Run(addr, func(t *testing.T) {
			ep, err := Parse("rest", addr)
			require.NoError(t, err)
			assert.Equal(t, "rest://"+addr, ep.String())
		})
	}
}

func TestWithHostPort(t *testing.T) {
	ep, err := Parse("rest", "user@0.0.0.0:7070/api?a=b#f")
	require.NoError(t, err)

	got := ep.WithHostPort("10.0.0.5", 8080)
	assert.Equal(t, "rest://user@10.0.0.5:8080/api?a=b#f", got.String())
	assert.Equal(t, "0.0.0.0", ep.Host, "original must not change")
}

func TestIsWildcardHost(t *testing.T) {
	assert.True(t, IsWildcardHost(""))
	assert.True(t, IsWildcardHost("0.0.0.0"))
	assert.True(t, IsWildcardHost("::"))
	assert.False(t, IsWildcardHost("127.0.0.1"))
	assert.False(t, IsWildcardHost("localhost"))
}
