package publish

import (
	"fmt"
	"net"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/endpoint"
	"github.com/heytom-labs/heytom-registry/internal/netutil"
)

type fakeNet struct {
	hostAddr string
	hostName string
	ifaces   map[string]string // name -> ip
	names    map[string]string // name -> host name
}

func (f *fakeNet) HostAddress() string { return f.hostAddr }
func (f *fakeNet) HostName() string    { return f.hostName }

func (f *fakeNet) InterfaceAddress(name string) (net.IP, error) {
	ip, ok := f.ifaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", netutil.ErrInterfaceResolution, name)
	}
	return net.ParseIP(ip), nil
}

func (f *fakeNet) InterfaceHostName(name string) (string, error) {
	if _, err := f.InterfaceAddress(name); err != nil {
		return "", err
	}
	return f.names[name], nil
}

func newTestResolver(t *testing.T, settings map[string]any) *Resolver {
	t.Helper()
	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	n := &fakeNet{
		hostAddr: "192.168.0.8",
		hostName: "node-1",
		ifaces:   map[string]string{"eth0": "172.17.0.2"},
		names:    map[string]string{"eth0": "node-1.eth0"},
	}
	return NewResolver(v, n, zaptest.NewLogger(t))
}

func TestParseSetting(t *testing.T) {
	tests := []struct {
		in   string
		want Setting
	}{
		{"", Setting{Kind: Unset}},
		{"   ", Setting{Kind: Unset}},
		{"{eth0}", Setting{Kind: InterfaceRef, Value: "eth0"}},
		{" {eth0} ", Setting{Kind: InterfaceRef, Value: "eth0"}},
		{"10.0.0.5", Setting{Kind: Literal, Value: "10.0.0.5"}},
		{"svc.example.com", Setting{Kind: Literal, Value: "svc.example.com"}},
		{"{", Setting{Kind: Literal, Value: "{"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSetting(tt.in))
		})
	}
}

func TestResolveAddress_UnsetConcreteHostUnchanged(t *testing.T) {
	r := newTestResolver(t, map[string]any{config.PublishPortKey("rest"): 9999})

	for _, addr := range []string{
		"127.0.0.1:8080",
		"10.1.2.3:7070/path?a=1#f",
		"[::1]:9090",
		"localhost:80",
	} {
		t.Run(addr, func(t *testing.T) {
			want, err := endpoint.Parse("rest", addr)
			require.NoError(t, err)

			got, err := r.ResolveAddress("rest", addr)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, "rest://"+addr, got.String(), "publish port only applies with a publish address")
		})
	}
}

func TestResolveAddress_UnsetWildcard(t *testing.T) {
	r := newTestResolver(t, nil)

	got, err := r.ResolveAddress("rest", "0.0.0.0:8080/api?protocol=http2#x")
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.8", got.Host)
	assert.Equal(t, 8080, got.Port)
	assert.Equal(t, "/api", got.Path)
	assert.Equal(t, "protocol=http2", got.RawQuery)
	assert.Equal(t, "x", got.Fragment)

	got, err = r.ResolveAddress("grpc", "[::]:7070")
	require.NoError(t, err)
	assert.Equal(t, "grpc://192.168.0.8:7070", got.String())
}

func TestResolveAddress_LiteralWithPublishPort(t *testing.T) {
	r := newTestResolver(t, map[string]any{
		config.KeyPublishAddress:      "10.0.0.5",
		config.PublishPortKey("rest"): 8080,
	})

	got, err := r.ResolveAddress("rest", "0.0.0.0:7070/root?protocol=http2")
	require.NoError(t, err)
	assert.Equal(t, "rest://10.0.0.5:8080/root?protocol=http2", got.String())

	got, err = r.ResolveAddress("grpc", "0.0.0.0:7070")
	require.NoError(t, err)
	assert.Equal(t, "grpc://10.0.0.5:7070", got.String(), "no override for grpc")
}

func TestResolveAddress_LiteralHostForms(t *testing.T) {
	tests := []struct {
		literal string
		want    string
		wantErr bool
	}{
		{literal: "10.0.0.5", want: "rest://10.0.0.5:7070"},
		{literal: "svc.example.com", want: "rest://svc.example.com:7070"},
		{literal: "fe80::1", want: "rest://[fe80::1]:7070"},
		{literal: "[fe80::1]", want: "rest://[fe80::1]:7070"},
		{literal: "10.0.0.5:9000", wantErr: true},
		{literal: "svc.example.com:9000", wantErr: true},
		{literal: "[fe80::1]:9000", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.literal, func(t *testing.T) {
			r := newTestResolver(t, map[string]any{config.KeyPublishAddress: tt.literal})
			got, err := r.ResolveAddress("rest", "0.0.0.0:7070")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPublishAddress)
				assert.NotErrorIs(t, err, endpoint.ErrInvalidAddress)
				_, err = r.ResolveAddresses("rest", []string{"0.0.0.0:7070"})
				assert.ErrorIs(t, err, ErrInvalidPublishAddress, "aborts, not skipped")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestResolveAddress_InterfaceRef(t *testing.T) {
	r := newTestResolver(t, map[string]any{config.KeyPublishAddress: "{eth0}"})

	got, err := r.ResolveAddress("rest", "0.0.0.0:8080")
	require.NoError(t, err)
	assert.Equal(t, "rest://172.17.0.2:8080", got.String())

	r = newTestResolver(t, map[string]any{config.KeyPublishAddress: "{eth9}"})
	_, err = r.ResolveAddress("rest", "0.0.0.0:8080")
	assert.ErrorIs(t, err, netutil.ErrInterfaceResolution)
	assert.NotErrorIs(t, err, endpoint.ErrInvalidAddress)
}

func TestResolveAddress_Invalid(t *testing.T) {
	r := newTestResolver(t, map[string]any{config.KeyPublishAddress: "10.0.0.5"})

	got, err := r.ResolveAddress("rest", "not a uri")
	assert.ErrorIs(t, err, endpoint.ErrInvalidAddress)
	assert.Equal(t, endpoint.Endpoint{}, got)

	_, err = r.ResolveAddress("rest", "127.0.0.1")
	assert.ErrorIs(t, err, endpoint.ErrInvalidAddress)
}

func TestResolveAddress_Idempotent(t *testing.T) {
	r := newTestResolver(t, nil)

	first, err := r.ResolveAddress("rest", "0.0.0.0:8080/a?b=c")
	require.NoError(t, err)
	second, err := r.ResolveAddress("rest", first.Authority()+"/a?b=c")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveAddresses(t *testing.T) {
	r := newTestResolver(t, nil)

	eps, err := r.ResolveAddresses("rest", []string{"not a uri", "0.0.0.0:8080", "10.0.0.1:81"})
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "rest://192.168.0.8:8080", eps[0].String())
	assert.Equal(t, "rest://10.0.0.1:81", eps[1].String())

	r = newTestResolver(t, map[string]any{config.KeyPublishAddress: "{missing}"})
	_, err = r.ResolveAddresses("rest", []string{"0.0.0.0:8080"})
	assert.ErrorIs(t, err, netutil.ErrInterfaceResolution)
}

func TestResolveHostName(t *testing.T) {
	tests := []struct {
		name    string
		setting string
		address string
		want    string
	}{
		{name: "unset wildcard", address: "0.0.0.0:8080", want: "node-1"},
		{name: "unset concrete", address: "10.0.0.1:8080", want: "10.0.0.1"},
		{name: "literal", setting: "svc.example.com", address: "0.0.0.0:8080", want: "svc.example.com"},
		{name: "interface", setting: "{eth0}", address: "0.0.0.0:8080", want: "node-1.eth0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(t, map[string]any{config.KeyPublishAddress: tt.setting})
			got, err := r.ResolveHostName(tt.address)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	r := newTestResolver(t, map[string]any{config.KeyPublishAddress: "{eth9}"})
	_, err := r.ResolveHostName("0.0.0.0:8080")
	assert.ErrorIs(t, err, netutil.ErrInterfaceResolution)

	_, err = newTestResolver(t, nil).ResolveHostName("bad address")
	assert.ErrorIs(t, err, endpoint.ErrInvalidAddress)
}

func TestPublishAddressAndHostName(t *testing.T) {
	r := newTestResolver(t, nil)
	addr, err := r.PublishAddress()
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.8", addr)
	name, err := r.PublishHostName()
	require.NoError(t, err)
	assert.Equal(t, "node-1", name)

	r = newTestResolver(t, map[string]any{config.KeyPublishAddress: "{eth0}"})
	addr, err = r.PublishAddress()
	require.NoError(t, err)
	assert.Equal(t, "172.17.0.2", addr)
	name, err = r.PublishHostName()
	require.NoError(t, err)
	assert.Equal(t, "node-1.eth0", name)

	r = newTestResolver(t, map[string]any{config.KeyPublishAddress: "{eth9}"})
	_, err = r.PublishAddress()
	assert.ErrorIs(t, err, netutil.ErrInterfaceResolution)
}
