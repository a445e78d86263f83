package validate

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daedalos/fetchproxy/internal/proxy/errs"
)

func kindOf(err error) errs.Kind {
	return errs.KindOf(err)
}

func TestValidateBlocksLiteralIPs(t *testing.T) {
	v := New(Config{})

	urls := []string{
		"http://127.0.0.1/",
		"http://10.0.0.1/",
		"http://169.254.1.1/",
		"http://192.168.1.1/",
		"http://172.16.0.1/",
		"http://0.0.0.0/",
		"http://[::1]/",
		"http://[fc00::1]/",
		"http://[fe80::1]/",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			_, err := v.Validate(context.Background(), u)
			require.Error(t, err)
			assert.Equal(t, errs.BlockedHost, kindOf(err))
		})
	}
}

func TestValidateBlocksLocalNames(t *testing.T) {
	v := New(Config{})

	for _, u := range []string{
		"http://localhost/",
		"http://localhost:8080/admin",
		"http://LOCALHOST/",
		"http://localhost./",
		"http://foo.localhost/",
		"http://deep.nested.localhost/",
	} {
		t.Run(u, func(t *testing.T) {
			_, err := v.Validate(context.Background(), u)
			require.Error(t, err)
			assert.Equal(t, errs.BlockedHost, kindOf(err))
		})
	}
}

func TestValidateRejectsInvalidURLs(t *testing.T) {
	v := New(Config{})

	for _, u := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"javascript:alert(1)",
		"://missing-scheme",
		"http://",
		"",
	} {
		t.Run(u, func(t *testing.T) {
			_, err := v.Validate(context.Background(), u)
			require.Error(t, err)
			assert.Equal(t, errs.InvalidURL, kindOf(err))
		})
	}
}

func TestValidateDNSRebinding(t *testing.T) {
	public := net.ParseIP("93.184.216.34")
	private := net.ParseIP("10.0.0.5")

	t.Run("one private record poisons the name", func(t *testing.T) {
		v := New(Config{Lookup: func(_ context.Context, _ string) ([]net.IP, error) {
			return []net.IP{public, private}, nil
		}})

		_, err := v.Validate(context.Background(), "http://evil.example/")
		require.Error(t, err)
		assert.Equal(t, errs.BlockedHost, kindOf(err))
	})

	t.Run("public records pass", func(t *testing.T) {
		v := New(Config{Lookup: func(_ context.Context, _ string) ([]net.IP, error) {
			return []net.IP{public}, nil
		}})

		target, err := v.Validate(context.Background(), "http://good.example/page")
		require.NoError(t, err)
		assert.Equal(t, "good.example", target.Hostname)
		require.Len(t, target.IPs, 1)
		assert.True(t, target.IPs[0].Equal(public))
	})

	t.Run("zero records", func(t *testing.T) {
		v := New(Config{Lookup: func(_ context.Context, _ string) ([]net.IP, error) {
			return nil, nil
		}})

		_, err := v.Validate(context.Background(), "http://nowhere.example/")
		require.Error(t, err)
		assert.Equal(t, errs.DNSResolutionFailed, kindOf(err))
	})

	t.Run("resolution error", func(t *testing.T) {
		v := New(Config{Lookup: func(_ context.Context, host string) ([]net.IP, error) {
			return nil, &net.DNSError{Err: "no such host", Name: host}
		}})

		_, err := v.Validate(context.Background(), "http://gone.example/")
		require.Error(t, err)
		assert.Equal(t, errs.DNSResolutionFailed, kindOf(err))
	})
}

func TestAllowLoopback(t *testing.T) {
	v := New(Config{AllowLoopback: true})

	t.Run("loopback exempted", func(t *testing.T) {
		target, err := v.Validate(context.Background(), "http://127.0.0.1:8080/")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", target.Hostname)
	})

	t.Run("other private ranges still blocked", func(t *testing.T) {
		_, err := v.Validate(context.Background(), "http://10.0.0.1/")
		require.Error(t, err)
		assert.Equal(t, errs.BlockedHost, kindOf(err))
	})
}

func TestCheckHostLiteralIPs(t *testing.T) {
	v := New(Config{})

	t.Run("public v4", func(t *testing.T) {
		ips, err := v.CheckHost(context.Background(), "93.184.216.34")
		require.NoError(t, err)
		require.Len(t, ips, 1)
	})

	t.Run("public v6", func(t *testing.T) {
		ips, err := v.CheckHost(context.Background(), "2606:2800:220:1:248:1893:25c8:1946")
		require.NoError(t, err)
		require.Len(t, ips, 1)
	})

	t.Run("edge of 172.16/12", func(t *testing.T) {
		_, err := v.CheckHost(context.Background(), "172.31.255.255")
		assert.Equal(t, errs.BlockedHost, kindOf(err))

		ips, err := v.CheckHost(context.Background(), "172.32.0.1")
		require.NoError(t, err)
		require.Len(t, ips, 1)
	})
}
