package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyConnectionError(t *testing.T) {
	refused := &net.OpError{
		Op:   "dial",
		Net:  "tcp",
		Addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6379},
		Err:  syscall.ECONNREFUSED,
	}

	tests := []struct {
		name     string
		err      error
		service  string
		addr     string
		contains []string
	}{
		{
			name:     "nil error returns empty string",
			err:      nil,
			contains: nil,
		},
		{
			name:     "timeout",
			err:      timeoutError{},
			service:  "Redis",
			addr:     "cache:6379",
			contains: []string{"Connection to Redis at cache:6379 timed out"},
		},
		{
			name:     "connection refused takes address from dial error",
			err:      fmt.Errorf("redis database main not ready: %w", refused),
			service:  "Redis",
			contains: []string{"Connection refused by Redis at 127.0.0.1:6379", "local_redis"},
		},
		{
			name:     "unknown host",
			err:      errors.New("dial tcp: lookup db.internal: no such host"),
			service:  "MySQL",
			addr:     "db.internal:3306",
			contains: []string{"Cannot resolve hostname in MySQL address db.internal:3306"},
		},
		{
			name:     "redis auth",
			err:      errors.New("WRONGPASS invalid username-password pair"),
			service:  "Redis",
			addr:     "cache:6379",
			contains: []string{"Authentication failed for Redis"},
		},
		{
			name:     "mysql auth",
			err:      errors.New("Error 1045 (28000): Access denied for user 'app'@'10.0.0.1'"),
			service:  "MySQL",
			addr:     "db:3306",
			contains: []string{"Authentication failed for MySQL at db:3306"},
		},
		{
			name:     "tls",
			err:      errors.New("x509: certificate signed by unknown authority"),
			service:  "PostgreSQL",
			addr:     "pg:5432",
			contains: []string{"TLS handshake with PostgreSQL", "backbone fingerprint"},
		},
		{
			name:     "fallback without address",
			err:      errors.New("boom"),
			service:  "Redis",
			contains: []string{"Failed to connect to Redis at the configured address: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyConnectionError(tt.err, tt.service, tt.addr)
			if tt.err == nil {
				if got != "" {
					t.Errorf("ClassifyConnectionError(nil) = %q, want empty", got)
				}
				return
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("ClassifyConnectionError() = %q, want it to contain %q", got, want)
				}
			}
		})
	}
}
