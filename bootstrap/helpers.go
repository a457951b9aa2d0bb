package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ClassifyConnectionError provides specific error messages based on the type of connection failure.
// service names the backend ("Redis", "MySQL", ...). An empty addr is taken from the dial error when possible.
func ClassifyConnectionError(err error, service, addr string) string {
	if err == nil {
		return ""
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && addr == "" && opErr.Addr != nil {
		addr = opErr.Addr.String()
	}
	if addr == "" {
		addr = "the configured address"
	}

	errStr := strings.ToLower(err.Error())

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", service, addr, service, addr)
	}

	if opErr != nil && opErr.Op == "dial" {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) || strings.Contains(errStr, "connection refused") ||
			strings.Contains(errStr, "actively refused") {
			return fmt.Sprintf("Connection refused by %s at %s.\n"+
				"  This usually means %s is not running.\n"+
				"  Remediation:\n"+
				"  - Start %s or check its container: docker ps\n"+
				"  - Verify host and port in config.yaml\n"+
				"  - On a developer machine, check local_redis and local_database.port", service, addr, service, service)
		}
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration\n"+
			"  - Try using IP address (127.0.0.1) instead of hostname", service, addr)
	}

	if strings.Contains(errStr, "noauth") || strings.Contains(errStr, "wrongpass") ||
		strings.Contains(errStr, "authentication") || strings.Contains(errStr, "access denied") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify username and password in config.yaml\n"+
			"  - Passwords written as secret:<key> are read from the configured secrets provider", service, addr)
	}

	if strings.Contains(errStr, "certificate") || strings.Contains(errStr, "tls") || strings.Contains(errStr, "x509") {
		return fmt.Sprintf("TLS handshake with %s at %s failed.\n"+
			"  Remediation:\n"+
			"  - Check ssl.ca_file and ssl.server_name\n"+
			"  - Run 'backbone fingerprint <ca_file>' to compare the CA with the known certificates", service, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and accessible\n"+
		"  - Verify network connectivity", service, addr, err, service)
}
