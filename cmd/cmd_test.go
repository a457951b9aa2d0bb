package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"backbone/database"
	"backbone/jobs"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, cmd := range parent.Commands() {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

// run executes the root command with args and returns its stdout
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(jobs.SetupOptions{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, mr *miniredis.Miniredis) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`environment: test
log:
  level: error
redis:
  servers:
    - server: main
      host: %s
      port: %s
      password: hunter2
  databases:
    - name: jobProcessing
      server: main
      db: 0
queue:
  redis:
    server: main
    database: jobProcessing
  job_list_watch_key: .jobWatch
  job_lists:
    - job_list: emails
database:
  servers:
    - server: local
      driver: sqlite
      database: ":memory:"
`, mr.Host(), mr.Port())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeCertificate(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-ca"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	sum := sha256.Sum256(der)
	return path, strings.ToUpper(hex.EncodeToString(sum[:]))
}

func TestRootCommandStructure(t *testing.T) {
	root := NewRootCmd(jobs.SetupOptions{})
	assert.Equal(t, "backbone", root.Use)

	for _, name := range []string{"serve", "check", "enqueue", "fingerprint", "config"} {
		assert.NotNil(t, findCommand(root, name), "Missing command: %s", name)
	}
	for _, flag := range []string{"json", "config", "no-color", "quiet"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "Missing flag: %s", flag)
	}

	enqueue := findCommand(root, "enqueue")
	for _, flag := range []string{"payload", "name", "job-id", "identifier", "environment", "job-lists", "no-watch-list"} {
		assert.NotNil(t, enqueue.Flags().Lookup(flag), "Missing enqueue flag: %s", flag)
	}
	assert.NotNil(t, findCommand(findCommand(root, "config"), "show"))
}

func TestFingerprintCommand(t *testing.T) {
	path, digest := writeCertificate(t)

	out, err := run(t, "fingerprint", path)
	require.NoError(t, err)
	assert.Contains(t, out, database.UnknownCertificate)
	assert.Contains(t, strings.ReplaceAll(out, ":", ""), digest)
}

func TestFingerprintCommand_JSONNamesKnownCertificate(t *testing.T) {
	path, digest := writeCertificate(t)

	pairs := make([]string, 0, len(digest)/2)
	for i := 0; i < len(digest); i += 2 {
		pairs = append(pairs, digest[i:i+2])
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`environment: test
database:
  known_certificates:
    - name: internal-ca
      provider: self
      fingerprint: "%s"
`, strings.Join(pairs, ":"))), 0o600))

	out, err := run(t, "--config", cfgPath, "--json", "fingerprint", path)
	require.NoError(t, err)

	var reports []database.CertificateReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "internal-ca", reports[0].Name)
	assert.True(t, reports[0].Known)
}

func TestFingerprintCommand_NotPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(path, []byte("nothing here"), 0o600))

	_, err := run(t, "fingerprint", path)
	assert.ErrorIs(t, err, database.ErrNoCertificates)
}

func TestConfigShowMasksPasswords(t *testing.T) {
	mr := miniredis.RunT(t)
	path := writeConfig(t, mr)

	out, err := run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "environment: test")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "hunter2")
}

func TestEnqueueCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")
	path := writeConfig(t, mr)

	out, err := run(t, "--config", path, "--json", "enqueue", "emails",
		"--payload", `{"customerId":"c1","count":2}`, "--identifier", "customerId")
	require.NoError(t, err)

	var res jobs.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "1", res.JobID)
	assert.Equal(t, "test.emails", res.QueueName)
	assert.Equal(t, "test.jobWatch:c1", res.WatchListKey)

	list, err := mr.List("bull:test.emails:wait")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, list)
	assert.Equal(t, "test.emails", mr.HGet("test.jobWatch:c1", "1"))
}

func TestEnqueueCommand_NumericIdentifierAndJobID(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")
	path := writeConfig(t, mr)

	out, err := run(t, "--config", path, "--json", "enqueue", "emails",
		"--payload", `{"customerId":1000000,"jobId":2500000}`, "--identifier", "customerId")
	require.NoError(t, err)

	var res jobs.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "2500000", res.JobID)
	assert.Equal(t, "test.jobWatch:1000000", res.WatchListKey)
	assert.Equal(t, "test.emails", mr.HGet("test.jobWatch:1000000", "2500000"))
}

func TestEnqueueCommand_UnknownJobList(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")
	path := writeConfig(t, mr)

	_, err := run(t, "--config", path, "--quiet", "enqueue", "missing")
	assert.ErrorIs(t, err, jobs.ErrJobListNotDefined)
}

func TestEnqueueCommand_InvalidPayload(t *testing.T) {
	_, err := run(t, "enqueue", "emails", "--payload", "{")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --payload")
}

func TestCheckCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")
	path := writeConfig(t, mr)

	out, err := run(t, "--config", path, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "REDIS")
	assert.Contains(t, out, "redis:jobProcessing")
	assert.Contains(t, out, "database:local")
	assert.Contains(t, out, "queue:test.emails")
	assert.NotContains(t, out, "FAILED")
}

func TestCheckCommand_JSON(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")
	path := writeConfig(t, mr)

	out, err := run(t, "--config", path, "--json", "check", "--progress=false")
	require.NoError(t, err)

	var results []checkResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.OK, r.Name)
	}
}
