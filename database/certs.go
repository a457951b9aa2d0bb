package database

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"backbone/config"
)

// ErrNoCertificates is returned when a PEM bundle contains no CERTIFICATE block
var ErrNoCertificates = errors.New("no certificates found")

// UnknownCertificate is listed for fingerprints that match no known certificate
const UnknownCertificate = "unknown"

// BuiltinCertificates are always recognised, in addition to database.known_certificates.
var BuiltinCertificates = []config.KnownCertificate{
	{
		Name:        "rds-ca-2015-eu-central-1",
		Provider:    "aws",
		Fingerprint: "63:0F:29:07:BA:DB:16:6B:3F:01:11:3D:D2:B8:94:2C:6C:DA:99:B3:4F:E3:81:E8:7C:01:FC:15:9F:0D:AC:63",
	},
}

// CertificateReport describes one CA certificate found in a server's ca_file.
type CertificateReport struct {
	Name        string `json:"name"`
	Provider    string `json:"provider,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Known       bool   `json:"known"`
}

// Fingerprint returns the SHA-256 fingerprint of a DER encoded certificate in the
// format printed by `openssl x509 -noout -fingerprint -sha256`.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	encoded := strings.ToUpper(hex.EncodeToString(sum[:]))

	pairs := make([]string, 0, len(sum))
	for i := 0; i < len(encoded); i += 2 {
		pairs = append(pairs, encoded[i:i+2])
	}
	return strings.Join(pairs, ":")
}

// PEMFingerprints fingerprints every CERTIFICATE block in data, in file order.
func PEMFingerprints(data []byte) ([]string, error) {
	var fingerprints []string
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		fingerprints = append(fingerprints, Fingerprint(block.Bytes))
	}
	if len(fingerprints) == 0 {
		return nil, ErrNoCertificates
	}
	return fingerprints, nil
}

// MatchCertificate looks fingerprint up in known. Comparison ignores case.
func MatchCertificate(fingerprint string, known []config.KnownCertificate) (config.KnownCertificate, bool) {
	for _, k := range known {
		if strings.EqualFold(k.Fingerprint, fingerprint) {
			return k, true
		}
	}
	return config.KnownCertificate{}, false
}

// KnownCertificates returns the built-in list followed by the configured additions.
func KnownCertificates(cfg *config.Config) []config.KnownCertificate {
	known := make([]config.KnownCertificate, 0, len(BuiltinCertificates)+len(cfg.Database.KnownCertificates))
	known = append(known, BuiltinCertificates...)
	return append(known, cfg.Database.KnownCertificates...)
}

// InspectCAFile fingerprints the certificates in path and names the known ones.
func InspectCAFile(path string, known []config.KnownCertificate) ([]CertificateReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	return InspectPEM(data, known)
}

// InspectPEM is InspectCAFile for an in-memory bundle.
func InspectPEM(data []byte, known []config.KnownCertificate) ([]CertificateReport, error) {
	fingerprints, err := PEMFingerprints(data)
	if err != nil {
		return nil, err
	}

	reports := make([]CertificateReport, 0, len(fingerprints))
	for _, fp := range fingerprints {
		report := CertificateReport{Name: UnknownCertificate, Fingerprint: fp}
		if match, ok := MatchCertificate(fp, known); ok {
			report.Name = match.Name
			report.Provider = match.Provider
			report.Known = true
		}
		reports = append(reports, report)
	}
	return reports, nil
}
