// Package identity implements DropTea's trust-on-first-use identity model:
// a persistent self-signed certificate per node, a known-hosts fingerprint
// store, and a whitelist of previously-accepted senders.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"lukechampine.com/blake3"
)

// Fingerprint is the BLAKE3 hex digest of a DER-encoded certificate.
type Fingerprint string

// Decision is the outcome of a user-arbitrated trust prompt.
type Decision int

const (
	Reject Decision = iota
	Accept
)

// ErrFingerprintMismatch is returned by VerifyServerCert when a peer's
// certificate rotates or is being impersonated and arbitration refuses it.
var ErrFingerprintMismatch = errors.New("identity: fingerprint mismatch")

// Arbiter asks the host to resolve a first-contact or rotated certificate.
// A nil Arbiter means "always accept on first contact, always reject on
// rotation" per the TOFU policy in the specification.
type Arbiter interface {
	VerifyCertificate(peerID string, fp Fingerprint, filename string) (Decision, error)
}

const securityDirName = "security"

// CalculateFingerprint hashes a DER-encoded certificate with BLAKE3 and
// returns its hex digest.
func CalculateFingerprint(certDER []byte) Fingerprint {
	sum := blake3.Sum256(certDER)
	return Fingerprint(fmt.Sprintf("%x", sum[:]))
}

// Store is the on-disk identity, known-hosts, and whitelist state for one
// node. All disk writes happen under the write lock so a crash right after
// an in-memory insert still leaves the file consistent with what the
// insert observed.
type Store struct {
	mu sync.RWMutex

	dir     string
	arbiter Arbiter
	log     *zap.Logger

	knownHosts map[string]Fingerprint
	whitelist  map[string]struct{}
}

type knownHostsFile struct {
	Hosts map[string]string `json:"hosts"`
}

type whitelistFile struct {
	TrustedSenders []string `json:"trusted_senders"`
}

// NewStore opens (creating if necessary) the trust store rooted at
// <storagePath>/security.
func NewStore(storagePath string, arbiter Arbiter, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dir := filepath.Join(storagePath, securityDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("identity: cannot create security directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		arbiter:    arbiter,
		log:        log,
		knownHosts: make(map[string]Fingerprint),
		whitelist:  make(map[string]struct{}),
	}

	if err := s.loadKnownHosts(); err != nil {
		return nil, err
	}
	if err := s.loadWhitelist(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) knownHostsPath() string { return filepath.Join(s.dir, "known_hosts.json") }
func (s *Store) whitelistPath() string  { return filepath.Join(s.dir, "whitelist.json") }

func (s *Store) loadKnownHosts() error {
	data, err := os.ReadFile(s.knownHostsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("identity: cannot read known_hosts.json: %w", err)
	}

	var f knownHostsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("identity: cannot parse known_hosts.json: %w", err)
	}

	for k, v := range f.Hosts {
		s.knownHosts[k] = Fingerprint(v)
	}
	return nil
}

func (s *Store) loadWhitelist() error {
	data, err := os.ReadFile(s.whitelistPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("identity: cannot read whitelist.json: %w", err)
	}

	var f whitelistFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("identity: cannot parse whitelist.json: %w", err)
	}

	for _, name := range f.TrustedSenders {
		s.whitelist[name] = struct{}{}
	}
	return nil
}

// KnownFingerprint is a reader operation returning the pinned fingerprint
// for peerID, if any.
func (s *Store) KnownFingerprint(peerID string) (Fingerprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.knownHosts[peerID]
	return fp, ok
}

// SaveKnownHost pins fp for peerID, persisting the store to disk. The
// write lock is held across the re-check and the disk write so a
// concurrent save for the same peer never leaves the file and the
// in-memory map disagreeing.
func (s *Store) SaveKnownHost(peerID string, fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.knownHosts[peerID]; ok && existing == fp {
		return nil
	}

	s.knownHosts[peerID] = fp
	if err := s.persistKnownHostsLocked(); err != nil {
		// Disk failures are logged but not fatal: the in-memory state
		// remains authoritative for the session (spec §7).
		s.log.Warn("cannot persist known_hosts.json", zap.Error(err))
	}
	return nil
}

func (s *Store) persistKnownHostsLocked() error {
	f := knownHostsFile{Hosts: make(map[string]string, len(s.knownHosts))}
	for k, v := range s.knownHosts {
		f.Hosts[k] = string(v)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.knownHostsPath(), data, 0o644)
}

// IsTrusted reports whether senderName has previously been accepted.
func (s *Store) IsTrusted(senderName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.whitelist[senderName]
	return ok
}

// AddTrust whitelists senderName for future auto-accept.
func (s *Store) AddTrust(senderName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.whitelist[senderName]; ok {
		return nil
	}

	s.whitelist[senderName] = struct{}{}
	if err := s.persistWhitelistLocked(); err != nil {
		s.log.Warn("cannot persist whitelist.json", zap.Error(err))
	}
	return nil
}

func (s *Store) persistWhitelistLocked() error {
	names := make([]string, 0, len(s.whitelist))
	for name := range s.whitelist {
		names = append(names, name)
	}

	data, err := json.MarshalIndent(whitelistFile{TrustedSenders: names}, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.whitelistPath(), data, 0o644)
}

// VerifyServerCert implements the TOFU policy of spec §4.1 for an inbound
// peer certificate with the given DER bytes, identified as peerID.
func (s *Store) VerifyServerCert(peerID string, certDER []byte) error {
	fp := CalculateFingerprint(certDER)

	known, ok := s.KnownFingerprint(peerID)
	if !ok {
		if s.arbiter == nil {
			return s.SaveKnownHost(peerID, fp)
		}

		decision, err := s.arbiter.VerifyCertificate(peerID, fp, "")
		if err != nil {
			return fmt.Errorf("identity: certificate arbitration failed: %w", err)
		}
		if decision != Accept {
			return fmt.Errorf("identity: first-contact certificate for %q rejected", peerID)
		}
		return s.SaveKnownHost(peerID, fp)
	}

	if known == fp {
		return nil
	}

	// Rotation or MITM: always consult the arbiter.
	if s.arbiter == nil {
		return ErrFingerprintMismatch
	}

	decision, err := s.arbiter.VerifyCertificate(peerID, fp, "")
	if err != nil {
		return fmt.Errorf("identity: certificate arbitration failed: %w", err)
	}
	if decision != Accept {
		return ErrFingerprintMismatch
	}
	return s.SaveKnownHost(peerID, fp)
}

// LoadOrGenerateIdentity returns the persistent self-signed certificate for
// nodeName, generating and persisting one on first use.
func (s *Store) LoadOrGenerateIdentity(nodeName string) (tls.Certificate, error) {
	certPath := filepath.Join(s.dir, nodeName+"_cert.der")
	keyPath := filepath.Join(s.dir, nodeName+"_key.der")

	certDER, certErr := os.ReadFile(certPath)
	keyDER, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		key, err := x509.ParsePKCS8PrivateKey(keyDER)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("identity: cannot parse persisted key: %w", err)
		}
		return tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: key}, nil
	}

	return s.generateAndPersistIdentity(nodeName, certPath, keyPath)
}

func (s *Store) generateAndPersistIdentity(nodeName, certPath, keyPath string) (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: cannot generate key pair: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: cannot generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: nodeName, Organization: []string{"DropTea"}},
		DNSNames:     []string{nodeName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: cannot create certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: cannot marshal private key: %w", err)
	}

	// The key file must exist with owner-only permissions before any key
	// bytes are written.
	if err := writeKeyFile(keyPath, keyDER); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.WriteFile(certPath, certDER, 0o644); err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: cannot persist certificate: %w", err)
	}

	return tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: priv}, nil
}

func writeKeyFile(path string, keyDER []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("identity: cannot create key file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(keyDER); err != nil {
		return fmt.Errorf("identity: cannot write key file: %w", err)
	}
	return nil
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
