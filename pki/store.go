package pki

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vpnforge/vpnforge/internal/util"
)

// Store describes the on-disk PKI working directory the toolkit maintains
// under its installation root. The orchestrator treats it as toolkit-owned:
// it invokes toolkit operations and reads what they leave behind, and only
// touches files directly on the sanctioned repair path.
type Store struct {
	root string
}

// NewStore returns a Store rooted at the toolkit installation directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root is the toolkit installation directory.
func (s *Store) Root() string { return s.root }

// Dir is the toolkit's working directory.
func (s *Store) Dir() string { return filepath.Join(s.root, "pki") }

// ConfigFile is the toolkit's internal configuration. Its absence while the
// directory exists is the one unambiguous signal of a half-built store.
func (s *Store) ConfigFile() string { return filepath.Join(s.Dir(), "openssl-easyrsa.cnf") }

func (s *Store) CACert() string     { return filepath.Join(s.Dir(), "ca.crt") }
func (s *Store) CAKey() string      { return filepath.Join(s.Dir(), "private", "ca.key") }
func (s *Store) DHParams() string   { return filepath.Join(s.Dir(), "dh.pem") }
func (s *Store) CRL() string        { return filepath.Join(s.Dir(), "crl.pem") }
func (s *Store) SerialFile() string { return filepath.Join(s.Dir(), "serial") }
func (s *Store) IndexFile() string  { return filepath.Join(s.Dir(), "index.txt") }

// Request is the certificate request path for name.
func (s *Store) Request(name string) string { return filepath.Join(s.Dir(), "reqs", name+".req") }

// Cert is the issued certificate path for name.
func (s *Store) Cert(name string) string { return filepath.Join(s.Dir(), "issued", name+".crt") }

// Key is the private key path for name.
func (s *Store) Key(name string) string { return filepath.Join(s.Dir(), "private", name+".key") }

func (s *Store) Issued(name string) bool     { return util.FileExists(s.Cert(name)) }
func (s *Store) HasRequest(name string) bool { return util.FileExists(s.Request(name)) }
func (s *Store) HasCACert() bool             { return util.FileExists(s.CACert()) }

// State is the bootstrap ladder position derived from file presence.
type State int

const (
	StateNotInitialized State = iota
	StatePKIInitialized
	StateCAReady
	StateDHReady
	StateServerCertReady
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "not_initialized"
	case StatePKIInitialized:
		return "pki_initialized"
	case StateCAReady:
		return "ca_ready"
	case StateDHReady:
		return "dh_ready"
	case StateServerCertReady:
		return "server_cert_ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Probe recomputes the bootstrap state from the filesystem. The result is
// never cached; the store can change out-of-band between calls.
func (s *Store) Probe(serverName string) State {
	if !util.DirExists(s.Dir()) || !util.FileExists(s.ConfigFile()) {
		return StateNotInitialized
	}
	if !s.HasCACert() {
		return StatePKIInitialized
	}
	if !util.FileExists(s.DHParams()) {
		return StateCAReady
	}
	if !s.Issued(serverName) {
		return StateDHReady
	}
	return StateServerCertReady
}

// NeedsRepair reports the self-heal signal: a store directory without its
// internal configuration file.
func (s *Store) NeedsRepair() bool {
	return util.DirExists(s.Dir()) && !util.FileExists(s.ConfigFile())
}

// Wipe removes the store directory so the toolkit can rebuild it.
func (s *Store) Wipe() error {
	if err := os.RemoveAll(s.Dir()); err != nil {
		return fmt.Errorf("clearing %s: %w", s.Dir(), err)
	}
	return nil
}

// ReadSerial returns the toolkit's next-serial counter.
func (s *Store) ReadSerial() (string, error) {
	data, err := os.ReadFile(s.SerialFile())
	if err != nil {
		return "", fmt.Errorf("reading serial: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// IndexEntry is one line of the toolkit's certificate database.
type IndexEntry struct {
	Status    byte // 'V' valid, 'R' revoked, 'E' expired
	Expires   time.Time
	RevokedAt time.Time
	Serial    string
	Name      string // subject CN
}

const indexTimeLayout = "060102150405"

func parseIndexTime(f string) (time.Time, error) {
	return time.Parse(indexTimeLayout, strings.TrimSuffix(f, "Z"))
}

// ReadIndex parses the certificate database. A missing file is an empty
// inventory, not an error: the database only appears once the CA exists.
func (s *Store) ReadIndex() ([]IndexEntry, error) {
	f, err := os.Open(s.IndexFile())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()

	var entries []IndexEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 6 || fields[0] == "" {
			continue
		}
		e := IndexEntry{
			Status: fields[0][0],
			Serial: fields[3],
			Name:   commonName(fields[5]),
		}
		if t, err := parseIndexTime(fields[1]); err == nil {
			e.Expires = t
		}
		if fields[2] != "" {
			if t, err := parseIndexTime(fields[2]); err == nil {
				e.RevokedAt = t
			}
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return entries, nil
}

// commonName extracts the CN attribute from a one-line DN like /CN=alice.
func commonName(dn string) string {
	for _, part := range strings.Split(dn, "/") {
		if v, ok := strings.CutPrefix(part, "CN="); ok {
			return v
		}
	}
	return ""
}

// Revoked reports whether the certificate database holds a revoked entry
// for name.
func (s *Store) Revoked(name string) (bool, error) {
	entries, err := s.ReadIndex()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Status == 'R' && e.Name == name {
			return true, nil
		}
	}
	return false, nil
}
