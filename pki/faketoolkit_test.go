package pki_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vpnforge/vpnforge/easyrsa"
	"github.com/vpnforge/vpnforge/pki"
)

// fakeToolkit simulates the file effects of easy-rsa subcommands against a
// real store directory. Certificates are genuine self-signed material so
// every parsing path in the orchestrator sees authentic input. It records
// each invocation and tracks concurrent entries so tests can assert both
// what ran and that nothing ran in parallel.
type fakeToolkit struct {
	store *pki.Store

	delay  time.Duration  // artificial latency per invocation
	failOn map[string]int // subcommand to forced exit code

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu     sync.Mutex
	calls  []string
	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate
	serial int64
}

func newFakeToolkit(store *pki.Store) *fakeToolkit {
	return &fakeToolkit{store: store, failOn: map[string]int{}}
}

// Calls returns every recorded invocation as "subcommand arg...".
func (f *fakeToolkit) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how many invocations ran the given subcommand.
func (f *fakeToolkit) CallCount(subcommand string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == subcommand || strings.HasPrefix(c, subcommand+" ") {
			n++
		}
	}
	return n
}

// MaxInFlight is the high-water mark of concurrent invocations.
func (f *fakeToolkit) MaxInFlight() int32 { return f.maxInFlight.Load() }

func (f *fakeToolkit) Run(ctx context.Context, subcommand string, args ...string) (easyrsa.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return easyrsa.Result{ExitCode: -1}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.TrimSpace(subcommand+" "+strings.Join(args, " ")))

	if code, ok := f.failOn[subcommand]; ok {
		return easyrsa.Result{ExitCode: code, Stderr: "forced failure: " + subcommand}, nil
	}

	switch subcommand {
	case easyrsa.CmdInitPKI:
		return f.initPKI()
	case easyrsa.CmdBuildCA:
		return f.buildCA()
	case easyrsa.CmdGenDH:
		return f.genDH()
	case easyrsa.CmdBuildServerFull:
		return f.buildFull(args[0], true)
	case easyrsa.CmdBuildClientFull:
		return f.buildFull(args[0], false)
	case easyrsa.CmdSignReq:
		return f.signReq(args[1])
	case easyrsa.CmdRevoke:
		return f.revoke(args[0])
	case easyrsa.CmdGenCRL:
		return f.genCRL()
	}
	return easyrsa.Result{ExitCode: 1, Stderr: "unknown subcommand " + subcommand}, nil
}

func ok() (easyrsa.Result, error) { return easyrsa.Result{}, nil }

func fail(msg string) (easyrsa.Result, error) {
	return easyrsa.Result{ExitCode: 1, Stderr: msg}, nil
}

func pemBytes(typ string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
}

func (f *fakeToolkit) initPKI() (easyrsa.Result, error) {
	for _, d := range []string{"private", "reqs", "issued"} {
		if err := os.MkdirAll(filepath.Join(f.store.Dir(), d), 0o755); err != nil {
			return fail(err.Error())
		}
	}
	if err := os.WriteFile(f.store.ConfigFile(), []byte("# simulated toolkit config\n"), 0o644); err != nil {
		return fail(err.Error())
	}
	return ok()
}

func (f *fakeToolkit) buildCA() (easyrsa.Result, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fail(err.Error())
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Easy-RSA CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fail(err.Error())
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fail(err.Error())
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fail(err.Error())
	}
	if err := os.WriteFile(f.store.CACert(), pemBytes("CERTIFICATE", der), 0o644); err != nil {
		return fail(err.Error())
	}
	if err := os.WriteFile(f.store.CAKey(), pemBytes("EC PRIVATE KEY", keyDER), 0o600); err != nil {
		return fail(err.Error())
	}
	if err := os.WriteFile(f.store.IndexFile(), nil, 0o644); err != nil {
		return fail(err.Error())
	}
	f.caKey, f.caCert, f.serial = key, cert, 1
	if err := f.writeSerial(); err != nil {
		return fail(err.Error())
	}
	return ok()
}

func (f *fakeToolkit) writeSerial() error {
	return os.WriteFile(f.store.SerialFile(), []byte(fmt.Sprintf("%02X\n", f.serial)), 0o644)
}

func (f *fakeToolkit) genDH() (easyrsa.Result, error) {
	data := "-----BEGIN DH PARAMETERS-----\nc2ltdWxhdGVkIHBhcmFtZXRlcnM=\n-----END DH PARAMETERS-----\n"
	if err := os.WriteFile(f.store.DHParams(), []byte(data), 0o644); err != nil {
		return fail(err.Error())
	}
	return ok()
}

// buildFull generates a keypair and an issued certificate in one shot, the
// way build-server-full and build-client-full do.
func (f *fakeToolkit) buildFull(name string, server bool) (easyrsa.Result, error) {
	if _, err := os.Stat(f.store.Cert(name)); err == nil {
		return fail("conflicting certificate exists for " + name)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fail(err.Error())
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fail(err.Error())
	}
	if err := os.WriteFile(f.store.Key(name), pemBytes("EC PRIVATE KEY", keyDER), 0o600); err != nil {
		return fail(err.Error())
	}
	if err := os.WriteFile(f.store.Request(name), []byte("-----BEGIN CERTIFICATE REQUEST-----\nc2ltdWxhdGVk\n-----END CERTIFICATE REQUEST-----\n"), 0o644); err != nil {
		return fail(err.Error())
	}
	return f.issue(name, &key.PublicKey, server)
}

// signReq issues a certificate for an existing request, reusing the key
// already on disk.
func (f *fakeToolkit) signReq(name string) (easyrsa.Result, error) {
	if _, err := os.Stat(f.store.Request(name)); err != nil {
		return fail("no request for " + name)
	}
	keyPEM, err := os.ReadFile(f.store.Key(name))
	if err != nil {
		return fail("no key for " + name)
	}
	block, _ := pem.Decode(keyPEM)
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return fail(err.Error())
	}
	return f.issue(name, &key.PublicKey, true)
}

func (f *fakeToolkit) issue(name string, pub *ecdsa.PublicKey, server bool) (easyrsa.Result, error) {
	if f.caKey == nil {
		return fail("no CA")
	}
	f.serial++
	eku := x509.ExtKeyUsageClientAuth
	if server {
		eku = x509.ExtKeyUsageServerAuth
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(f.serial),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(0, 0, 825),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{eku},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, f.caCert, pub, f.caKey)
	if err != nil {
		return fail(err.Error())
	}
	// Issued files carry a text dump before the PEM data, as openssl writes
	// them.
	content := append([]byte("Certificate:\n    Data: simulated dump for "+name+"\n"), pemBytes("CERTIFICATE", der)...)
	if err := os.WriteFile(f.store.Cert(name), content, 0o644); err != nil {
		return fail(err.Error())
	}
	line := fmt.Sprintf("V\t%s\t\t%02X\tunknown\t/CN=%s\n",
		tmpl.NotAfter.UTC().Format("060102150405")+"Z", f.serial, name)
	if err := f.appendIndex(line); err != nil {
		return fail(err.Error())
	}
	if err := f.writeSerial(); err != nil {
		return fail(err.Error())
	}
	return ok()
}

func (f *fakeToolkit) appendIndex(line string) error {
	fh, err := os.OpenFile(f.store.IndexFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fh.WriteString(line)
	return err
}

func (f *fakeToolkit) revoke(name string) (easyrsa.Result, error) {
	data, err := os.ReadFile(f.store.IndexFile())
	if err != nil {
		return fail(err.Error())
	}
	lines := strings.Split(string(data), "\n")
	found := false
	for i, l := range lines {
		fields := strings.Split(l, "\t")
		if len(fields) >= 6 && fields[0] == "V" && fields[5] == "/CN="+name {
			fields[0] = "R"
			fields[2] = time.Now().UTC().Format("060102150405") + "Z"
			lines[i] = strings.Join(fields, "\t")
			found = true
			break
		}
	}
	if !found {
		return fail("unable to revoke " + name)
	}
	if err := os.WriteFile(f.store.IndexFile(), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fail(err.Error())
	}
	// The real toolkit moves the issued certificate aside.
	if err := os.Remove(f.store.Cert(name)); err != nil {
		return fail(err.Error())
	}
	return ok()
}

func (f *fakeToolkit) genCRL() (easyrsa.Result, error) {
	if f.caKey == nil {
		return fail("no CA")
	}
	entries, err := f.store.ReadIndex()
	if err != nil {
		return fail(err.Error())
	}
	var revoked []x509.RevocationListEntry
	for _, e := range entries {
		if e.Status != 'R' {
			continue
		}
		serial, okParse := new(big.Int).SetString(e.Serial, 16)
		if !okParse {
			return fail("bad serial " + e.Serial)
		}
		revoked = append(revoked, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: e.RevokedAt,
		})
	}
	tmpl := &x509.RevocationList{
		Number:                    big.NewInt(time.Now().UnixNano()),
		ThisUpdate:                time.Now(),
		NextUpdate:                time.Now().AddDate(0, 0, 30),
		RevokedCertificateEntries: revoked,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, f.caCert, f.caKey)
	if err != nil {
		return fail(err.Error())
	}
	if err := os.WriteFile(f.store.CRL(), pemBytes("X509 CRL", der), 0o644); err != nil {
		return fail(err.Error())
	}
	return ok()
}
