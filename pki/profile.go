package pki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/vpnforge/vpnforge/internal/util"
)

// ProfileParams are the connection directives rendered into every client
// profile. They describe how clients reach the server, not what the
// certificates contain.
type ProfileParams struct {
	// Remote is the address clients connect to.
	Remote string `yaml:"remote"`
	// Port is the server's listening port.
	Port int `yaml:"port"`
	// Proto is udp or tcp.
	Proto string `yaml:"proto"`
	// Device is tun or tap.
	Device string `yaml:"device"`
	// Cipher is the data channel cipher directive.
	Cipher string `yaml:"cipher"`
	// Auth is the HMAC digest directive.
	Auth string `yaml:"auth"`
	// Extra lines are appended verbatim after the generated directives.
	Extra []string `yaml:"extra,omitempty"`
}

// DefaultProfileParams returns the parameters used when no configuration
// overrides them. The loopback remote is a deliberate non-value: a profile
// rendered with it works for same-host testing and is obviously wrong for
// anything else.
func DefaultProfileParams() ProfileParams {
	return ProfileParams{
		Remote: "127.0.0.1",
		Port:   1194,
		Proto:  "udp",
		Device: "tun",
		Cipher: "AES-256-GCM",
		Auth:   "SHA256",
	}
}

// Validate rejects parameter combinations OpenVPN would refuse.
func (p ProfileParams) Validate() error {
	if strings.TrimSpace(p.Remote) == "" {
		return errors.New("profile remote must be set")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("profile port %d out of range", p.Port)
	}
	switch p.Proto {
	case "udp", "tcp":
	default:
		return fmt.Errorf("profile proto %q must be udp or tcp", p.Proto)
	}
	switch p.Device {
	case "tun", "tap":
	default:
		return fmt.Errorf("profile device %q must be tun or tap", p.Device)
	}
	return nil
}

type profileData struct {
	ProfileParams
	CA      string
	Cert    string
	Key     string
	TLSAuth string
}

var profileTmpl = template.Must(template.New("profile").Parse(`client
dev {{ .Device }}
proto {{ .Proto }}
remote {{ .Remote }} {{ .Port }}
resolv-retry infinite
nobind
persist-key
persist-tun
remote-cert-tls server
cipher {{ .Cipher }}
auth {{ .Auth }}
verb 3
{{- range .Extra }}
{{ . }}
{{- end }}
{{- if .TLSAuth }}
key-direction 1
{{- end }}
<ca>
{{ .CA }}</ca>
<cert>
{{ .Cert }}</cert>
<key>
{{ .Key }}</key>
{{- if .TLSAuth }}
<tls-auth>
{{ .TLSAuth }}</tls-auth>
{{- end }}
`))

// renderProfile writes the all-in-one connection profile for name into the
// output directory and returns its path. Certificates and the key are
// embedded inline so the profile is a single importable file. The tls-auth
// block appears only when the shared key has been generated.
func (m *Manager) renderProfile(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := profileData{ProfileParams: m.profile}

	var err error
	if data.CA, err = readPEM(m.store.CACert()); err != nil {
		return "", fmt.Errorf("reading ca certificate: %w", err)
	}
	if data.Cert, err = readPEM(m.store.Cert(name)); err != nil {
		return "", fmt.Errorf("reading client certificate: %w", err)
	}
	if data.Key, err = readPEM(m.store.Key(name)); err != nil {
		return "", fmt.Errorf("reading client key: %w", err)
	}
	if ta := filepath.Join(m.out, TLSAuthFile); util.FileExists(ta) {
		if data.TLSAuth, err = readPEM(ta); err != nil {
			return "", fmt.Errorf("reading tls-auth key: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := profileTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering profile: %w", err)
	}
	rendered := buf.Bytes()
	if runtime.GOOS == "windows" {
		rendered = bytes.ReplaceAll(rendered, []byte("\n"), []byte("\r\n"))
	}

	path := filepath.Join(m.out, name+".ovpn")
	if err := util.WriteFileAtomic(path, rendered, keyMode); err != nil {
		return "", fmt.Errorf("writing profile: %w", err)
	}
	return path, nil
}

// readPEM returns the marker-delimited blocks of path, dropping any
// human-readable preamble the toolkit writes before the first marker.
func readPEM(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	i := bytes.Index(data, []byte("-----BEGIN"))
	if i < 0 {
		return "", fmt.Errorf("%s contains no PEM data", path)
	}
	s := string(data[i:])
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s, nil
}
