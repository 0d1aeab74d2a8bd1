package api

import (
	"time"

	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/pki"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is returned from GET /status.
type StatusResponse struct {
	State          string `json:"state"`
	ServerName     string `json:"server_name"`
	OutputDir      string `json:"output_dir"`
	ActiveClients  int    `json:"active_clients"`
	RevokedClients int    `json:"revoked_clients"`
	TLSAuthReady   bool   `json:"tlsauth_ready"`
}

// BootstrapResponse is returned from POST /bootstrap.
type BootstrapResponse struct {
	State string `json:"state"`
}

// IssueClientRequest is the JSON body for POST /clients.
type IssueClientRequest struct {
	Name string `json:"name"`
}

// IssueClientResponse is returned from POST /clients. Warnings list
// artifacts that failed to materialize while the issuance itself
// succeeded.
type IssueClientResponse struct {
	Name     string   `json:"name"`
	Profile  string   `json:"profile"`
	Warnings []string `json:"warnings,omitempty"`
}

// ClientListResponse is returned from GET /clients.
type ClientListResponse struct {
	Clients []pki.ClientInfo `json:"clients"`
}

// RevokeClientResponse is returned from DELETE /clients/{name}.
type RevokeClientResponse struct {
	Name string `json:"name"`
	CRL  string `json:"crl"`
}

// CRLResponse is returned from POST /crl.
type CRLResponse struct {
	CRL string `json:"crl"`
}

// TLSAuthResponse is returned from POST /tlsauth.
type TLSAuthResponse struct {
	Path string `json:"path"`
}

// CertificateResponse is returned from GET /certificates/{name}.
type CertificateResponse struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Subject   string    `json:"subject,omitempty"`
	Serial    string    `json:"serial,omitempty"`
	NotBefore time.Time `json:"not_before,omitzero"`
	NotAfter  time.Time `json:"not_after,omitzero"`
}

// AuditListResponse is returned from GET /audit, newest first.
type AuditListResponse struct {
	Events []audit.Event `json:"events"`
}

// AuditVerifyResponse is returned from GET /audit/verify.
type AuditVerifyResponse struct {
	Entries int    `json:"entries"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}
