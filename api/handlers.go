package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vpnforge/vpnforge/internal/util"
	"github.com/vpnforge/vpnforge/pki"
)

// Health reports process liveness. It carries no PKI state on purpose;
// probing the store from a health check would make monitoring mutate-free
// guarantees murky.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// StatusHandler reports the bootstrap state and client inventory counts.
func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := a.orch.ListClients(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	active, revoked := 0, 0
	for _, c := range clients {
		if c.Status == pki.ClientRevoked {
			revoked++
		} else {
			active++
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		State:          a.orch.Status().String(),
		ServerName:     a.orch.ServerName(),
		OutputDir:      a.orch.OutputDir(),
		ActiveClients:  active,
		RevokedClients: revoked,
		TLSAuthReady:   util.FileExists(filepath.Join(a.orch.OutputDir(), pki.TLSAuthFile)),
	})
}

// longOpDeadline stretches a single response past the server's write
// timeout. DH parameter generation alone can run for many minutes.
const longOpDeadline = 45 * time.Minute

func extendDeadline(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(longOpDeadline))
}

// Bootstrap converges the store to a signing-ready authority.
func (a *API) Bootstrap(w http.ResponseWriter, r *http.Request) {
	extendDeadline(w)
	if err := a.orch.EnsureBootstrapped(r.Context(), actorFrom(r)); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BootstrapResponse{State: a.orch.Status().String()})
}

// ListClientsHandler returns the client inventory.
func (a *API) ListClientsHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := a.orch.ListClients(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	if clients == nil {
		clients = []pki.ClientInfo{}
	}
	writeJSON(w, http.StatusOK, ClientListResponse{Clients: clients})
}

// IssueClientHandler issues a certificate and renders the connection
// profile. Partial materialization failures degrade to warnings; the
// issuance itself stands.
func (a *API) IssueClientHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Issuance against a cold store runs the full bootstrap first.
	extendDeadline(w)
	profile, err := a.orch.IssueClient(r.Context(), req.Name, actorFrom(r))
	var matErr *pki.MaterializeError
	if err != nil && !errors.As(err, &matErr) {
		mapError(w, err)
		return
	}

	resp := IssueClientResponse{
		Name:    strings.TrimSuffix(filepath.Base(profile), ".ovpn"),
		Profile: profile,
	}
	if matErr != nil {
		for _, f := range matErr.Failed {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("artifact %s failed: %v", f.Name, f.Err))
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// RevokeClientHandler revokes a client and republishes the CRL.
func (a *API) RevokeClientHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	crl, err := a.orch.RevokeClient(r.Context(), name, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	a.notifyReload()
	writeJSON(w, http.StatusOK, RevokeClientResponse{Name: name, CRL: crl})
}

// DownloadProfile serves a rendered client profile.
func (a *API) DownloadProfile(w http.ResponseWriter, r *http.Request) {
	name, err := pki.NormalizeName(chi.URLParam(r, "name"))
	if err != nil {
		mapError(w, err)
		return
	}
	path := filepath.Join(a.orch.OutputDir(), name+".ovpn")
	if !util.FileExists(path) {
		writeError(w, http.StatusNotFound, "no profile for "+name)
		return
	}
	w.Header().Set("Content-Type", "application/x-openvpn-profile")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.ovpn"`)
	http.ServeFile(w, r, path)
}

// DownloadCRL serves the published revocation list.
func (a *API) DownloadCRL(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(a.orch.OutputDir(), "crl.pem")
	if !util.FileExists(path) {
		writeError(w, http.StatusNotFound, "no CRL has been published")
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	http.ServeFile(w, r, path)
}

// RefreshCRLHandler republishes the revocation list.
func (a *API) RefreshCRLHandler(w http.ResponseWriter, r *http.Request) {
	crl, err := a.orch.RefreshCRL(r.Context(), actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	a.notifyReload()
	writeJSON(w, http.StatusOK, CRLResponse{CRL: crl})
}

// TLSAuthHandler ensures the shared tls-auth key exists.
func (a *API) TLSAuthHandler(w http.ResponseWriter, r *http.Request) {
	path, err := a.orch.EnsureTLSAuthKey(r.Context(), actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TLSAuthResponse{Path: path})
}

// CheckCertificateHandler classifies a managed certificate by name: "ca",
// the server identity, or any client.
func (a *API) CheckCertificateHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var path string
	store := a.orch.Store()
	switch {
	case name == "ca":
		path = store.CACert()
	case strings.EqualFold(name, a.orch.ServerName()):
		path = store.Cert(a.orch.ServerName())
	default:
		n, err := pki.NormalizeName(name)
		if err != nil {
			mapError(w, err)
			return
		}
		path = store.Cert(n)
	}

	status, cert, err := a.orch.CheckCertificate(r.Context(), path, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	resp := CertificateResponse{Name: name, Status: string(status)}
	if cert != nil {
		resp.Subject = cert.Subject.String()
		resp.Serial = fmt.Sprintf("%X", cert.SerialNumber)
		resp.NotBefore = cert.NotBefore
		resp.NotAfter = cert.NotAfter
	}
	writeJSON(w, http.StatusOK, resp)
}

// defaultAuditLimit bounds GET /audit when no limit is given.
const defaultAuditLimit = 50

// ListAuditEvents returns the newest entries of the persistent trail.
func (a *API) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if a.auditStore == nil {
		writeError(w, http.StatusNotFound, "persistent audit trail is not enabled")
		return
	}
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := a.auditStore.List(limit)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuditListResponse{Events: events})
}

// VerifyAuditChain walks the hash chain and reports whether it is intact.
func (a *API) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	if a.auditStore == nil {
		writeError(w, http.StatusNotFound, "persistent audit trail is not enabled")
		return
	}
	entries, err := a.auditStore.Verify()
	resp := AuditVerifyResponse{Entries: entries, Valid: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) notifyReload() {
	if a.reload != nil {
		a.reload()
	}
}
