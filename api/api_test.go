package api_test

import (
	"bytes"
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnforge/vpnforge/api"
	"github.com/vpnforge/vpnforge/audit"
	"github.com/vpnforge/vpnforge/easyrsa"
	"github.com/vpnforge/vpnforge/pki"
)

// stubOrch is a canned Orchestrator so handler behavior can be tested
// without a real toolkit run behind every request.
type stubOrch struct {
	state      pki.State
	store      *pki.Store
	outDir     string
	serverName string

	bootstrapErr error
	issueProfile string
	issueErr     error
	revokeCRL    string
	revokeErr    error
	crlErr       error
	tlsAuthPath  string
	tlsAuthErr   error
	clients      []pki.ClientInfo
	clientsErr   error
	certStatus   pki.CertStatus
	cert         *x509.Certificate
	certErr      error

	issuedNames  []string
	revokedNames []string
	actors       []string
	checkedPaths []string
}

func (s *stubOrch) Status() pki.State { return s.state }

func (s *stubOrch) EnsureBootstrapped(ctx context.Context, actor string) error {
	s.actors = append(s.actors, actor)
	return s.bootstrapErr
}

func (s *stubOrch) IssueClient(ctx context.Context, name, actor string) (string, error) {
	s.issuedNames = append(s.issuedNames, name)
	s.actors = append(s.actors, actor)
	if s.issueErr != nil {
		return s.issueProfile, s.issueErr
	}
	return s.issueProfile, nil
}

func (s *stubOrch) RevokeClient(ctx context.Context, name, actor string) (string, error) {
	s.revokedNames = append(s.revokedNames, name)
	s.actors = append(s.actors, actor)
	return s.revokeCRL, s.revokeErr
}

func (s *stubOrch) RefreshCRL(ctx context.Context, actor string) (string, error) {
	s.actors = append(s.actors, actor)
	return s.revokeCRL, s.crlErr
}

func (s *stubOrch) EnsureTLSAuthKey(ctx context.Context, actor string) (string, error) {
	s.actors = append(s.actors, actor)
	return s.tlsAuthPath, s.tlsAuthErr
}

func (s *stubOrch) ListClients(ctx context.Context) ([]pki.ClientInfo, error) {
	return s.clients, s.clientsErr
}

func (s *stubOrch) CheckCertificate(ctx context.Context, path, actor string) (pki.CertStatus, *x509.Certificate, error) {
	s.checkedPaths = append(s.checkedPaths, path)
	s.actors = append(s.actors, actor)
	return s.certStatus, s.cert, s.certErr
}

func (s *stubOrch) Store() *pki.Store  { return s.store }
func (s *stubOrch) OutputDir() string  { return s.outDir }
func (s *stubOrch) ServerName() string { return s.serverName }

func newStub(t *testing.T) *stubOrch {
	t.Helper()
	out := t.TempDir()
	return &stubOrch{
		state:        pki.StateServerCertReady,
		store:        pki.NewStore(t.TempDir()),
		outDir:       out,
		serverName:   "server",
		issueProfile: filepath.Join(out, "alice.ovpn"),
		revokeCRL:    filepath.Join(out, "crl.pem"),
		tlsAuthPath:  filepath.Join(out, "ta.key"),
	}
}

func setupServer(t *testing.T, orch api.Orchestrator, opts ...api.Option) *httptest.Server {
	t.Helper()
	a := api.New(orch, opts...)
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAuth_RequiresToken(t *testing.T) {
	srv := setupServer(t, newStub(t), api.WithToken("hunter2"))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", "wrong", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", "hunter2", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_HealthNeedsNoToken(t *testing.T) {
	srv := setupServer(t, newStub(t), api.WithToken("hunter2"))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[api.HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
}

func TestAuth_OpenWithoutToken(t *testing.T) {
	srv := setupServer(t, newStub(t))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus_CountsClients(t *testing.T) {
	stub := newStub(t)
	stub.clients = []pki.ClientInfo{
		{Name: "alice", Status: pki.ClientActive},
		{Name: "bob", Status: pki.ClientExpired},
		{Name: "carol", Status: pki.ClientRevoked},
	}
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[api.StatusResponse](t, resp)

	assert.Equal(t, "server_cert_ready", status.State)
	assert.Equal(t, "server", status.ServerName)
	assert.Equal(t, 2, status.ActiveClients)
	assert.Equal(t, 1, status.RevokedClients)
	assert.False(t, status.TLSAuthReady)

	require.NoError(t, os.WriteFile(filepath.Join(stub.outDir, "ta.key"), []byte("key"), 0o600))

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status = decodeBody[api.StatusResponse](t, resp)
	assert.True(t, status.TLSAuthReady)
}

func TestBootstrap(t *testing.T) {
	stub := newStub(t)
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/bootstrap", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	boot := decodeBody[api.BootstrapResponse](t, resp)
	assert.Equal(t, "server_cert_ready", boot.State)
	require.Len(t, stub.actors, 1)
	assert.Equal(t, "api", stub.actors[0])
}

func TestBootstrap_RepairNeeded(t *testing.T) {
	stub := newStub(t)
	stub.bootstrapErr = pki.ErrCARepairNeeded
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/bootstrap", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestIssueClient(t *testing.T) {
	stub := newStub(t)
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/clients", "", map[string]string{"name": "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	issued := decodeBody[api.IssueClientResponse](t, resp)

	assert.Equal(t, "alice", issued.Name)
	assert.Equal(t, stub.issueProfile, issued.Profile)
	assert.Empty(t, issued.Warnings)
	assert.Equal(t, []string{"alice"}, stub.issuedNames)
}

func TestIssueClient_ActorFromHeader(t *testing.T) {
	stub := newStub(t)
	srv := setupServer(t, stub)

	var body bytes.Buffer
	require.NoError(t, json.NewEncoder(&body).Encode(map[string]string{"name": "alice"}))
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/v1/clients", &body)
	require.NoError(t, err)
	req.Header.Set("X-Remote-User", "ops-jane")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, stub.actors, 1)
	assert.Equal(t, "ops-jane", stub.actors[0])
}

func TestIssueClient_InvalidBody(t *testing.T) {
	srv := setupServer(t, newStub(t))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost,
		srv.URL+"/api/v1/clients", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIssueClient_PartialMaterializeWarns(t *testing.T) {
	stub := newStub(t)
	stub.issueErr = &pki.MaterializeError{Failed: []pki.ArtifactFailure{
		{Name: "alice.crt", Err: os.ErrPermission},
	}}
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/clients", "", map[string]string{"name": "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	issued := decodeBody[api.IssueClientResponse](t, resp)

	assert.Equal(t, stub.issueProfile, issued.Profile)
	require.Len(t, issued.Warnings, 1)
	assert.Contains(t, issued.Warnings[0], "alice.crt")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantRetry  string
	}{
		{"invalid identifier", pki.ErrInvalidIdentifier, http.StatusBadRequest, ""},
		{"identifier used", pki.ErrIdentifierUsed, http.StatusConflict, ""},
		{"busy", pki.ErrBusy, http.StatusServiceUnavailable, "5"},
		{"toolkit unavailable", easyrsa.ErrUnavailable, http.StatusServiceUnavailable, ""},
		{"step failed", pki.ErrStepFailed, http.StatusInternalServerError, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := newStub(t)
			stub.issueErr = tc.err
			srv := setupServer(t, stub)

			resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/clients", "", map[string]string{"name": "alice"})
			require.Equal(t, tc.wantStatus, resp.StatusCode)
			if tc.wantRetry != "" {
				assert.Equal(t, tc.wantRetry, resp.Header.Get("Retry-After"))
			}
			errResp := decodeBody[api.ErrorResponse](t, resp)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestRevokeClient_FiresReloadHook(t *testing.T) {
	stub := newStub(t)
	var reloads atomic.Int32
	srv := setupServer(t, stub, api.WithReloadHook(func() { reloads.Add(1) }))

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/clients/alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	revoked := decodeBody[api.RevokeClientResponse](t, resp)

	assert.Equal(t, "alice", revoked.Name)
	assert.Equal(t, stub.revokeCRL, revoked.CRL)
	assert.Equal(t, []string{"alice"}, stub.revokedNames)
	assert.Equal(t, int32(1), reloads.Load())
}

func TestRevokeClient_NotIssued(t *testing.T) {
	stub := newStub(t)
	stub.revokeErr = pki.ErrNotIssued
	var reloads atomic.Int32
	srv := setupServer(t, stub, api.WithReloadHook(func() { reloads.Add(1) }))

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/clients/ghost", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, reloads.Load(), "reload hook must not fire on failed revocation")
}

func TestRefreshCRL_FiresReloadHook(t *testing.T) {
	stub := newStub(t)
	var reloads atomic.Int32
	srv := setupServer(t, stub, api.WithReloadHook(func() { reloads.Add(1) }))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/crl", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	crl := decodeBody[api.CRLResponse](t, resp)
	assert.Equal(t, stub.revokeCRL, crl.CRL)
	assert.Equal(t, int32(1), reloads.Load())
}

func TestDownloadCRL(t *testing.T) {
	stub := newStub(t)
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/crl", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, os.WriteFile(filepath.Join(stub.outDir, "crl.pem"),
		[]byte("-----BEGIN X509 CRL-----\n"), 0o644))

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/crl", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pkix-crl", resp.Header.Get("Content-Type"))
}

func TestTLSAuth(t *testing.T) {
	stub := newStub(t)
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tlsauth", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ta := decodeBody[api.TLSAuthResponse](t, resp)
	assert.Equal(t, stub.tlsAuthPath, ta.Path)
}

func TestDownloadProfile(t *testing.T) {
	stub := newStub(t)
	profile := "client\ndev tun\nremote vpn.example.com 1194\n"
	require.NoError(t, os.WriteFile(filepath.Join(stub.outDir, "alice.ovpn"), []byte(profile), 0o600))
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/clients/alice/profile", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `alice.ovpn`)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, profile, buf.String())
}

func TestDownloadProfile_Missing(t *testing.T) {
	srv := setupServer(t, newStub(t))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/clients/ghost/profile", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadProfile_RejectsBadName(t *testing.T) {
	srv := setupServer(t, newStub(t))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/clients/..%2fescape/profile", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListClients(t *testing.T) {
	stub := newStub(t)
	stub.clients = []pki.ClientInfo{{Name: "alice", Status: pki.ClientActive}}
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/clients", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[api.ClientListResponse](t, resp)
	require.Len(t, list.Clients, 1)
	assert.Equal(t, "alice", list.Clients[0].Name)
}

func TestListClients_EmptyIsArray(t *testing.T) {
	srv := setupServer(t, newStub(t))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/clients", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"clients":[]`)
}

func TestCheckCertificate(t *testing.T) {
	stub := newStub(t)
	stub.certStatus = pki.CertValid
	stub.cert = &x509.Certificate{
		Subject:      pkix.Name{CommonName: "alice"},
		SerialNumber: big.NewInt(0x2A),
		NotBefore:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/certificates/alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cert := decodeBody[api.CertificateResponse](t, resp)

	assert.Equal(t, "alice", cert.Name)
	assert.Equal(t, "valid", cert.Status)
	assert.Equal(t, "2A", cert.Serial)
	assert.Contains(t, cert.Subject, "alice")
	require.Len(t, stub.checkedPaths, 1)
	assert.Equal(t, stub.store.Cert("alice"), stub.checkedPaths[0])
}

func TestCheckCertificate_ResolvesCA(t *testing.T) {
	stub := newStub(t)
	stub.certStatus = pki.CertValid
	srv := setupServer(t, stub)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/certificates/ca", "", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, stub.checkedPaths, 1)
	assert.Equal(t, stub.store.CACert(), stub.checkedPaths[0])
}

func TestAudit_Disabled(t *testing.T) {
	srv := setupServer(t, newStub(t))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/audit", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/audit/verify", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAudit_ListAndVerify(t *testing.T) {
	store, err := audit.OpenStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, name := range []string{"alice", "bob"} {
		ev := audit.NewEvent(t.Context(), audit.EventClientCertIssued, name, "test", audit.ResultSuccess, nil)
		require.NoError(t, store.Record(t.Context(), ev))
	}

	srv := setupServer(t, newStub(t), api.WithAuditStore(store))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/audit", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[api.AuditListResponse](t, resp)
	require.Len(t, list.Events, 2)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/audit?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = decodeBody[api.AuditListResponse](t, resp)
	require.Len(t, list.Events, 1)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/audit?limit=bogus", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/audit/verify", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verify := decodeBody[api.AuditVerifyResponse](t, resp)
	assert.True(t, verify.Valid)
	assert.Equal(t, 2, verify.Entries)
	assert.Empty(t, verify.Error)
}

func TestRateLimit(t *testing.T) {
	srv := setupServer(t, newStub(t), api.WithRateLimit(1, 1))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", "", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/status", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestOpenAPIServed(t *testing.T) {
	srv := setupServer(t, newStub(t), api.WithToken("hunter2"))

	// Documentation routes stay reachable without credentials.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/openapi.yaml", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "openapi:")
}
