package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamgui/internal/backend"
	"gamgui/internal/command"
	"gamgui/internal/config"
	"gamgui/internal/gateway"
	"gamgui/internal/secrets"
	"gamgui/internal/session"
)

const (
	aliceToken = "token-alice"
	bobToken   = "token-bob"
)

func serverForTest(t *testing.T) (*httptest.Server, *secrets.MemStore) {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		Backend:  config.BackendSimulated,
		TestMode: true,
		APITokens: map[string]string{
			aliceToken: "alice",
			bobToken:   "bob",
		},
	}

	be := backend.NewSimBackend()
	require.NoError(t, be.Open(ctx))

	store := secrets.NewMemStore()
	require.NoError(t, store.Put(ctx, "alice", secrets.NameOAuthToken, []byte("token")))

	logger := slog.Default()
	sessions := session.NewService(session.ServiceOptions{
		Repo:    session.NewMemRepo(),
		Backend: be,
		Secrets: store,
		Logger:  logger,
	})
	commands := command.NewService(sessions, logger, nil, time.Minute)
	gw := gateway.New(sessions, logger, nil, 16)

	srv := httptest.NewServer(NewServer(cfg, sessions, commands, gw, store, logger, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func request(t *testing.T, srv *httptest.Server, token, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createSession(t *testing.T, srv *httptest.Server, token string) session.Session {
	resp := request(t, srv, token, http.MethodPost, "/api/sessions", map[string]string{"name": "work"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[session.Session](t, resp)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := serverForTest(t)

	resp := request(t, srv, "", http.MethodGet, "/api/sessions", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = request(t, srv, "bogus", http.MethodGet, "/api/sessions", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := serverForTest(t)
	resp := request(t, srv, "", http.MethodGet, "/healthz", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := serverForTest(t)

	s := createSession(t, srv, aliceToken)
	assert.Equal(t, session.StatusActive, s.Status)
	assert.True(t, strings.HasPrefix(s.ID, "sess_"))

	resp := request(t, srv, aliceToken, http.MethodGet, "/api/sessions/"+s.ID, nil)
	got := decode[session.Session](t, resp)
	assert.Equal(t, s.ID, got.ID)

	resp = request(t, srv, aliceToken, http.MethodDelete, "/api/sessions/"+s.ID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// idempotent delete
	resp = request(t, srv, aliceToken, http.MethodDelete, "/api/sessions/"+s.ID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = request(t, srv, aliceToken, http.MethodGet, "/api/sessions/"+s.ID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCrossOwnerLooksLikeMissing(t *testing.T) {
	srv, store := serverForTest(t)
	require.NoError(t, store.Put(context.Background(), "bob", secrets.NameOAuthToken, []byte("t")))

	s := createSession(t, srv, aliceToken)

	getForeign := request(t, srv, bobToken, http.MethodGet, "/api/sessions/"+s.ID, nil)
	getMissing := request(t, srv, bobToken, http.MethodGet, "/api/sessions/sess_00000000", nil)
	foreignBody, _ := io.ReadAll(getForeign.Body)
	missingBody, _ := io.ReadAll(getMissing.Body)
	getForeign.Body.Close()
	getMissing.Body.Close()

	assert.Equal(t, http.StatusNotFound, getForeign.StatusCode)
	assert.Equal(t, getMissing.StatusCode, getForeign.StatusCode)
	assert.Equal(t, string(missingBody), string(foreignBody),
		"a foreign session and a missing one must be indistinguishable")

	// bob's listing must not include alice's session either
	resp := request(t, srv, bobToken, http.MethodGet, "/api/sessions", nil)
	list := decode[map[string][]session.Session](t, resp)
	assert.Empty(t, list["sessions"])
}

func TestCreateWithoutCredentials(t *testing.T) {
	srv, _ := serverForTest(t)

	resp := request(t, srv, bobToken, http.MethodPost, "/api/sessions", map[string]string{"name": "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestExecShell(t *testing.T) {
	srv, _ := serverForTest(t)
	s := createSession(t, srv, aliceToken)

	resp := request(t, srv, aliceToken, http.MethodPost, "/api/sessions/"+s.ID+"/exec",
		map[string]string{"command": "echo hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[command.Result](t, resp)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestExecRejectedCommand(t *testing.T) {
	srv, _ := serverForTest(t)
	s := createSession(t, srv, aliceToken)

	resp := request(t, srv, aliceToken, http.MethodPost, "/api/sessions/"+s.ID+"/exec",
		map[string]string{"command": "rm -rf /"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecRequiresExactlyOneMode(t *testing.T) {
	srv, _ := serverForTest(t)
	s := createSession(t, srv, aliceToken)

	resp := request(t, srv, aliceToken, http.MethodPost, "/api/sessions/"+s.ID+"/exec",
		map[string]any{"command": "echo x", "gam": []string{"version"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2 := request(t, srv, aliceToken, http.MethodPost, "/api/sessions/"+s.ID+"/exec",
		map[string]any{})
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestExecGamTool(t *testing.T) {
	srv, _ := serverForTest(t)
	s := createSession(t, srv, aliceToken)

	resp := request(t, srv, aliceToken, http.MethodPost, "/api/sessions/"+s.ID+"/exec",
		map[string]any{"gam": []string{"version"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[command.Result](t, resp)
	assert.Contains(t, res.Stdout, "GAM ")
}

func TestFileUploadAndDownload(t *testing.T) {
	srv, _ := serverForTest(t)
	s := createSession(t, srv, aliceToken)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "users.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("email\nbob@example.com\n"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/api/sessions/%s/files", srv.URL, s.ID), &body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	dl := request(t, srv, aliceToken, http.MethodGet, "/api/sessions/"+s.ID+"/files/users.csv", nil)
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "email\nbob@example.com\n", string(data))
}

func TestDownloadMissingFileIsAnError(t *testing.T) {
	srv, _ := serverForTest(t)
	s := createSession(t, srv, aliceToken)

	resp := request(t, srv, aliceToken, http.MethodGet, "/api/sessions/"+s.ID+"/files/absent.csv", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode,
		"a failed read must surface a real error status, not a truncated 200")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestCredentialManagement(t *testing.T) {
	srv, _ := serverForTest(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/credentials/"+secrets.NameServiceKey,
		strings.NewReader(`{"type":"service_account"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp := request(t, srv, bobToken, http.MethodGet, "/api/credentials", nil)
	list := decode[map[string][]string](t, listResp)
	assert.Contains(t, list["credentials"], secrets.NameServiceKey)

	// arbitrary names are refused
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/credentials/evil.sh", strings.NewReader("x"))
	req.Header.Set("Authorization", "Bearer "+bobToken)
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	del := request(t, srv, bobToken, http.MethodDelete, "/api/credentials/"+secrets.NameServiceKey, nil)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
}
