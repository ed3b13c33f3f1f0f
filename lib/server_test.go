package classvault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "adm1n-t0k3n"

func newTestServer(t *testing.T, engine *Engine) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(engine, testAdminToken))
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func multipartBody(t *testing.T, confirmation string, artifact []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if confirmation != "" {
		require.NoError(t, w.WriteField("confirmation", confirmation))
	}
	fw, err := w.CreateFormFile("artifact", "artifact.json")
	require.NoError(t, err)
	_, err = fw.Write(artifact)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func TestServer_AdminTokenRequired(t *testing.T) {
	engine := NewEngine(seededDriver(), nil, &capturingNotifier{}, Config{})
	ts := newTestServer(t, engine)

	// the health endpoint stays open
	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/admin/backup/run", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/admin/backup/run", "wrong-token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// a token without the Bearer prefix is rejected even when it matches
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/admin/backup/run", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", testAdminToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_HandleRun(t *testing.T) {
	notifier := &capturingNotifier{}
	engine := NewEngine(seededDriver(), nil, notifier, Config{})
	ts := newTestServer(t, engine)

	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/run", testAdminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["runId"])
	assert.Equal(t, float64(3), body["totalDocuments"])

	delivery, ok := body["delivery"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "inline", delivery["mode"])
	require.Equal(t, 1, notifier.sentCount())
}

func TestServer_HandleRunAsync(t *testing.T) {
	notifier := &capturingNotifier{}
	engine := NewEngine(seededDriver(), nil, notifier, Config{})
	ts := newTestServer(t, engine)

	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/run?async=1", testAdminToken, nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "accepted", body["status"])

	require.Eventually(t, func() bool {
		return notifier.sentCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_HandleRunConflict(t *testing.T) {
	ctx := context.Background()
	driver := seededDriver()

	release, err := driver.AcquireLock(ctx, exclusiveLockName)
	require.NoError(t, err)
	defer release(ctx)

	engine := NewEngine(driver, nil, &capturingNotifier{}, Config{})
	ts := newTestServer(t, engine)

	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/run", testAdminToken, nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_HandleRestore(t *testing.T) {
	driver := NewMemoryDriver(true)
	driver.Seed("users", Document{"name": "old"})

	engine := NewEngine(driver, nil, &capturingNotifier{}, Config{RestoreConfirmSecret: "s3cret"})
	ts := newTestServer(t, engine)

	artifact := encodeTestArtifact(t, map[string][]Document{"users": {{"name": "new"}}})

	body, contentType := multipartBody(t, "s3cret", artifact)
	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/restore", testAdminToken, body, contentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, "committed", out["status"])
	assert.Contains(t, out["summary"], "users: replaced 1 document(s)")

	docs, err := driver.ReadAll(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, "new", docs[0]["name"])
}

func TestServer_HandleRestoreMissingConfirmation(t *testing.T) {
	engine := NewEngine(NewMemoryDriver(true), nil, &capturingNotifier{}, Config{RestoreConfirmSecret: "s3cret"})
	ts := newTestServer(t, engine)

	artifact := encodeTestArtifact(t, map[string][]Document{})

	body, contentType := multipartBody(t, "", artifact)
	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/restore", testAdminToken, body, contentType)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_HandleRestoreWrongConfirmation(t *testing.T) {
	driver := NewMemoryDriver(true)
	driver.Seed("users", Document{"name": "old"})

	engine := NewEngine(driver, nil, &capturingNotifier{}, Config{RestoreConfirmSecret: "s3cret"})
	ts := newTestServer(t, engine)

	artifact := encodeTestArtifact(t, map[string][]Document{"users": {{"name": "new"}}})

	body, contentType := multipartBody(t, "wrong", artifact)
	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/restore", testAdminToken, body, contentType)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	docs, err := driver.ReadAll(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, "old", docs[0]["name"])
}

func TestServer_HandleRestoreMalformedArtifact(t *testing.T) {
	engine := NewEngine(NewMemoryDriver(true), nil, &capturingNotifier{}, Config{RestoreConfirmSecret: "s3cret"})
	ts := newTestServer(t, engine)

	body, contentType := multipartBody(t, "s3cret", []byte("garbage"))
	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/restore", testAdminToken, body, contentType)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_HandleRestoreNotMultipart(t *testing.T) {
	engine := NewEngine(NewMemoryDriver(true), nil, &capturingNotifier{}, Config{RestoreConfirmSecret: "s3cret"})
	ts := newTestServer(t, engine)

	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/restore", testAdminToken, bytes.NewReader([]byte("{}")), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_HandleRestorePartiallyApplied(t *testing.T) {
	driver := &flakyDriver{
		MemoryDriver: NewMemoryDriver(false),
		replaceErr:   map[string]error{"enrollments": errors.New("write concern timeout")},
	}
	driver.Seed("courses", Document{"title": "stale"})
	driver.Seed("enrollments", Document{"user": "old"})
	driver.Seed("users", Document{"name": "old"})

	engine := NewEngine(driver, nil, &capturingNotifier{}, Config{RestoreConfirmSecret: "s3cret"})
	ts := newTestServer(t, engine)

	artifact := encodeTestArtifact(t, map[string][]Document{
		"courses":     {{"title": "fresh"}},
		"enrollments": {{"user": "new"}},
		"users":       {{"name": "new"}},
	})

	body, contentType := multipartBody(t, "s3cret", artifact)
	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/backup/restore", testAdminToken, body, contentType)
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, "partially_applied", out["status"])
	assert.Contains(t, out["summary"], "courses: replaced 1 document(s)")
	assert.Contains(t, out["summary"], "enrollments: failed")
	assert.Contains(t, out["summary"], "users: not_reached")
	assert.NotEmpty(t, out["error"])
}

func TestServer_HandleListAndDownload(t *testing.T) {
	ctx := context.Background()
	store, err := SetupArtifactStore(ctx, fmt.Sprintf("file://%s", t.TempDir()))
	require.NoError(t, err)

	engine := NewEngine(seededDriver(), store, &capturingNotifier{}, Config{MaxAttachmentBytes: 1})
	ts := newTestServer(t, engine)

	result, err := engine.RunBackup(ctx, TriggerAPI)
	require.NoError(t, err)

	resp := doRequest(t, http.MethodGet, ts.URL+"/admin/backup/list", testAdminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, float64(1), out["count"])

	resp = doRequest(t, http.MethodGet, ts.URL+"/admin/backup/download/"+result.Delivery.Filename, testAdminToken, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeJSON, resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	artifact, err := DecodeArtifact(raw)
	require.NoError(t, err)
	assert.Equal(t, 3, artifact.TotalDocuments())

	resp = doRequest(t, http.MethodGet, ts.URL+"/admin/backup/download/missing.json", testAdminToken, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_HandleListWithoutStore(t *testing.T) {
	engine := NewEngine(NewMemoryDriver(true), nil, &capturingNotifier{}, Config{})
	ts := newTestServer(t, engine)

	resp := doRequest(t, http.MethodGet, ts.URL+"/admin/backup/list", testAdminToken, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
