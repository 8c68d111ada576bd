package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sftpgate/internal/middleware"
	"github.com/charlesng35/sftpgate/internal/remotepath"
	"github.com/charlesng35/sftpgate/internal/services"
	"github.com/charlesng35/sftpgate/internal/session"
	"github.com/charlesng35/sftpgate/internal/sftp"
	"github.com/charlesng35/sftpgate/internal/sftp/sftptest"
	"github.com/charlesng35/sftpgate/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubConnector struct {
	conn sftp.Conn
	err  error
}

func (s *stubConnector) Connect(context.Context) (sftp.Conn, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.conn, nil
}

type filesEnv struct {
	conn    *sftptest.Conn
	manager *session.Pool
	router  *gin.Engine
}

func newFilesEnv(t *testing.T, connector *stubConnector, root string, opts ...FilesOption) *filesEnv {
	t.Helper()
	conn := sftptest.NewConn()
	if connector == nil {
		connector = &stubConnector{conn: conn}
	}
	manager := session.NewPool(connector, 2)
	svc, err := services.NewFileService(manager, remotepath.NewResolver(root), services.ServerIdentity{
		Host: "sftp.internal", Port: 22, Username: "svc",
	})
	require.NoError(t, err)

	h := NewFilesHandler(svc, opts...)
	r := gin.New()
	r.Use(middleware.Tenant(false))
	files := r.Group("/api/files")
	files.POST("/upload", h.Upload)
	files.POST("/upload/batch", h.UploadBatch)
	files.GET("/download", h.Download)
	files.DELETE("", h.Delete)
	files.GET("/list", h.List)
	files.GET("/info", h.Info)
	files.GET("/exists", h.Exists)
	files.POST("/directories", h.CreateDirectory)
	files.POST("/move", h.Move)
	files.POST("/copy", h.Copy)
	files.GET("/checksum", h.Checksum)
	files.POST("/sync", h.Sync)
	r.GET("/api/server/info", h.ServerInfo)

	t.Cleanup(func() {
		require.Zero(t, manager.Stats().InUse, "session leaked")
	})
	return &filesEnv{conn: conn, manager: manager, router: r}
}

func (e *filesEnv) do(req *http.Request) (*httptest.ResponseRecorder, response.Response) {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var payload response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &payload)
	return w, payload
}

func jsonRequest(method, target string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target, field string, files map[string]string, values map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func dataMap(t *testing.T, payload response.Response) map[string]any {
	t.Helper()
	data, ok := payload.Data.(map[string]any)
	require.True(t, ok, "payload data is %T", payload.Data)
	return data
}

func TestFilesUpload(t *testing.T) {
	env := newFilesEnv(t, nil, "/")

	req := multipartRequest(t, "/api/files/upload", "file", map[string]string{"report.csv": "a,b\n1,2\n"}, map[string]string{"remote_dir": "inbox/2024"})
	w, payload := env.do(req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.True(t, payload.Success)
	require.Equal(t, "File report.csv uploaded", payload.Message)
	require.Equal(t, "/inbox/2024/report.csv", dataMap(t, payload)["remote_path"])

	content, ok := env.conn.File("/inbox/2024/report.csv")
	require.True(t, ok)
	require.Equal(t, "a,b\n1,2\n", string(content))
}

func TestFilesUploadRequiresFile(t *testing.T) {
	env := newFilesEnv(t, nil, "/")

	req := multipartRequest(t, "/api/files/upload", "other", map[string]string{"x.txt": "x"}, nil)
	w, payload := env.do(req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "file is required", payload.Error.Message)
}

func TestFilesUploadTooLarge(t *testing.T) {
	env := newFilesEnv(t, nil, "/", WithMaxUploadBytes(64))

	req := multipartRequest(t, "/api/files/upload", "file", map[string]string{"big.bin": string(bytes.Repeat([]byte("x"), 1024))}, nil)
	w, payload := env.do(req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, "PAYLOAD_TOO_LARGE", payload.Error.Code)
}

func TestFilesUploadBatchPartialFailure(t *testing.T) {
	env := newFilesEnv(t, nil, "/")
	env.conn.SetPathError("Create", "/batch/b.txt", errors.New("disk quota exceeded"))

	req := multipartRequest(t, "/api/files/upload/batch", "files", map[string]string{
		"a.txt": "a",
		"b.txt": "b",
		"c.txt": "c",
	}, map[string]string{"remote_dir": "batch"})
	w, payload := env.do(req)

	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())
	require.False(t, payload.Success)
	require.Equal(t, "PARTIAL_FAILURE", payload.Error.Code)
	require.Equal(t, "1 of 3 file(s) failed", payload.Message)
	data := dataMap(t, payload)
	require.EqualValues(t, 3, data["total_files"])
	require.EqualValues(t, 3, data["processed_files"])
	require.EqualValues(t, 1, data["failed_files"])
}

func TestFilesDownload(t *testing.T) {
	env := newFilesEnv(t, nil, "/")
	env.conn.AddFile("/docs/q3 report.pdf", []byte("%PDF"))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files/download?path=docs/q3%20report.pdf", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "%PDF", w.Body.String())
	require.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="q3 report.pdf"`, w.Header().Get("Content-Disposition"))
}

func TestFilesDownloadNotFound(t *testing.T) {
	env := newFilesEnv(t, nil, "/")

	w, payload := env.do(httptest.NewRequest(http.MethodGet, "/api/files/download?path=missing.txt", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.False(t, payload.Success)
	require.Equal(t, "NOT_FOUND", payload.Error.Code)
}

func TestFilesListAndInfo(t *testing.T) {
	env := newFilesEnv(t, nil, "/")
	env.conn.AddFile("/data/b", []byte("bb"))
	env.conn.AddFile("/data/a", []byte("a"))
	env.conn.AddDir("/data/z")

	w, payload := env.do(httptest.NewRequest(http.MethodGet, "/api/files/list?dir=data", nil))
	require.Equal(t, http.StatusOK, w.Code)
	entries := dataMap(t, payload)["entries"].([]any)
	require.Len(t, entries, 3)
	require.Equal(t, "z", entries[0].(map[string]any)["name"])
	require.Equal(t, "a", entries[1].(map[string]any)["name"])

	w, payload = env.do(httptest.NewRequest(http.MethodGet, "/api/files/info?path=data/b", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, dataMap(t, payload)["size"])
}

func TestFilesExistsAndDelete(t *testing.T) {
	env := newFilesEnv(t, nil, "/")
	env.conn.AddFile("/tmp/old.log", []byte("x"))

	_, payload := env.do(httptest.NewRequest(http.MethodGet, "/api/files/exists?path=tmp/old.log", nil))
	require.Equal(t, true, dataMap(t, payload)["exists"])

	w, _ := env.do(httptest.NewRequest(http.MethodDelete, "/api/files?path=tmp/old.log", nil))
	require.Equal(t, http.StatusOK, w.Code)

	_, payload = env.do(httptest.NewRequest(http.MethodGet, "/api/files/exists?path=tmp/old.log", nil))
	require.Equal(t, false, dataMap(t, payload)["exists"])
}

func TestFilesCreateDirectoryValidation(t *testing.T) {
	env := newFilesEnv(t, nil, "/")

	w, payload := env.do(jsonRequest(http.MethodPost, "/api/files/directories", map[string]string{"path": "../etc"}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, payload.Error.Message, "must be a path without '..' segments")

	w, payload = env.do(jsonRequest(http.MethodPost, "/api/files/directories", map[string]string{}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "path is required", payload.Error.Message)

	w, _ = env.do(jsonRequest(http.MethodPost, "/api/files/directories", map[string]string{"path": "a/b/c"}))
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, env.conn.HasDir("/a/b/c"))
}

func TestFilesMoveAndCopy(t *testing.T) {
	env := newFilesEnv(t, nil, "/")
	env.conn.AddFile("/in/a.txt", []byte("hello"))

	w, payload := env.do(jsonRequest(http.MethodPost, "/api/files/copy", map[string]string{"source": "in/a.txt", "destination": "backup/a.txt"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.EqualValues(t, 5, dataMap(t, payload)["size"])

	w, _ = env.do(jsonRequest(http.MethodPost, "/api/files/move", map[string]string{"source": "in/a.txt", "destination": "out/a.txt"}))
	require.Equal(t, http.StatusOK, w.Code)

	_, ok := env.conn.File("/out/a.txt")
	require.True(t, ok)
	_, ok = env.conn.File("/in/a.txt")
	require.False(t, ok)

	w, _ = env.do(jsonRequest(http.MethodPost, "/api/files/move", map[string]string{"source": "out/a.txt", "destination": "out/a.txt"}))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFilesChecksum(t *testing.T) {
	env := newFilesEnv(t, nil, "/")
	env.conn.AddFile("/hello.txt", []byte("hello"))

	w, payload := env.do(httptest.NewRequest(http.MethodGet, "/api/files/checksum?path=hello.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", dataMap(t, payload)["checksum"])

	w, _ = env.do(httptest.NewRequest(http.MethodGet, "/api/files/checksum?path=hello.txt&algorithm=crc32", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFilesConnectionFailureMapsTo503(t *testing.T) {
	connector := &stubConnector{err: &sftp.ConnectError{Attempts: 3, Err: errors.New("connection refused")}}
	env := newFilesEnv(t, connector, "/")

	w, payload := env.do(httptest.NewRequest(http.MethodGet, "/api/files/list?dir=/", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "sftp.unavailable", payload.Error.Code)
	require.Contains(t, payload.Error.Message, "3 attempt(s)")
}

func TestFilesTransferFailureMapsTo502(t *testing.T) {
	env := newFilesEnv(t, nil, "/")
	env.conn.SetError("Write", errors.New("broken pipe"))

	req := multipartRequest(t, "/api/files/upload", "file", map[string]string{"a.txt": "abc"}, nil)
	w, payload := env.do(req)

	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	require.Equal(t, "sftp.transfer_failed", payload.Error.Code)
}

func TestFilesTenantScopesPaths(t *testing.T) {
	env := newFilesEnv(t, nil, "/tenants/{tenantId}")
	env.conn.AddFile("/tenants/acme/x.txt", []byte("x"))

	req := httptest.NewRequest(http.MethodGet, "/api/files/list?dir=", nil)
	req.Header.Set(middleware.HeaderTenantID, "acme")
	w, payload := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "/tenants/acme", dataMap(t, payload)["path"])

	w, _ = env.do(httptest.NewRequest(http.MethodGet, "/api/files/list?dir=", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFilesSync(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "site", "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "site", "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "site", "css", "app.css"), []byte("body{}"), 0o644))

	env := newFilesEnv(t, nil, "/", WithSyncBase(base))

	w, payload := env.do(jsonRequest(http.MethodPost, "/api/files/sync", map[string]string{"local_root": "site", "remote_root": "www"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.EqualValues(t, 2, dataMap(t, payload)["processed_files"])

	content, ok := env.conn.File("/www/css/app.css")
	require.True(t, ok)
	require.Equal(t, "body{}", string(content))

	w, _ = env.do(jsonRequest(http.MethodPost, "/api/files/sync", map[string]string{"local_root": "../outside"}))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFilesSyncDisabledWithoutBase(t *testing.T) {
	env := newFilesEnv(t, nil, "/")

	w, _ := env.do(jsonRequest(http.MethodPost, "/api/files/sync", map[string]string{"local_root": "site"}))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerInfo(t *testing.T) {
	env := newFilesEnv(t, nil, "/")

	w, payload := env.do(httptest.NewRequest(http.MethodGet, "/api/server/info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, payload)
	require.Equal(t, "SSH-2.0-FakeSFTP", data["server_version"])
	require.Equal(t, "sftp.internal", data["host"])
	require.Equal(t, "exclusive", data["session_mode"])
}

func TestConfineLocal(t *testing.T) {
	base := filepath.FromSlash("/srv/sync")

	got, err := confineLocal(base, "site/public")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "site", "public"), got)

	got, err = confineLocal(base, "/abs")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "abs"), got)

	for _, bad := range []string{"..", "../etc", "site/../../etc"} {
		_, err := confineLocal(base, bad)
		require.Error(t, err, bad)
	}
}
