package handlers

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/realtime"
	"github.com/charlesng35/sftpgate/internal/services"
	appErrors "github.com/charlesng35/sftpgate/pkg/errors"
	"github.com/charlesng35/sftpgate/pkg/response"
)

// DefaultMaxUploadBytes bounds a single upload request body.
const DefaultMaxUploadBytes int64 = 512 << 20

// FilesHandler exposes the file operation set over HTTP.
type FilesHandler struct {
	svc       *services.FileService
	hub       *realtime.Hub
	syncBase  string
	maxUpload int64
}

// FilesOption customises a FilesHandler.
type FilesOption func(*FilesHandler)

// WithProgressHub publishes progress for requests that carry a progress_id.
func WithProgressHub(hub *realtime.Hub) FilesOption {
	return func(h *FilesHandler) { h.hub = hub }
}

// WithSyncBase enables the sync endpoint for local directories under base.
func WithSyncBase(base string) FilesOption {
	return func(h *FilesHandler) {
		base = strings.TrimSpace(base)
		if base != "" {
			h.syncBase = filepath.Clean(base)
		}
	}
}

// WithMaxUploadBytes bounds upload request bodies. Non-positive values keep the default.
func WithMaxUploadBytes(n int64) FilesOption {
	return func(h *FilesHandler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

func NewFilesHandler(svc *services.FileService, opts ...FilesOption) *FilesHandler {
	h := &FilesHandler{svc: svc, maxUpload: DefaultMaxUploadBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type pathRequest struct {
	Path string `json:"path" validate:"required,max=4096,remotepath"`
}

type transferRequest struct {
	Source      string `json:"source" validate:"required,max=4096,remotepath"`
	Destination string `json:"destination" validate:"required,max=4096,remotepath"`
}

type syncRequest struct {
	LocalRoot  string `json:"local_root" validate:"required,max=4096"`
	RemoteRoot string `json:"remote_root" validate:"max=4096,remotepath"`
	ProgressID string `json:"progress_id" validate:"max=128"`
}

// progress returns the publisher for the request's progress_id, or nil.
func (h *FilesHandler) progress(c *gin.Context, id string) *realtime.ProgressPublisher {
	if id == "" {
		id = c.Query("progress_id")
	}
	return realtime.NewProgressPublisher(h.hub, id, tenantID(c))
}

// POST /api/files/upload
func (h *FilesHandler) Upload(c *gin.Context) {
	if !h.limitBody(c) {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, uploadFormError(err, "file"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("unable to read uploaded file"))
		return
	}
	defer file.Close()

	publisher := h.progress(c, "")
	result := h.svc.UploadFile(requestContext(c), file, header.Size, header.Filename, c.PostForm("remote_dir"), publisher)
	publisher.Complete(result.Success, result.Message)
	writeResult(c, http.StatusCreated, result)
}

// POST /api/files/upload/batch
func (h *FilesHandler) UploadBatch(c *gin.Context) {
	if !h.limitBody(c) {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, uploadFormError(err, "files"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.Error(c, appErrors.NewBadRequest("files is required"))
		return
	}

	items, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("unable to read uploaded files"))
		return
	}

	publisher := h.progress(c, "")
	result := h.svc.UploadFiles(requestContext(c), items, firstValue(form.Value["remote_dir"]), publisher)
	publisher.Complete(result.Success, result.Message)
	writeResult(c, http.StatusCreated, result)
}

// limitBody rejects declared oversize bodies and caps undeclared ones.
func (h *FilesHandler) limitBody(c *gin.Context) bool {
	if c.Request.ContentLength > h.maxUpload {
		response.Error(c, errPayloadTooLarge)
		return false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	return true
}

var errPayloadTooLarge = appErrors.New("PAYLOAD_TOO_LARGE", "upload exceeds the maximum request size", http.StatusRequestEntityTooLarge)

func openUploads(headers []*multipart.FileHeader) ([]services.UploadItem, func(), error) {
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	items := make([]services.UploadItem, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, closeAll, err
		}
		files = append(files, f)
		items = append(items, services.UploadItem{Name: header.Filename, Content: f, Size: header.Size})
	}
	return items, closeAll, nil
}

func uploadFormError(err error, field string) *appErrors.AppError {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errPayloadTooLarge
	}
	return appErrors.NewBadRequest(field + " is required")
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// GET /api/files/download?path=
func (h *FilesHandler) Download(c *gin.Context) {
	result := h.svc.DownloadFile(requestContext(c), c.Query("path"))
	if !result.Success {
		writeResult(c, http.StatusOK, result)
		return
	}
	download := result.Data
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": download.FileName}))
	c.Data(http.StatusOK, "application/octet-stream", download.Content)
}

// DELETE /api/files?path=
func (h *FilesHandler) Delete(c *gin.Context) {
	writeResult(c, http.StatusOK, h.svc.DeleteFile(requestContext(c), c.Query("path")))
}

// GET /api/files/list?dir=
func (h *FilesHandler) List(c *gin.Context) {
	writeResult(c, http.StatusOK, h.svc.ListFiles(requestContext(c), c.Query("dir")))
}

// GET /api/files/info?path=
func (h *FilesHandler) Info(c *gin.Context) {
	writeResult(c, http.StatusOK, h.svc.GetFileInfo(requestContext(c), c.Query("path")))
}

// GET /api/files/exists?path=
func (h *FilesHandler) Exists(c *gin.Context) {
	p := c.Query("path")
	response.Success(c, http.StatusOK, gin.H{"path": p, "exists": h.svc.FileExists(requestContext(c), p)})
}

// POST /api/files/directories
func (h *FilesHandler) CreateDirectory(c *gin.Context) {
	var req pathRequest
	if !bindAndValidate(c, &req) {
		return
	}
	writeResult(c, http.StatusCreated, h.svc.CreateDirectory(requestContext(c), req.Path))
}

// POST /api/files/move
func (h *FilesHandler) Move(c *gin.Context) {
	var req transferRequest
	if !bindAndValidate(c, &req) {
		return
	}
	writeResult(c, http.StatusOK, h.svc.MoveFile(requestContext(c), req.Source, req.Destination))
}

// POST /api/files/copy
func (h *FilesHandler) Copy(c *gin.Context) {
	var req transferRequest
	if !bindAndValidate(c, &req) {
		return
	}
	publisher := h.progress(c, "")
	result := h.svc.CopyFile(requestContext(c), req.Source, req.Destination, publisher)
	publisher.Complete(result.Success, result.Message)
	writeResult(c, http.StatusCreated, result)
}

// GET /api/files/checksum?path=&algorithm=
func (h *FilesHandler) Checksum(c *gin.Context) {
	writeResult(c, http.StatusOK, h.svc.GetChecksum(requestContext(c), c.Query("path"), c.Query("algorithm")))
}

// POST /api/files/sync
func (h *FilesHandler) Sync(c *gin.Context) {
	if h.syncBase == "" {
		response.Error(c, appErrors.ErrNotFound.WithMessage("directory sync is not enabled"))
		return
	}
	var req syncRequest
	if !bindAndValidate(c, &req) {
		return
	}
	local, err := confineLocal(h.syncBase, req.LocalRoot)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	publisher := h.progress(c, req.ProgressID)
	result := h.svc.SyncDirectoryLocalToRemote(requestContext(c), local, req.RemoteRoot, publisher)
	publisher.Complete(result.Success, result.Message)
	writeResult(c, http.StatusOK, result)
}

// confineLocal resolves rel against base and refuses anything outside base.
func confineLocal(base, rel string) (string, error) {
	joined := filepath.Join(base, strings.TrimSpace(rel))
	within, err := filepath.Rel(base, joined)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", errors.New("local_root must stay inside the sync directory")
	}
	return joined, nil
}

// GET /api/server/info
func (h *FilesHandler) ServerInfo(c *gin.Context) {
	writeResult(c, http.StatusOK, h.svc.GetServerInfo(requestContext(c)))
}
