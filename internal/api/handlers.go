package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"photorelay/internal/geocode"
	"photorelay/internal/models"
	"photorelay/internal/service/relay"
	"photorelay/internal/storage"
)

const maxUploadBytes = 20 << 20 // 20 MB

// Handler wires HTTP routes to the relay pipeline.
type Handler struct {
	relay     *relay.Service
	store     *storage.Store
	uploadDir string
}

// NewHandler constructs a Handler instance.
func NewHandler(relayService *relay.Service, store *storage.Store, uploadDir string) *Handler {
	return &Handler{
		relay:     relayService,
		store:     store,
		uploadDir: uploadDir,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	api := router.Group("/api")
	api.POST("/upload", h.uploadSingle)
	api.POST("/upload/batch", h.uploadBatch)
	api.GET("/uploads", h.recentUploads)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type uploadFields struct {
	requestID string
	postcode  string
	formName  string
	tag       string
}

// readFields validates the common form fields before any file is touched or
// any network call is made.
func (h *Handler) readFields(c *gin.Context, haveFile bool) (uploadFields, bool) {
	fields := uploadFields{
		requestID: strings.TrimSpace(c.PostForm("request_id")),
		postcode:  strings.TrimSpace(c.PostForm("postcode")),
		formName:  strings.TrimSpace(c.PostForm("form_name")),
		tag:       strings.TrimSpace(c.PostForm("tag")),
	}
	if !haveFile || fields.postcode == "" || fields.formName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File, postcode, and form_name are required."})
		return fields, false
	}
	if _, ok := h.relay.CategoryFolder(fields.formName); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("No mapped folder ID found for form_name: %q", fields.formName)})
		return fields, false
	}
	if fields.requestID == "" {
		fields.requestID = uuid.NewString()
	}
	return fields, true
}

func (h *Handler) uploadSingle(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	fields, ok := h.readFields(c, err == nil)
	if !ok {
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	localPath, err := h.saveTemp(c, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	defer os.Remove(localPath)

	job := &models.UploadJob{
		CorrelationID: fields.requestID,
		Category:      fields.formName,
		Postcode:      fields.postcode,
		Tag:           fields.tag,
		OriginalName:  filepath.Base(file.Filename),
		LocalPath:     localPath,
	}
	result, err := h.relay.Process(c.Request.Context(), job)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"message": "Uploaded successfully", "url": result.URL}
	if result.ShareURL != "" {
		resp["share_url"] = result.ShareURL
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) uploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	files := form.File["files"]
	fields, ok := h.readFields(c, len(files) > 0)
	if !ok {
		return
	}

	jobs := make([]*models.UploadJob, 0, len(files))
	for _, file := range files {
		if file.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file %s too large", file.Filename)})
			return
		}
		localPath, err := h.saveTemp(c, file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
			return
		}
		defer os.Remove(localPath)
		jobs = append(jobs, &models.UploadJob{
			CorrelationID: fields.requestID,
			Category:      fields.formName,
			Postcode:      fields.postcode,
			Tag:           fields.tag,
			OriginalName:  filepath.Base(file.Filename),
			LocalPath:     localPath,
		})
	}

	results, sharedURL, err := h.relay.ProcessBatch(c.Request.Context(), jobs)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"message": "Uploaded successfully", "files": results}
	if sharedURL != "" {
		resp["sharedFolderUrl"] = sharedURL
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) recentUploads(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	records, err := h.store.RecentUploads(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = make([]*models.UploadRecord, 0)
	}
	c.JSON(http.StatusOK, gin.H{"uploads": records})
}

// saveTemp copies the uploaded part into the upload dir under a unique name.
// Callers must remove the file when the request finishes.
func (h *Handler) saveTemp(c *gin.Context, file *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(h.uploadDir, uuid.NewString()+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// statusFor maps pipeline errors to caller-fault (400) or dependency-fault
// (500) responses.
func statusFor(err error) int {
	if errors.Is(err, geocode.ErrUnresolvable) || errors.Is(err, relay.ErrUnknownCategory) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
