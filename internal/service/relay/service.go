// Package relay runs the upload pipeline: resolve coordinates, embed them into
// the photo, resolve the destination folder chain, upload, share, and notify.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"photorelay/internal/config"
	"photorelay/internal/geocode"
	"photorelay/internal/geotag"
	"photorelay/internal/graph"
	"photorelay/internal/models"
	"photorelay/internal/notify"
	"photorelay/internal/storage"
)

// ErrUnknownCategory marks a form_name with no configured folder mapping.
var ErrUnknownCategory = errors.New("no mapped folder for category")

// FolderMapping pairs a category's display name with its remote folder id.
type FolderMapping struct {
	Name string
	ID   string
}

// Options carries the static pipeline configuration.
type Options struct {
	Webhooks       config.WebhookConfig
	Folders        map[string]string
	FilenamePrefix string
	Watermark      bool
}

// Service owns the pipeline collaborators. The category map is normalized once
// at construction; lookups are case- and whitespace-insensitive.
type Service struct {
	geo      *geocode.Client
	tagger   *geotag.Writer
	drive    *graph.Client
	store    *storage.Store
	notifier *notify.Notifier

	webhooks  config.WebhookConfig
	folders   map[string]FolderMapping
	prefix    string
	watermark bool
}

func NewService(geo *geocode.Client, tagger *geotag.Writer, drive *graph.Client, store *storage.Store, notifier *notify.Notifier, opts Options) *Service {
	folders := make(map[string]FolderMapping, len(opts.Folders))
	for name, id := range opts.Folders {
		folders[normalizeCategory(name)] = FolderMapping{Name: name, ID: id}
	}
	return &Service{
		geo:       geo,
		tagger:    tagger,
		drive:     drive,
		store:     store,
		notifier:  notifier,
		webhooks:  opts.Webhooks,
		folders:   folders,
		prefix:    opts.FilenamePrefix,
		watermark: opts.Watermark,
	}
}

// CategoryFolder resolves a submitted form_name to its folder mapping.
func (s *Service) CategoryFolder(name string) (FolderMapping, bool) {
	m, ok := s.folders[normalizeCategory(name)]
	return m, ok
}

// normalizeCategory lower-cases and collapses whitespace so config keys and
// form input match regardless of casing.
func normalizeCategory(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Process runs the full pipeline for one job. Steps are strictly sequential;
// the first failure short-circuits with its component's error kind. The
// derived geotagged file is removed here; the original temp file belongs to
// the caller.
func (s *Service) Process(ctx context.Context, job *models.UploadJob) (*models.UploadResult, error) {
	folder, ok := s.CategoryFolder(job.Category)
	if !ok {
		return nil, fmt.Errorf("category %q: %w", job.Category, ErrUnknownCategory)
	}

	loc, err := s.geo.Resolve(ctx, job.Postcode)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return nil, err
	}

	if s.watermark {
		label := strings.TrimSpace(fmt.Sprintf("%s %s %s", job.Tag, job.Postcode, time.Now().Format("2006-01-02")))
		if err := s.tagger.Stamp(job.LocalPath, label); err != nil {
			log.Printf("relay: watermark %s: %v", job.OriginalName, err)
		}
	}

	tagged, err := s.tagger.EmbedLocation(job.LocalPath, loc.Latitude, loc.Longitude)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return nil, err
	}
	if tagged != job.LocalPath {
		defer os.Remove(tagged)
	}

	dayFolder := fmt.Sprintf("%s_%s", compactPostcode(job.Postcode), time.Now().Format("2006-01-02"))
	folderID, err := s.drive.EnsurePath(ctx, folder.ID, dayFolder, job.Tag)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return nil, err
	}

	filename := s.remoteFilename(job)
	item, err := s.drive.Upload(ctx, folderID, filename, tagged)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return nil, err
	}

	shareURL, err := s.drive.CreateShareLink(ctx, item.ID, "anonymous")
	if err != nil {
		// The upload stands; the missing link is reported independently.
		log.Printf("relay: share link for %s: %v", item.ID, err)
		shareURL = ""
	}

	result := &models.UploadResult{
		CorrelationID: job.CorrelationID,
		Postcode:      job.Postcode,
		FileName:      filename,
		ItemID:        item.ID,
		URL:           item.WebURL,
		ShareURL:      shareURL,
		FolderID:      folderID,
		Latitude:      loc.Latitude,
		Longitude:     loc.Longitude,
		UploadedAt:    time.Now().UTC(),
	}

	s.record(ctx, &models.UploadRecord{
		CorrelationID: job.CorrelationID,
		Postcode:      job.Postcode,
		Category:      folder.Name,
		Tag:           job.Tag,
		FileName:      filename,
		RemoteURL:     item.WebURL,
		Status:        models.UploadStatusUploaded,
		CreatedAt:     result.UploadedAt,
	})

	s.notifier.Enqueue(s.webhooks.FileURL, map[string]interface{}{
		"request_id": job.CorrelationID,
		"postcode":   job.Postcode,
		"tag":        job.Tag,
		"file_name":  filename,
		"url":        item.WebURL,
		"share_url":  shareURL,
	})

	return result, nil
}

// BatchFile is one entry of a batch upload response.
type BatchFile struct {
	Name  string `json:"name"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// ProcessBatch uploads each job in turn, then shares the common day folder and
// posts one aggregate webhook. Per-file failures do not abort the batch; the
// first error is returned only when every file failed.
func (s *Service) ProcessBatch(ctx context.Context, jobs []*models.UploadJob) ([]BatchFile, string, error) {
	files := make([]BatchFile, 0, len(jobs))
	var (
		folderID string
		firstErr error
		okCount  int
	)
	for _, job := range jobs {
		res, err := s.Process(ctx, job)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			files = append(files, BatchFile{Name: job.OriginalName, Error: err.Error()})
			continue
		}
		okCount++
		folderID = res.FolderID
		files = append(files, BatchFile{Name: res.FileName, URL: res.URL})
	}

	var sharedURL string
	if folderID != "" {
		var err error
		sharedURL, err = s.drive.CreateShareLink(ctx, folderID, "anonymous")
		if err != nil {
			log.Printf("relay: share link for folder %s: %v", folderID, err)
			sharedURL = ""
		}
	}

	if len(jobs) > 0 {
		s.notifier.Enqueue(s.webhooks.AggregateURL, map[string]interface{}{
			"request_id":        jobs[0].CorrelationID,
			"postcode":          jobs[0].Postcode,
			"files":             files,
			"shared_folder_url": sharedURL,
		})
	}

	if okCount == 0 && firstErr != nil {
		return files, "", firstErr
	}
	return files, sharedURL, nil
}

func (s *Service) remoteFilename(job *models.UploadJob) string {
	parts := make([]string, 0, 4)
	if s.prefix != "" {
		parts = append(parts, s.prefix)
	}
	if job.Tag != "" {
		parts = append(parts, job.Tag)
	}
	parts = append(parts, fmt.Sprintf("%d", time.Now().UnixMilli()), job.OriginalName)
	return strings.Join(parts, "_")
}

func (s *Service) record(ctx context.Context, rec *models.UploadRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordUpload(ctx, rec); err != nil {
		log.Printf("relay: audit record for %s: %v", rec.FileName, err)
	}
}

func (s *Service) recordFailure(ctx context.Context, job *models.UploadJob, cause error) {
	s.record(ctx, &models.UploadRecord{
		CorrelationID: job.CorrelationID,
		Postcode:      job.Postcode,
		Category:      job.Category,
		Tag:           job.Tag,
		FileName:      job.OriginalName,
		Status:        models.UploadStatusFailed,
		Error:         cause.Error(),
		CreatedAt:     time.Now().UTC(),
	})
}

func compactPostcode(postcode string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(postcode), " ", ""))
}
