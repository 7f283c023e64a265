package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"

	"photorelay/internal/config"
	"photorelay/internal/geocode"
	"photorelay/internal/geotag"
	"photorelay/internal/graph"
	"photorelay/internal/notify"
	"photorelay/internal/service/relay"
	"photorelay/internal/storage"
)

// fakeUpstream bundles the token, geocoder and drive endpoints behind one
// httptest server and counts the calls each receives.
type fakeUpstream struct {
	mu            sync.Mutex
	geocodeCalls  int
	tokenCalls    int
	driveCalls    int
	geocodeStatus string
	children      map[string][]map[string]interface{}
	uploads       map[string]string
	nextID        int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		geocodeStatus: "OK",
		children:      make(map[string][]map[string]interface{}),
		uploads:       make(map[string]string),
	}
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/token":
		f.tokenCalls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-token",
			"expires_in":   3600,
		})
	case r.URL.Path == "/geocode":
		f.geocodeCalls++
		resp := map[string]interface{}{"status": f.geocodeStatus}
		if f.geocodeStatus == "OK" {
			resp["results"] = []map[string]interface{}{
				{"geometry": map[string]interface{}{
					"location": map[string]float64{"lat": 51.5014, "lng": -0.1419},
				}},
			}
		} else {
			resp["results"] = []interface{}{}
		}
		json.NewEncoder(w).Encode(resp)
	case strings.HasPrefix(r.URL.Path, "/drive/items/"):
		f.driveCalls++
		f.serveDrive(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (f *fakeUpstream) serveDrive(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/drive/items/")
	switch {
	case strings.HasSuffix(path, "/children") && r.Method == http.MethodGet:
		parent := strings.TrimSuffix(path, "/children")
		items := f.children[parent]
		if items == nil {
			items = make([]map[string]interface{}, 0)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"value": items})
	case strings.HasSuffix(path, "/children") && r.Method == http.MethodPost:
		parent := strings.TrimSuffix(path, "/children")
		var req struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.nextID++
		item := map[string]interface{}{
			"id":     fmt.Sprintf("folder-%d", f.nextID),
			"name":   req.Name,
			"folder": map[string]interface{}{"childCount": 0},
		}
		f.children[parent] = append(f.children[parent], item)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(item)
	case strings.HasSuffix(path, ":/content") && r.Method == http.MethodPut:
		parts := strings.SplitN(strings.TrimSuffix(path, ":/content"), ":/", 2)
		f.nextID++
		f.uploads[parts[0]+"/"+parts[1]] = parts[1]
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"id":     fmt.Sprintf("item-%d", f.nextID),
			"name":   parts[1],
			"webUrl": "https://drive.example/" + parts[0] + "/" + parts[1],
		})
	case strings.HasSuffix(path, "/createLink") && r.Method == http.MethodPost:
		itemID := strings.TrimSuffix(path, "/createLink")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"link": map[string]string{"webUrl": "https://share.example/" + itemID},
		})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type testServer struct {
	router    *gin.Engine
	upstream  *fakeUpstream
	uploadDir string
	store     *storage.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	upstream := newFakeUpstream()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := storage.NewStore(db)

	tokens := graph.NewTokenSource(graph.TokenConfig{
		TokenURL:     srv.URL + "/token",
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "seed",
	}, srv.Client())
	drive := graph.NewClient(srv.URL+"/drive", srv.Client(), tokens)
	geo := geocode.New(config.GeocoderConfig{BaseURL: srv.URL + "/geocode", APIKey: "key"}, srv.Client(), nil)
	notifier := notify.New(srv.Client(), 1, 8)
	t.Cleanup(notifier.Close)

	svc := relay.NewService(geo, geotag.NewWriter(), drive, store, notifier, relay.Options{
		Folders: map[string]string{"Before": "cat-1", "After": "cat-2"},
	})

	uploadDir := t.TempDir()
	router := gin.New()
	NewHandler(svc, store, uploadDir).RegisterRoutes(router)

	return &testServer{router: router, upstream: upstream, uploadDir: uploadDir, store: store}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds a form with the given fields and one file part per
// entry of files (field name -> file name).
func multipartBody(t *testing.T, fields map[string]string, fileField string, fileNames []string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for _, name := range fileNames {
		part, err := mw.CreateFormFile(fileField, name)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func doUpload(t *testing.T, ts *testServer, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return payload
}

func assertUploadDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("upload dir not cleaned: %v", names)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestUploadSingleSuccess(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"postcode":  "SW1A 1AA",
		"form_name": "Before",
		"tag":       "front",
	}, "file", []string{"house.jpg"}, testJPEG(t))

	w := doUpload(t, ts, "/api/upload", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["message"] != "Uploaded successfully" {
		t.Fatalf("message = %v", resp["message"])
	}
	url, _ := resp["url"].(string)
	if !strings.Contains(url, "house.jpg") || !strings.Contains(url, "front") {
		t.Fatalf("unexpected url %q", url)
	}

	// The folder chain under the category must be <POSTCODE>_<date>/<tag>.
	ts.upstream.mu.Lock()
	defer ts.upstream.mu.Unlock()
	day := ts.upstream.children["cat-1"]
	if len(day) != 1 {
		t.Fatalf("expected one day folder, got %d", len(day))
	}
	wantDay := "SW1A1AA_" + time.Now().Format("2006-01-02")
	if day[0]["name"] != wantDay {
		t.Fatalf("day folder = %v, want %s", day[0]["name"], wantDay)
	}
	tag := ts.upstream.children[day[0]["id"].(string)]
	if len(tag) != 1 || tag[0]["name"] != "front" {
		t.Fatalf("unexpected tag folder %v", tag)
	}

	assertUploadDirEmpty(t, ts.uploadDir)
}

func TestUploadMissingFields(t *testing.T) {
	ts := newTestServer(t)

	// No file part at all.
	body, ct := multipartBody(t, map[string]string{
		"postcode":  "SW1A 1AA",
		"form_name": "Before",
	}, "file", nil, nil)
	w := doUpload(t, ts, "/api/upload", body, ct)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeJSON(t, w)["error"]; got != "File, postcode, and form_name are required." {
		t.Fatalf("error = %v", got)
	}

	// Missing postcode.
	body, ct = multipartBody(t, map[string]string{
		"form_name": "Before",
	}, "file", []string{"house.jpg"}, testJPEG(t))
	w = doUpload(t, ts, "/api/upload", body, ct)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeJSON(t, w)["error"]; got != "File, postcode, and form_name are required." {
		t.Fatalf("error = %v", got)
	}
}

func TestUploadUnknownFormName(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"postcode":  "SW1A 1AA",
		"form_name": "Garden",
	}, "file", []string{"house.jpg"}, testJPEG(t))

	w := doUpload(t, ts, "/api/upload", body, ct)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeJSON(t, w)["error"]; got != `No mapped folder ID found for form_name: "Garden"` {
		t.Fatalf("error = %v", got)
	}

	ts.upstream.mu.Lock()
	defer ts.upstream.mu.Unlock()
	if ts.upstream.geocodeCalls != 0 || ts.upstream.driveCalls != 0 || ts.upstream.tokenCalls != 0 {
		t.Fatalf("rejected request reached upstreams: geocode=%d drive=%d token=%d",
			ts.upstream.geocodeCalls, ts.upstream.driveCalls, ts.upstream.tokenCalls)
	}
}

func TestUploadUnresolvablePostcode(t *testing.T) {
	ts := newTestServer(t)
	ts.upstream.geocodeStatus = "ZERO_RESULTS"

	body, ct := multipartBody(t, map[string]string{
		"postcode":  "ZZ99 9ZZ",
		"form_name": "Before",
	}, "file", []string{"house.jpg"}, testJPEG(t))

	w := doUpload(t, ts, "/api/upload", body, ct)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	ts.upstream.mu.Lock()
	drive := ts.upstream.driveCalls
	ts.upstream.mu.Unlock()
	if drive != 0 {
		t.Fatalf("geocode failure still reached the drive: %d calls", drive)
	}
	assertUploadDirEmpty(t, ts.uploadDir)
}

func TestUploadBatch(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"postcode":  "SW1A 1AA",
		"form_name": "After",
		"tag":       "rear",
	}, "files", []string{"one.jpg", "two.jpg"}, testJPEG(t))

	w := doUpload(t, ts, "/api/upload/batch", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	files, ok := resp["files"].([]interface{})
	if !ok || len(files) != 2 {
		t.Fatalf("files = %v", resp["files"])
	}
	for _, f := range files {
		entry := f.(map[string]interface{})
		if entry["error"] != nil {
			t.Fatalf("file %v reported error %v", entry["name"], entry["error"])
		}
	}
	shared, _ := resp["sharedFolderUrl"].(string)
	if !strings.HasPrefix(shared, "https://share.example/") {
		t.Fatalf("sharedFolderUrl = %q", shared)
	}
	assertUploadDirEmpty(t, ts.uploadDir)
}

func TestRecentUploads(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"postcode":  "SW1A 1AA",
		"form_name": "Before",
	}, "file", []string{"house.jpg"}, testJPEG(t))
	if w := doUpload(t, ts, "/api/upload", body, ct); w.Code != http.StatusOK {
		t.Fatalf("seed upload failed: %d %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/uploads?limit=5", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeJSON(t, w)
	uploads, ok := resp["uploads"].([]interface{})
	if !ok || len(uploads) != 1 {
		t.Fatalf("uploads = %v", resp["uploads"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/uploads?limit=0", nil)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d", w.Code)
	}
}
