package app

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, Result) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var res Result
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, res
}

func TestServer_ProcessCompanyStatuses(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = 0
	tests := []struct {
		name    string
		results string
		body    string
		status  int
		stage   string
	}{
		{"complete", resultsPage, `{"company":"Musterverein e.V."}`, http.StatusOK, StageComplete},
		{"too short", resultsPage, `{"company":"AB"}`, http.StatusBadRequest, "validation"},
		{"not json", resultsPage, `company=Musterverein`, http.StatusBadRequest, "validation"},
		{"no results", emptyPage, `{"company":"Unbekannter Verein"}`, http.StatusUnprocessableEntity, "query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(newTestApp(t, cfg, staticRegistry(tt.results)))
			rec, res := doJSON(t, s, http.MethodPost, "/api/process-company", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status=%d want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if res.Stage != tt.stage {
				t.Fatalf("stage=%q want %q", res.Stage, tt.stage)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Fatalf("missing request id header")
			}
		})
	}
}

func TestServer_RateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	s := NewServer(newTestApp(t, cfg, staticRegistry(resultsPage)))

	if rec, _ := doJSON(t, s, http.MethodPost, "/api/process-company", `{"company":"AB"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("first request status=%d", rec.Code)
	}
	rec, res := doJSON(t, s, http.MethodPost, "/api/process-company", `{"company":"AB"}`)
	if rec.Code != http.StatusTooManyRequests || res.Success {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec, _ := doJSON(t, s, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", rec.Code)
	}
}

func upload(t *testing.T, s *Server, name string, content []byte) (*httptest.ResponseRecorder, Result) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/upload-pdf", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, rec.Body.String())
	}
	return rec, res
}

func TestServer_UploadPDF(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = 0
	s := NewServer(newTestApp(t, cfg, staticRegistry(resultsPage)))

	rec, res := upload(t, s, "../../Auszug VR 1234.pdf", []byte("%PDF-1.4 uploaded"))
	if rec.Code != http.StatusOK || !res.Success {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if filepath.Dir(res.FilePath) != cfg.DownloadDir {
		t.Fatalf("upload must be stored in the download dir, got %q", res.FilePath)
	}
	if !strings.HasPrefix(res.Filename, "Auszug_VR_1234_upload_") {
		t.Fatalf("unexpected stored name %q", res.Filename)
	}

	rec, res = upload(t, s, "notes.txt", []byte("hello"))
	if rec.Code != http.StatusUnprocessableEntity || res.Stage != "extraction" {
		t.Fatalf("expected 422 extraction rejection, got %d %q", rec.Code, res.Stage)
	}
}

func TestServer_UploadTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = 0
	cfg.MaxDocumentBytes = 16
	s := NewServer(newTestApp(t, cfg, staticRegistry(resultsPage)))

	rec, res := upload(t, s, "big.pdf", bytes.Repeat([]byte("x"), 64))
	if rec.Code != http.StatusUnprocessableEntity || res.Success {
		t.Fatalf("expected rejection, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_Download(t *testing.T) {
	cfg := testConfig(t)
	s := NewServer(newTestApp(t, cfg, staticRegistry(resultsPage)))
	if err := os.WriteFile(filepath.Join(cfg.DownloadDir, "doc.pdf"), []byte("%PDF-1.4 stored"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/doc.pdf", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "%PDF-1.4 stored" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "doc.pdf") {
		t.Fatalf("missing attachment header")
	}

	for path, want := range map[string]int{
		"/download/missing.pdf": http.StatusNotFound,
		"/download/.attempts":   http.StatusBadRequest,
	} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: status=%d want %d", path, rec.Code, want)
		}
	}
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]bool{
		"doc.pdf":         true,
		"Muster_CD_1.pdf": true,
		"":                false,
		"..":              false,
		"../etc/passwd":   false,
		`..\boot.ini`:     false,
		"a/b.pdf":         false,
		".env":            false,
	}
	for name, want := range cases {
		if got := safeFilename(name); got != want {
			t.Fatalf("safeFilename(%q)=%v want %v", name, got, want)
		}
	}
}

func TestServer_Health(t *testing.T) {
	s := NewServer(newTestApp(t, testConfig(t), staticRegistry(resultsPage)))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["status"] != "healthy" {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_Metrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = 0
	s := NewServer(newTestApp(t, cfg, staticRegistry(resultsPage)))
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/process-company", `{"company":"Musterverein e.V."}`); rec.Code != http.StatusOK {
		t.Fatalf("process status=%d", rec.Code)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`regdoc_runs_total{stage="complete",success="true"} 1`,
		`regdoc_extraction_winner_total{backend="long"} 1`,
		`regdoc_http_requests_total{method="POST",route="/api/process-company",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
