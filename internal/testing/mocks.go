// Package testing provides shared test utilities for verbactl.
package testing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockVerbaBackend is a scriptable fake of the Verba HTTP backend for testing.
//
// It serves the health, config, connect, and document parsing endpoints the
// CLI talks to, captures every request it receives, and can be scripted to
// fail specific uploads or report the deployment as unhealthy.
type MockVerbaBackend struct {
	mu sync.Mutex

	Healthy       bool
	Production    string
	ConfigBody    any
	ConnectStatus int
	ConnectBody   any
	ParseText     string

	parseFailures map[string]int
	delay         time.Duration

	healthProbes int
	uploads      []*MockUpload
	connects     []*MockConnect
}

// MockUpload is a captured document upload.
type MockUpload struct {
	Endpoint string
	Field    string
	Filename string
	Content  []byte
	At       time.Time
}

// MockConnect is a captured connect request.
type MockConnect struct {
	Deployment     string
	WeaviateURL    string
	WeaviateAPIKey string
	RawBody        []byte
	At             time.Time
}

// NewMockVerbaBackend creates a healthy mock backend with default responses.
func NewMockVerbaBackend() *MockVerbaBackend {
	return &MockVerbaBackend{
		Healthy:       true,
		Production:    "Local",
		ConnectStatus: http.StatusOK,
		ParseText:     "# parsed",
		parseFailures: make(map[string]int),
	}
}

// ServeHTTP implements http.Handler.
func (m *MockVerbaBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/health":
		m.healthProbes++
		if !m.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		m.writeJSON(w, http.StatusOK, map[string]any{
			"message":    "Alive!",
			"production": m.Production,
			"gtag":       "",
		})

	case r.Method == http.MethodGet && r.URL.Path == "/api/config":
		body := m.ConfigBody
		if body == nil {
			body = map[string]any{"RAG": map[string]any{}, "SETTING": map[string]any{}}
		}
		m.writeJSON(w, http.StatusOK, body)

	case r.Method == http.MethodPost && r.URL.Path == "/api/connect":
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Deployment     string `json:"deployment"`
			WeaviateURL    string `json:"weaviateURL"`
			WeaviateAPIKey string `json:"weaviateAPIKey"`
		}
		_ = json.Unmarshal(raw, &req)
		m.connects = append(m.connects, &MockConnect{
			Deployment:     req.Deployment,
			WeaviateURL:    req.WeaviateURL,
			WeaviateAPIKey: req.WeaviateAPIKey,
			RawBody:        raw,
			At:             time.Now(),
		})
		body := m.ConnectBody
		if body == nil {
			body = map[string]any{"connected": true, "error": ""}
		}
		m.writeJSON(w, m.ConnectStatus, body)

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/parse_document/"):
		file, header, err := r.FormFile("file")
		if err != nil {
			m.writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		content, _ := io.ReadAll(file)
		_ = file.Close()
		m.uploads = append(m.uploads, &MockUpload{
			Endpoint: r.URL.Path,
			Field:    "file",
			Filename: header.Filename,
			Content:  content,
			At:       time.Now(),
		})
		if status, ok := m.parseFailures[header.Filename]; ok {
			m.writeJSON(w, status, map[string]any{"error": "parse failed"})
			return
		}
		m.writeJSON(w, http.StatusOK, map[string]any{
			"text":     m.ParseText,
			"filename": header.Filename,
			"size":     len(content),
		})

	default:
		http.NotFound(w, r)
	}
}

func (m *MockVerbaBackend) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(body)
}

// FailParse scripts the next uploads of the named file to return the given
// HTTP status instead of a parsed document.
func (m *MockVerbaBackend) FailParse(filename string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parseFailures[filename] = status
}

// SetDelay sets an artificial delay for all responses.
func (m *MockVerbaBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// HealthProbes returns how many times /api/health was requested.
func (m *MockVerbaBackend) HealthProbes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthProbes
}

// Uploads returns all captured document uploads.
func (m *MockVerbaBackend) Uploads() []*MockUpload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// UploadedFilenames returns the filenames of all captured uploads in order.
func (m *MockVerbaBackend) UploadedFilenames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.uploads))
	for _, u := range m.uploads {
		names = append(names, u.Filename)
	}
	return names
}

// Connects returns all captured connect requests.
func (m *MockVerbaBackend) Connects() []*MockConnect {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Reset clears all captured requests and scripted failures.
func (m *MockVerbaBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthProbes = 0
	m.uploads = nil
	m.connects = nil
	m.parseFailures = make(map[string]int)
}

// NewTestServer starts an httptest server backed by the mock and closes it
// when the test completes.
func (m *MockVerbaBackend) NewTestServer(t interface {
	Cleanup(func())
}) *httptest.Server {
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv
}

var _ fmt.Stringer = (*MockUpload)(nil)

// String describes the upload for test failure messages.
func (u *MockUpload) String() string {
	return fmt.Sprintf("%s (%d bytes) -> %s", u.Filename, len(u.Content), u.Endpoint)
}
