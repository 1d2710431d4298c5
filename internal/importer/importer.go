// ABOUTME: Importer walks a document tree and feeds each file to the backend parser.
// ABOUTME: Outcomes land in JSON and markdown output trees and the optional resume ledger.

// Package importer bulk-imports documents through the backend's parsing
// endpoint.
//
// A run resolves the backend host once, walks the input directory, uploads
// every importable file, and mirrors the input tree under the output
// directory: the raw JSON response under json/ and the extracted text under
// markdown/. Failures are recorded and skipped; one broken document never
// stops a run.
package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/verbalab/verbactl/internal/api"
	"github.com/verbalab/verbactl/internal/ledger"
	"github.com/verbalab/verbactl/internal/metrics"
)

const (
	// DefaultEndpoint is the parsing route documents are posted to.
	DefaultEndpoint = "/parse_document/ppt"
	// DefaultOutputDir is where outputs land when no directory is given.
	DefaultOutputDir = "out"

	outputDirPerms  = 0o755
	outputFilePerms = 0o644
)

// DefaultExtensions lists the file extensions imported when no explicit
// filter is configured.
var DefaultExtensions = []string{".ppt", ".pptx", ".doc", ".docx", ".pdf", ".txt"}

// ignoredNames are filesystem noise that never gets uploaded regardless of
// extension filters.
var ignoredNames = map[string]struct{}{
	".DS_Store":  {},
	"Thumbs.db":  {},
	".gitignore": {},
}

// Options configures an import run.
type Options struct {
	// Client uploads documents and resolves the backend host.
	Client *api.Client
	// InputDir is the tree to import. It must exist.
	InputDir string
	// OutputDir receives the json/ and markdown/ trees. Empty means
	// DefaultOutputDir.
	OutputDir string
	// Endpoint overrides DefaultEndpoint.
	Endpoint string
	// Host pins the backend base URL. Empty means detect once per run.
	Host string
	// Extensions overrides DefaultExtensions. Entries are matched
	// case-insensitively and may omit the leading dot.
	Extensions []string
	// Ledger records per-document outcomes when set.
	Ledger *ledger.Store
	// Resume skips files a previous run already imported with the same
	// content hash. Requires Ledger.
	Resume   bool
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
	NewRunID func() string
}

// Importer uploads a directory of documents to the backend parser.
type Importer struct {
	client     *api.Client
	inputDir   string
	outputDir  string
	endpoint   string
	host       string
	extensions map[string]struct{}
	ledger     *ledger.Store
	resume     bool
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
	newRunID   func() string
}

// Summary reports what one run did.
type Summary struct {
	RunID     string `json:"run_id"`
	Host      string `json:"host"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// New validates opts and builds an Importer.
func New(opts Options) (*Importer, error) {
	if opts.Client == nil {
		return nil, errors.New("api client is required")
	}
	if strings.TrimSpace(opts.InputDir) == "" {
		return nil, errors.New("input directory is required")
	}
	inputDir, err := filepath.Abs(opts.InputDir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, fmt.Errorf("input directory does not exist: %s", inputDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", inputDir)
	}

	outputDir := strings.TrimSpace(opts.OutputDir)
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	if opts.Resume && opts.Ledger == nil {
		return nil, errors.New("resume requires a ledger")
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[ext] = struct{}{}
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	newRunID := opts.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}

	return &Importer{
		client:     opts.Client,
		inputDir:   inputDir,
		outputDir:  outputDir,
		endpoint:   endpoint,
		host:       strings.TrimSpace(opts.Host),
		extensions: extSet,
		ledger:     opts.Ledger,
		resume:     opts.Resume,
		logger:     logger,
		metrics:    opts.Metrics,
		newRunID:   newRunID,
	}, nil
}

// Run imports every matching file under the input directory.
//
// The backend host is resolved once at the start; documents within a run
// all go to the same backend. Per-document failures are counted and
// logged but do not stop the run. Run returns an error only when it
// cannot start (no reachable backend, unreadable input, ledger trouble)
// or when ctx is canceled mid-run.
func (imp *Importer) Run(ctx context.Context) (Summary, error) {
	host := imp.host
	if host == "" {
		resolved, err := imp.client.ResolveHost(ctx)
		if err != nil {
			return Summary{}, err
		}
		host = resolved
	}
	host = strings.TrimSuffix(host, "/")

	files, err := imp.collectFiles()
	if err != nil {
		return Summary{}, err
	}

	runID := imp.newRunID()
	summary := Summary{RunID: runID, Host: host, Total: len(files)}
	if len(files) == 0 {
		imp.logger.WithFields(logrus.Fields{"input_dir": imp.inputDir}).Info("no importable documents found")
		return summary, nil
	}
	imp.logger.WithFields(logrus.Fields{
		"run_id":    runID,
		"host":      host,
		"input_dir": imp.inputDir,
		"total":     summary.Total,
	}).Info("starting import")

	if imp.ledger != nil {
		run := ledger.Run{ID: runID, InputDir: imp.inputDir, Endpoint: imp.endpoint, Host: host}
		if err := imp.ledger.BeginRun(ctx, run); err != nil {
			return summary, err
		}
	}
	for _, sub := range []string{"json", "markdown"} {
		if err := os.MkdirAll(filepath.Join(imp.outputDir, sub), outputDirPerms); err != nil {
			return summary, fmt.Errorf("create output dir: %w", err)
		}
	}

	var runErr error
	for idx, rel := range files {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			imp.logger.WithFields(logrus.Fields{"run_id": runID, "remaining": summary.Total - idx}).Warn("import interrupted")
			break
		}
		imp.logger.WithFields(logrus.Fields{"index": idx + 1, "total": summary.Total, "path": rel}).Info("processing document")

		doc := imp.importOne(ctx, host, rel)
		doc.RunID = runID
		imp.record(ctx, doc)
		imp.metrics.IncDocument(string(doc.Status))

		switch doc.Status {
		case ledger.StatusImported:
			summary.Processed++
			imp.logger.WithFields(logrus.Fields{"path": rel}).Info("document imported")
		case ledger.StatusSkipped:
			summary.Skipped++
			imp.logger.WithFields(logrus.Fields{"path": rel}).Info("already imported, skipping")
		default:
			summary.Failed++
			imp.logger.WithFields(logrus.Fields{"path": rel, "error": doc.Error}).Warn("document import failed")
		}
	}

	if imp.ledger != nil {
		// The final stamp must land even when the run was canceled.
		finishCtx := context.WithoutCancel(ctx)
		if err := imp.ledger.FinishRun(finishCtx, runID, summary.Processed, summary.Failed, summary.Skipped); err != nil {
			imp.logger.WithFields(logrus.Fields{"run_id": runID, "error": err}).Warn("ledger finish failed")
		}
	}

	imp.logger.WithFields(logrus.Fields{
		"run_id":    runID,
		"host":      host,
		"total":     summary.Total,
		"processed": summary.Processed,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}).Info("import finished")
	return summary, runErr
}

// importOne handles a single file end to end and reports the outcome as a
// ledger document. It never returns an error; failures are carried in the
// document's status and reason.
func (imp *Importer) importOne(ctx context.Context, host, rel string) ledger.Document {
	doc := ledger.Document{RelPath: rel}
	abs := filepath.Join(imp.inputDir, filepath.FromSlash(rel))

	content, err := os.ReadFile(abs)
	if err != nil {
		doc.Status = ledger.StatusFailed
		doc.Error = fmt.Sprintf("read: %v", err)
		return doc
	}
	sum := sha256.Sum256(content)
	doc.SHA256 = hex.EncodeToString(sum[:])
	doc.SizeBytes = int64(len(content))

	if imp.resume {
		seen, err := imp.ledger.HasImported(ctx, rel, doc.SHA256)
		if err != nil {
			imp.logger.WithFields(logrus.Fields{"path": rel, "error": err}).Warn("ledger lookup failed")
		} else if seen {
			doc.Status = ledger.StatusSkipped
			return doc
		}
	}

	data, err := imp.client.UploadFile(ctx, host, imp.endpoint, filepath.Base(abs), bytes.NewReader(content))
	if err != nil {
		doc.Status = ledger.StatusFailed
		doc.Error = err.Error()
		return doc
	}
	if err := imp.writeOutputs(rel, data); err != nil {
		doc.Status = ledger.StatusFailed
		doc.Error = fmt.Sprintf("save outputs: %v", err)
		return doc
	}

	doc.Status = ledger.StatusImported
	return doc
}

// collectFiles walks the input tree and returns the importable files as
// slash-separated paths relative to the input directory, in walk order.
func (imp *Importer) collectFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(imp.inputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !imp.shouldImport(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(imp.inputDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", imp.inputDir, err)
	}
	return files, nil
}

func (imp *Importer) shouldImport(name string) bool {
	if _, ok := ignoredNames[name]; ok {
		return false
	}
	_, ok := imp.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// writeOutputs mirrors the document's position in the input tree under the
// output directory: the full response under json/, and the response's
// "text" field under markdown/ when present. Spaces in the file stem are
// replaced with underscores.
func (imp *Importer) writeOutputs(rel string, data []byte) error {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	relDir := filepath.Dir(filepath.FromSlash(rel))
	stem := safeStem(filepath.Base(rel))

	jsonDir := filepath.Join(imp.outputDir, "json", relDir)
	if err := os.MkdirAll(jsonDir, outputDirPerms); err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := os.WriteFile(filepath.Join(jsonDir, stem+".json"), buf.Bytes(), outputFilePerms); err != nil {
		return err
	}

	text, ok := textField(payload)
	if !ok {
		return nil
	}
	mdDir := filepath.Join(imp.outputDir, "markdown", relDir)
	if err := os.MkdirAll(mdDir, outputDirPerms); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(mdDir, stem+".md"), []byte(text), outputFilePerms)
}

// record writes the document outcome to the ledger when one is configured.
// Ledger write failures are logged, not fatal; losing resume data is better
// than losing the import.
func (imp *Importer) record(ctx context.Context, doc ledger.Document) {
	if imp.ledger == nil {
		return
	}
	if err := imp.ledger.RecordDocument(ctx, doc); err != nil {
		imp.logger.WithFields(logrus.Fields{"path": doc.RelPath, "error": err}).Warn("ledger write failed")
	}
}

func textField(payload any) (string, bool) {
	doc, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := doc["text"].(string)
	return text, ok
}

func safeStem(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.ReplaceAll(stem, " ", "_")
}
