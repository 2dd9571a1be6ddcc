// Package artifact implements the Artifact Writer (spec.md §4.8): per-
// response body files, the results CSV, and the append-only run log.
//
// Grounded on internal/report/report.go's os.Create/file-writing shape and
// pkg/config/config.go's os.WriteFile use. Stdlib (mime, encoding/csv, os):
// extension-from-content-type is a closed lookup table per §4.8, not
// something a library adds value over, and mime.ParseMediaType already
// strips the parameters we need stripped.
package artifact

import (
	"encoding/csv"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ericwastaken/payloadstash/internal/models"
)

// extensionByMediaType is the closed table from spec.md §4.8.
var extensionByMediaType = map[string]string{
	"application/json": ".json",
	"text/plain":       ".txt",
	"text/csv":         ".csv",
	"application/xml":  ".xml",
	"text/xml":         ".xml",
	"application/pdf":  ".pdf",
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
}

// Extension resolves a response's Content-Type and status into the file
// extension spec.md §4.8 mandates, lower-casing and stripping parameters
// from the primary media type first.
func Extension(contentType string, status int) string {
	if status < 0 || contentType == "" {
		return ".txt"
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	if ext, ok := extensionByMediaType[mt]; ok {
		return ext
	}
	return ".txt"
}

// ResponsePath builds the deterministic per-response file path: §4.8's
// <out>/<stash-name>/<run-timestamp>/seq<NNN>-<sequence-name>/
// req<NNN>-<request-key>-response.<ext>.
func ResponsePath(runDir string, seqIndex int, seqName string, reqIndex int, requestKey string, ext string) string {
	seqDir := fmt.Sprintf("seq%03d-%s", seqIndex, sanitizeName(seqName))
	file := fmt.Sprintf("req%03d-%s-response%s", reqIndex, sanitizeName(requestKey), ext)
	return filepath.Join(runDir, seqDir, file)
}

// sanitizeName strips path separators from a name so it cannot escape the
// run directory when used as a path component.
func sanitizeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_")
	return r.Replace(name)
}

// WriteResponseBody writes one outcome's response body verbatim to its
// deterministic path, or a short diagnostic text when there is no body.
func WriteResponseBody(runDir string, outcome models.RequestOutcome) (string, error) {
	ext := Extension(outcome.Final.ContentType, outcome.Final.Status)
	path := ResponsePath(runDir, outcome.Request.SequenceIndex, outcome.Request.SequenceName,
		outcome.Request.RequestIndex, outcome.Request.RequestKey, ext)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create response directory: %w", err)
	}

	body := outcome.Final.BodyBytes
	if len(body) == 0 {
		body = []byte(diagnosticText(outcome))
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write response body: %w", err)
	}
	return path, nil
}

func diagnosticText(outcome models.RequestOutcome) string {
	if outcome.DryRun {
		return "dry-run: no request was sent\n"
	}
	if outcome.Final.Err != nil {
		return fmt.Sprintf("no response body (error: %s)\n", outcome.Final.Err)
	}
	return "no response body\n"
}

// ResultRow is one row of the results CSV.
type ResultRow struct {
	SequenceIndex int
	SequenceName  string
	RequestIndex  int
	RequestKey    string
	Timestamp     time.Time
	Status        int
	DurationMS    int64
	Attempts      int
}

func rowFromOutcome(o models.RequestOutcome) ResultRow {
	return ResultRow{
		SequenceIndex: o.Request.SequenceIndex,
		SequenceName:  o.Request.SequenceName,
		RequestIndex:  o.Request.RequestIndex,
		RequestKey:    o.Request.RequestKey,
		Timestamp:     o.StartedAt,
		Status:        o.Final.Status,
		DurationMS:    o.Final.Elapsed.Milliseconds(),
		Attempts:      o.Attempts,
	}
}

// WriteResultsCSV writes the results CSV per spec.md §4.8: header row, then
// one row per outcome, sorted by (sequence-index, request-index) regardless
// of completion order. Zero-value outcomes (RequestKey == "", left behind
// by a scheduler early-stop on an undispatched slot) are skipped.
func WriteResultsCSV(path string, outcomes []models.RequestOutcome) error {
	rows := make([]ResultRow, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Request.RequestKey == "" {
			continue
		}
		rows = append(rows, rowFromOutcome(o))
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SequenceIndex != rows[j].SequenceIndex {
			return rows[i].SequenceIndex < rows[j].SequenceIndex
		}
		return rows[i].RequestIndex < rows[j].RequestIndex
	})

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"sequence", "request", "timestamp", "status", "duration_ms", "attempts"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.SequenceName,
			r.RequestKey,
			r.Timestamp.UTC().Format(time.RFC3339),
			strconv.Itoa(r.Status),
			strconv.FormatInt(r.DurationMS, 10),
			strconv.Itoa(r.Attempts),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Logger is the append-only run log: run start/end, resolution notices,
// per-request start/completion, retry-wait decisions, and non-fatal
// errors, serialized behind a mutex since a Concurrent sequence's worker
// group writes to it from multiple goroutines (spec.md §5 "shared
// resources").
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// OpenLogger creates (or truncates) the run log at path.
func OpenLogger(path string) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	return &Logger{file: f}, nil
}

func (l *Logger) Close() error {
	return l.file.Close()
}

func (l *Logger) line(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().UTC().Format(time.RFC3339)
	fmt.Fprintf(l.file, "%s %s\n", ts, fmt.Sprintf(format, args...))
}

func (l *Logger) RunStarted(stashName string, sequenceCount, requestCount int) {
	l.line("run start stash=%q sequences=%d requests=%d", stashName, sequenceCount, requestCount)
}

func (l *Logger) RunEnded(exitCode int) {
	l.line("run end exit_code=%d", exitCode)
}

func (l *Logger) ResolutionNotice(msg string) {
	l.line("resolve %s", msg)
}

func (l *Logger) RequestStarted(seqName, requestKey string) {
	l.line("request start sequence=%q request=%q", seqName, requestKey)
}

func (l *Logger) RequestCompleted(seqName, requestKey string, status int, elapsed time.Duration, attempts int) {
	l.line("request done sequence=%q request=%q status=%d elapsed=%s attempts=%d",
		seqName, requestKey, status, elapsed.Round(time.Millisecond), attempts)
}

func (l *Logger) RetryWait(seqName, requestKey string, attempt int, wait time.Duration) {
	l.line("retry wait sequence=%q request=%q attempt=%d delay=%s", seqName, requestKey, attempt, wait.Round(time.Millisecond))
}

func (l *Logger) NonFatalError(context string, err error) {
	l.line("error context=%q err=%q", context, SanitizeError(err))
}

// SanitizeError strips ephemeral ip:port tuples from network error text so
// repeated failures of the same class aggregate in the log and the HTML
// summary instead of producing one distinct line per ephemeral port
// (adapted from internal/stats/helper.go's sanitizeError).
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return sanitizeIPPort(err.Error())
}

var (
	rePortPair   = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d+->\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d+`)
	reSinglePort = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d+`)
)

func sanitizeIPPort(msg string) string {
	msg = rePortPair.ReplaceAllString(msg, "[CONN_TUPLE]")
	msg = reSinglePort.ReplaceAllString(msg, "[IP]:[PORT]")
	return msg
}
