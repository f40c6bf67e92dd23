// Package report writes one directory per evaluated candidate and
// aggregates those directories into a manifest.
package report

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"quill/internal/runinfo"
	"quill/internal/util"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const (
	// SummaryName is the per-case metadata file.
	SummaryName = "summary.json"
	// CaseArchiveName is the compressed copy of a case directory.
	CaseArchiveName = "case.tar.zst"
	// CaseArchiveCodec names the archive compression.
	CaseArchiveCodec = "zstd"
)

const readme = `# Evaluation Case

- Schema: schema.sql
- Original query: original.sql
- Optimized query: optimized.sql
- Outcome: summary.json
`

// Reporter writes case artifacts to disk.
type Reporter struct {
	OutputDir   string
	UseUUIDPath bool
	caseSeq     int
}

// Case describes a report directory.
type Case struct {
	ID  string
	Dir string
}

// Readability records the judge verdict for a case.
type Readability struct {
	Preference string  `json:"preference"`
	Confidence string  `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Bonus      float64 `json:"bonus"`
}

// Summary captures the persisted outcome of one evaluation.
type Summary struct {
	CaseID            string             `json:"case_id"`
	CaseDir           string             `json:"case_dir"`
	InputID           string             `json:"input_id"`
	Description       string             `json:"description,omitempty"`
	OptimizationType  string             `json:"optimization_type,omitempty"`
	Success           bool               `json:"success"`
	Accepted          bool               `json:"accepted"`
	Reward            float64            `json:"reward"`
	BaseReward        float64            `json:"base_reward"`
	Speedup           float64            `json:"speedup"`
	OriginalTimeMs    float64            `json:"original_time_ms"`
	OptimizedTimeMs   float64            `json:"optimized_time_ms"`
	OriginalStdDevMs  float64            `json:"original_stddev_ms"`
	OptimizedStdDevMs float64            `json:"optimized_stddev_ms"`
	ResultsMatch      bool               `json:"results_match"`
	OriginalTimedOut  bool               `json:"original_timed_out"`
	OriginalStatus    string             `json:"original_status"`
	OptimizedStatus   string             `json:"optimized_status"`
	Readability       *Readability       `json:"readability,omitempty"`
	Error             string             `json:"error"`
	ErrorDetail       string             `json:"error_detail"`
	NumRuns           int                `json:"num_runs"`
	TimeoutSeconds    float64            `json:"timeout_seconds"`
	UploadLocation    string             `json:"upload_location"`
	ArchiveName       string             `json:"archive_name"`
	ArchiveCodec      string             `json:"archive_codec"`
	Details           map[string]any     `json:"details"`
	RunInfo           *runinfo.BasicInfo `json:"run_info,omitempty"`
	Timestamp         string             `json:"timestamp"`
}

// New creates a reporter that writes to outputDir.
func New(outputDir string) *Reporter {
	return &Reporter{OutputDir: outputDir}
}

// NewCase allocates a new case directory.
func (r *Reporter) NewCase() (Case, error) {
	r.caseSeq++
	caseID := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		caseID = v7.String()
	}
	caseDir := fmt.Sprintf("case_%04d_%s", r.caseSeq, caseID)
	if r.UseUUIDPath {
		caseDir = caseID
	}
	dir := filepath.Join(r.OutputDir, caseDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Case{}, errors.Wrapf(err, "create case dir %s", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644); err != nil {
		return Case{}, errors.Wrap(err, "write case readme")
	}
	return Case{ID: caseID, Dir: dir}, nil
}

// WriteSummary writes summary.json into the case directory. Map keys are
// sorted by encoding/json, so output is stable for equal summaries.
func (r *Reporter) WriteSummary(c Case, summary Summary) error {
	f, err := os.Create(filepath.Join(c.Dir, SummaryName))
	if err != nil {
		return err
	}
	defer util.CloseWithErr(f, "summary output")
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(summary)
}

// ReadSummary loads summary.json from dir.
func ReadSummary(dir string) (Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, SummaryName))
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, errors.Wrapf(err, "decode %s", filepath.Join(dir, SummaryName))
	}
	return s, nil
}

// WriteSQL writes query text as a .sql file, terminated by a newline.
func (r *Reporter) WriteSQL(c Case, name string, text string) error {
	text = strings.TrimRight(strings.TrimSpace(text), ";")
	if text != "" {
		text += ";\n"
	}
	return r.WriteText(c, name, text)
}

// WriteText writes raw text content into the case directory.
func (r *Reporter) WriteText(c Case, name string, content string) error {
	path := filepath.Join(c.Dir, name)
	if dir := filepath.Dir(path); dir != c.Dir {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// WriteCaseArchive creates a compressed tar of the case directory.
func (r *Reporter) WriteCaseArchive(c Case) (name string, codec string, err error) {
	archivePath := filepath.Join(c.Dir, CaseArchiveName)
	if removeErr := os.Remove(archivePath); removeErr != nil && !os.IsNotExist(removeErr) {
		return "", "", removeErr
	}
	defer func() {
		if err != nil {
			_ = os.Remove(archivePath)
		}
	}()
	file, err := os.Create(archivePath)
	if err != nil {
		return "", "", err
	}
	defer util.CloseWithErr(file, "archive output")

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return "", "", err
	}
	defer func() {
		if closeErr := zw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()
	tw := tar.NewWriter(zw)
	defer func() {
		if closeErr := tw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	walkErr := filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || path == archivePath {
			return nil
		}
		return addToArchive(tw, c.Dir, path, d)
	})
	if walkErr != nil {
		return "", "", walkErr
	}
	return CaseArchiveName, CaseArchiveCodec, nil
}

func addToArchive(tw *tar.Writer, root, path string, d fs.DirEntry) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	info, err := d.Info()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(src, "archive source")
	_, err = io.Copy(tw, src)
	return err
}

// ReadCaseArchive lists the files stored in a case archive with their
// contents.
func ReadCaseArchive(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer util.CloseWithErr(f, "archive input")
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "open zstd stream")
	}
	defer zr.Close()
	out := make(map[string][]byte)
	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read archive entry")
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", header.Name)
		}
		out[header.Name] = data
	}
}
