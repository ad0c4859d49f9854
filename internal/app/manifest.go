package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/hyperifyio/regdoc/internal/extract"
)

// manifestDocument identifies the exact document a summary was built from.
type manifestDocument struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// manifestBackend records how one extraction backend fared.
type manifestBackend struct {
	Name       string  `json:"name"`
	OK         bool    `json:"ok"`
	Chars      int     `json:"chars"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// manifestMeta captures high-level run details that aid reproducibility.
type manifestMeta struct {
	Organization  string    `json:"organization,omitempty"`
	Model         string    `json:"model,omitempty"`
	LLMBaseURL    string    `json:"llm_base_url,omitempty"`
	Method        string    `json:"method"`
	Winner        string    `json:"winner"`
	SummarySHA256 string    `json:"summary_sha256"`
	Attempts      int       `json:"attempts"`
	TotalMS       float64   `json:"total_ms"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// computeSHA256Hex returns a lowercase hex-encoded SHA-256 of the given text.
func computeSHA256Hex(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// fileSHA256Hex hashes a file without loading it into memory.
func fileSHA256Hex(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func manifestBackends(cands []extract.Candidate) []manifestBackend {
	out := make([]manifestBackend, 0, len(cands))
	for _, c := range cands {
		b := manifestBackend{
			Name:       c.Backend,
			OK:         c.OK,
			Chars:      c.Length,
			DurationMS: milliseconds(c.Duration),
		}
		if c.Err != nil {
			b.Error = c.Err.Error()
		}
		out = append(out, b)
	}
	return out
}

// marshalManifestJSON encodes the machine-readable sidecar manifest.
func marshalManifestJSON(meta manifestMeta, doc manifestDocument, backends []manifestBackend) ([]byte, error) {
	payload := struct {
		Meta     manifestMeta      `json:"meta"`
		Document manifestDocument  `json:"document"`
		Backends []manifestBackend `json:"backends"`
	}{Meta: meta, Document: doc, Backends: backends}
	return json.MarshalIndent(payload, "", "  ")
}

// deriveManifestSidecarPath returns a sidecar JSON path next to the summary.
func deriveManifestSidecarPath(outputPath string) string {
	return outputPath + ".manifest.json"
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
