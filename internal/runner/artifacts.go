// File: internal/runner/artifacts.go
package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ArtifactStore owns the per-run output directory: the action audit trail,
// persisted observations, and raw vision responses. One store per run.
type ArtifactStore struct {
	dir    string
	obsDir string
	logger *zap.Logger
}

// NewArtifactStore creates a fresh run directory under logRoot, named with a
// timestamp plus a short random suffix so concurrent runs never collide.
func NewArtifactStore(logRoot string, logger *zap.Logger) (*ArtifactStore, error) {
	stamp := time.Now().UTC().Format("20060102-150405")
	suffix := uuid.NewString()[:8]
	dir := filepath.Join(logRoot, fmt.Sprintf("agent-run-%s-%s", stamp, suffix))
	obsDir := filepath.Join(dir, "observations")
	if err := os.MkdirAll(obsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", dir, err)
	}
	logger.Info("Run artifacts", zap.String("dir", dir))
	return &ArtifactStore{dir: dir, obsDir: obsDir, logger: logger}, nil
}

// Dir returns the run directory.
func (s *ArtifactStore) Dir() string { return s.dir }

// LogAction appends a timestamped entry to the actions.jsonl audit trail.
// Logging failures are reported but never interrupt the run.
func (s *ArtifactStore) LogAction(entry map[string]any) {
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("Failed to encode action entry", zap.Error(err))
		return
	}
	path := filepath.Join(s.dir, "actions.jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("Failed to open action log", zap.Error(err))
		return
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		s.logger.Warn("Failed to append action entry", zap.Error(err))
	}
}

// SaveObservation writes an observation as pretty-printed JSON to the given
// file name inside the run directory tree.
func (s *ArtifactStore) SaveObservation(name string, obs *schemas.Observation) {
	data, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		s.logger.Warn("Failed to encode observation", zap.Error(err))
		return
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("Failed to persist observation",
			zap.String("path", path), zap.Error(err))
	}
}

// StepObservationName returns the per-step observation file name, with an
// optional suffix for focused passes.
func StepObservationName(step int, suffix string) string {
	if suffix != "" {
		return filepath.Join("observations", fmt.Sprintf("observation-%03d-%s.json", step, suffix))
	}
	return filepath.Join("observations", fmt.Sprintf("observation-%03d.json", step))
}

// RawVisionPath returns the absolute path for a step's raw model response.
func (s *ArtifactStore) RawVisionPath(step int, suffix string) string {
	if suffix != "" {
		return filepath.Join(s.obsDir, fmt.Sprintf("vision_raw-%s-%03d.txt", suffix, step))
	}
	return filepath.Join(s.obsDir, fmt.Sprintf("vision_raw-%03d.txt", step))
}

// BootstrapRawPath returns the path for the bootstrap vision response.
func (s *ArtifactStore) BootstrapRawPath() string {
	return filepath.Join(s.dir, "vision_raw.txt")
}
