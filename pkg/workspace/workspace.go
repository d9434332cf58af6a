package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LogFileName is the per-job training log inside the job directory
const LogFileName = "output.log"

// Workspace owns the on-disk layout shared between producer and worker:
//
//	<dataDir>/uploads/<job_id>.zip   submitted archive
//	<dataDir>/jobs/<job_id>/         extracted contents + output.log
//	<dataDir>/outputs/<job_id>/      mounted at /output in the container
//
// When the worker itself runs inside a container, hostDataDir is the host
// path mapped to dataDir and HostPath rewrites bind-mount sources
// accordingly.
type Workspace struct {
	dataDir     string
	hostDataDir string
}

// New creates a Workspace rooted at dataDir. hostDataDir may be empty
// (worker running directly on the host).
func New(dataDir, hostDataDir string) *Workspace {
	return &Workspace{
		dataDir:     dataDir,
		hostDataDir: hostDataDir,
	}
}

// EnsureLayout creates the uploads/jobs/outputs subtrees
func (w *Workspace) EnsureLayout() error {
	for _, dir := range []string{w.UploadsDir(), w.JobsDir(), w.OutputsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// UploadsDir returns the directory holding submitted archives
func (w *Workspace) UploadsDir() string {
	return filepath.Join(w.dataDir, "uploads")
}

// JobsDir returns the root of per-job workspaces
func (w *Workspace) JobsDir() string {
	return filepath.Join(w.dataDir, "jobs")
}

// OutputsDir returns the root of per-job output directories
func (w *Workspace) OutputsDir() string {
	return filepath.Join(w.dataDir, "outputs")
}

// UploadPath returns the archive path for a job
func (w *Workspace) UploadPath(jobID string) string {
	return filepath.Join(w.UploadsDir(), jobID+".zip")
}

// JobDir returns the extraction directory for a job
func (w *Workspace) JobDir(jobID string) string {
	return filepath.Join(w.JobsDir(), jobID)
}

// OutputDir returns the output directory for a job
func (w *Workspace) OutputDir(jobID string) string {
	return filepath.Join(w.OutputsDir(), jobID)
}

// LogPath returns the job's output.log path
func (w *Workspace) LogPath(jobID string) string {
	return filepath.Join(w.JobDir(jobID), LogFileName)
}

// PrepareJob extracts the job's uploaded archive into its job directory
// and creates the output directory. Returns the two directories.
func (w *Workspace) PrepareJob(jobID string) (jobDir, outputDir string, err error) {
	jobDir = w.JobDir(jobID)
	outputDir = w.OutputDir(jobID)

	if err := ExtractArchive(w.UploadPath(jobID), jobDir); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return jobDir, outputDir, nil
}

// HostPath translates a path under dataDir into its host-visible
// equivalent for sibling-container bind mounts. Without hostDataDir the
// path comes back absolute but otherwise untouched.
func (w *Workspace) HostPath(path string) string {
	if w.hostDataDir == "" {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}

	rel, err := filepath.Rel(w.dataDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.Join(w.hostDataDir, rel)
}
