// Package jobstore keeps the pending queue and the job records as plain files, so that the state of the
// scheduler can be inspected and repaired with a shell.
package jobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gammadia/gpumux/scheduler"
	"github.com/samber/lo"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/storage"
)

const PendingFile = "pending_jobs.txt"

var ErrNotFound = errors.New("not found")

var _ scheduler.Store = (*Store)(nil)

type Store struct {
	fs     afs.Service
	root   string
	logger *slog.Logger
}

// New opens the store rooted at dir, creating the running and completed directories when missing.
func New(ctx context.Context, dir string, logger *slog.Logger) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}

	s := &Store{
		fs:     afs.New(),
		root:   root,
		logger: logger,
	}

	for _, phase := range []scheduler.Phase{scheduler.PhaseRunning, scheduler.PhaseCompleted} {
		dir := s.Dir(phase)
		if exists, _ := s.fs.Exists(ctx, dir); !exists {
			if err := s.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("failed to create %s directory: %w", phase, err)
			}
		}
	}
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory holding the records of a phase.
func (s *Store) Dir(phase scheduler.Phase) string {
	return path.Join(s.root, string(phase))
}

func (s *Store) recordPath(phase scheduler.Phase, id int, suffix string) string {
	return path.Join(s.Dir(phase), fmt.Sprintf("%d.%s", id, suffix))
}

func (s *Store) LoadPending(ctx context.Context) ([]string, error) {
	data, err := s.download(ctx, path.Join(s.root, PendingFile))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return scheduler.ParseQueue(string(data)), nil
}

func (s *Store) SavePending(ctx context.Context, pending []string) error {
	return s.write(ctx, path.Join(s.root, PendingFile), []byte(scheduler.FormatQueue(pending)), file.DefaultFileOsMode)
}

func (s *Store) List(ctx context.Context, phase scheduler.Phase) ([]*scheduler.Job, error) {
	objects, err := s.fs.List(ctx, s.Dir(phase))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", phase, err)
	}

	jobs := map[int]*scheduler.Job{}
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		id, suffix, ok := parseRecordName(object.Name())
		if !ok {
			continue
		}

		job, exists := jobs[id]
		if !exists {
			job = &scheduler.Job{ID: id}
			jobs[id] = job
		}
		if err := s.readField(ctx, job, suffix, object); err != nil {
			return nil, err
		}
	}

	result := lo.Values(jobs)
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) readField(ctx context.Context, job *scheduler.Job, suffix string, object storage.Object) error {
	var target **int
	switch suffix {
	case scheduler.SuffixResource:
		target = &job.Resource
		job.StartedAt = object.ModTime()
	case scheduler.SuffixStatus:
		target = &job.Status
		job.EndedAt = object.ModTime()
	case scheduler.SuffixCommand:
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			return fmt.Errorf("failed to read command of job %d: %w", job.ID, err)
		}
		job.Command = lo.ToPtr(string(data))
		return nil
	default:
		return nil
	}

	data, err := s.fs.Download(ctx, object)
	if err != nil {
		return fmt.Errorf("failed to read %s of job %d: %w", suffix, job.ID, err)
	}
	value, err := parseInt(data)
	if errors.Is(err, errEmpty) && suffix == scheduler.SuffixStatus {
		// the script is still writing it
		job.EndedAt = time.Time{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s of job %d: %w", suffix, job.ID, err)
	}
	*target = &value
	return nil
}

func (s *Store) Persist(ctx context.Context, job *scheduler.Job, artifacts []scheduler.Artifact) error {
	if job.Resource == nil || job.Command == nil {
		return fmt.Errorf("job %d has no resource or command", job.ID)
	}

	for _, artifact := range artifacts {
		if err := s.write(ctx, s.recordPath(scheduler.PhaseRunning, job.ID, artifact.Suffix), artifact.Data, artifact.Mode); err != nil {
			return err
		}
	}

	// The resource file goes last: its presence implies a complete record
	if err := s.write(ctx, s.recordPath(scheduler.PhaseRunning, job.ID, scheduler.SuffixCommand), []byte(*job.Command), file.DefaultFileOsMode); err != nil {
		return err
	}
	return s.write(ctx, s.recordPath(scheduler.PhaseRunning, job.ID, scheduler.SuffixResource), []byte(strconv.Itoa(*job.Resource)), file.DefaultFileOsMode)
}

func (s *Store) ReadStatus(ctx context.Context, id int) (*int, error) {
	data, err := s.download(ctx, s.recordPath(scheduler.PhaseRunning, id, scheduler.SuffixStatus))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	status, err := parseInt(data)
	if errors.Is(err, errEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse status of job %d: %w", id, err)
	}
	return &status, nil
}

func (s *Store) HasArtifact(ctx context.Context, phase scheduler.Phase, id int, suffix string) (bool, error) {
	exists, err := s.fs.Exists(ctx, s.recordPath(phase, id, suffix))
	if err != nil {
		return false, fmt.Errorf("failed to check %s of job %d: %w", suffix, id, err)
	}
	return exists, nil
}

func (s *Store) Complete(ctx context.Context, id int) error {
	objects, err := s.fs.List(ctx, s.Dir(scheduler.PhaseRunning))
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}

	var suffixes []string
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		if recordID, suffix, ok := parseRecordName(object.Name()); ok && recordID == id {
			suffixes = append(suffixes, suffix)
		}
	}

	// The status file goes last: as long as it is in running, the move is resumed on the next tick
	sort.SliceStable(suffixes, func(i, j int) bool {
		return suffixes[j] == scheduler.SuffixStatus && suffixes[i] != scheduler.SuffixStatus
	})

	for _, suffix := range suffixes {
		source := s.recordPath(scheduler.PhaseRunning, id, suffix)
		target := s.recordPath(scheduler.PhaseCompleted, id, suffix)
		if err := s.fs.Move(ctx, source, target); err != nil {
			return fmt.Errorf("failed to move '%s' to completed: %w", path.Base(source), err)
		}
	}

	if len(suffixes) > 0 {
		s.logger.Debug("Moved job files to completed", "job", id, "files", suffixes)
	}
	return nil
}

// LogPath returns the log file of a job, looking at running jobs first.
func (s *Store) LogPath(ctx context.Context, id int) (string, error) {
	for _, phase := range []scheduler.Phase{scheduler.PhaseRunning, scheduler.PhaseCompleted} {
		p := s.recordPath(phase, id, scheduler.SuffixLog)
		if exists, err := s.fs.Exists(ctx, p); err != nil {
			return "", fmt.Errorf("failed to check log of job %d: %w", id, err)
		} else if exists {
			return p, nil
		}
	}
	return "", fmt.Errorf("log of job %d: %w", id, ErrNotFound)
}

// OpenLog opens the log file of a job for reading.
func (s *Store) OpenLog(ctx context.Context, id int) (io.ReadCloser, error) {
	p, err := s.LogPath(ctx, id)
	if err != nil {
		return nil, err
	}
	reader, err := s.fs.OpenURL(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to open log of job %d: %w", id, err)
	}
	return reader, nil
}

// write replaces a file through a hidden temporary file, so that readers never see a partial write.
// The temporary name keeps the target's extension, otherwise afs moves it into a new directory named after the target.
func (s *Store) write(ctx context.Context, target string, data []byte, mode os.FileMode) error {
	tmp := path.Join(path.Dir(target), fmt.Sprintf(".%d.%s", time.Now().UnixNano(), path.Base(target)))
	if err := s.fs.Upload(ctx, tmp, mode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write '%s': %w", path.Base(target), err)
	}
	if err := s.fs.Move(ctx, tmp, target); err != nil {
		_ = s.fs.Delete(ctx, tmp)
		return fmt.Errorf("failed to write '%s': %w", path.Base(target), err)
	}
	return nil
}

func (s *Store) download(ctx context.Context, p string) ([]byte, error) {
	exists, err := s.fs.Exists(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to check '%s': %w", path.Base(p), err)
	}
	if !exists {
		return nil, fmt.Errorf("'%s': %w", path.Base(p), ErrNotFound)
	}

	data, err := s.fs.DownloadWithURL(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %w", path.Base(p), err)
	}
	return data, nil
}

// parseRecordName splits "<id>.<suffix>". Hidden files and foreign names are rejected.
func parseRecordName(name string) (int, string, bool) {
	if strings.HasPrefix(name, ".") {
		return 0, "", false
	}
	prefix, suffix, found := strings.Cut(name, ".")
	if !found || suffix == "" {
		return 0, "", false
	}
	id, err := strconv.Atoi(prefix)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, suffix, true
}

var errEmpty = errors.New("empty file")

func parseInt(data []byte) (int, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, errEmpty
	}
	return strconv.Atoi(text)
}
