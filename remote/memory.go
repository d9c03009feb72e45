package remote

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/funktionslust/goingest"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryOpt is a type that modifies the default MemoryRepository behaviour.
type MemoryOpt func(r *MemoryRepository)

// MemoryWithBlockSize sets the negotiated transfer block size.
func MemoryWithBlockSize(size int) MemoryOpt {
	return func(r *MemoryRepository) {
		r.blockSize = size
	}
}

// MemoryWithTargets registers the existing targets.
func MemoryWithTargets(targets ...*goingest.TargetRef) MemoryOpt {
	return func(r *MemoryRepository) {
		for _, t := range targets {
			ref := *t
			r.targets[targetKey(ref.Kind, ref.ID)] = &ref
		}
	}
}

// MemoryWithoutTargetCreation makes the resolution of unknown targets fail.
func MemoryWithoutTargetCreation() MemoryOpt {
	return func(r *MemoryRepository) {
		r.createTargets = false
	}
}

// MemoryWithJobFailure makes the import jobs fail according to fail.
func MemoryWithJobFailure(fail FailFunc) MemoryOpt {
	return func(r *MemoryRepository) {
		r.fail = fail
	}
}

// NewMemoryRepository returns a new instance of *MemoryRepository.
func NewMemoryRepository(opts ...MemoryOpt) *MemoryRepository {
	r := &MemoryRepository{
		blockSize:     goingest.DefaultBlockSize,
		createTargets: true,
		targets:       make(map[string]*goingest.TargetRef),
		sessions:      make(map[string]*MemorySession),
	}
	r.Logger = zap.NewNop()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MemoryRepository keeps the imported files in memory. It is used for dry runs and tests.
type MemoryRepository struct {
	goingest.BaseStorage
	blockSize     int
	createTargets bool
	fail          FailFunc
	ids           idSequence
	mu            sync.Mutex
	targets       map[string]*goingest.TargetRef
	sessions      map[string]*MemorySession
	order         []string
}

// Setup does nothing for the MemoryRepository.
func (r *MemoryRepository) Setup() error {
	return nil
}

// ResolveTarget looks the target up by its id or name. Unknown named targets are created unless
// the repository has been configured otherwise.
func (r *MemoryRepository) ResolveTarget(ctx context.Context, target *goingest.TargetRef) (*goingest.TargetRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if target.ID != "" {
		if t, ok := r.targets[targetKey(target.Kind, target.ID)]; ok {
			ref := *t
			return &ref, nil
		}
		return nil, fmt.Errorf("%s %s not found", target.Kind, target.ID)
	}
	for _, t := range r.targets {
		if t.Kind == target.Kind && t.Name == target.Name {
			ref := *t
			return &ref, nil
		}
	}
	if !r.createTargets || target.Name == "" {
		return nil, fmt.Errorf("%s %q not found", target.Kind, target.Name)
	}
	ref := &goingest.TargetRef{Kind: target.Kind, ID: r.ids.next(), Name: target.Name}
	r.targets[targetKey(ref.Kind, ref.ID)] = ref
	r.Logger.Info("target created", zap.String("target", ref.String()))
	created := *ref
	return &created, nil
}

// CreateSession creates a new in-memory session for the unit.
func (r *MemoryRepository) CreateSession(ctx context.Context, req *goingest.SessionRequest) (goingest.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Unit.UsedFiles) == 0 {
		return nil, goingest.ErrEmptyUnit
	}
	s := &MemorySession{
		id:        uuid.New().String(),
		repo:      r,
		unit:      req.Unit,
		algorithm: req.Checksum,
		files:     make(map[int][]byte, len(req.Unit.UsedFiles)),
	}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.order = append(r.order, s.id)
	r.mu.Unlock()
	return s, nil
}

// Sessions returns the created sessions in their creation order.
func (r *MemoryRepository) Sessions() []*MemorySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*MemorySession, 0, len(r.order))
	for _, id := range r.order {
		res = append(res, r.sessions[id])
	}
	return res
}

// MemorySession is a goingest.Session of the MemoryRepository.
type MemorySession struct {
	id        string
	repo      *MemoryRepository
	unit      *goingest.ImportUnit
	algorithm goingest.ChecksumAlgorithm
	mu        sync.Mutex
	files     map[int][]byte
	job       *job
	closed    bool
}

func (s *MemorySession) ID() string { return s.id }

func (s *MemorySession) BlockSize() int { return s.repo.blockSize }

// File returns the received content of the file with the index.
func (s *MemorySession) File(index int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[index]
	return data, ok
}

// Closed reports whether the session has been closed.
func (s *MemorySession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// OpenWriter opens the file with the index for writing.
func (s *MemorySession) OpenWriter(ctx context.Context, index int) (goingest.FileWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session is closed")
	}
	if index < 0 || index >= len(s.unit.UsedFiles) {
		return nil, fmt.Errorf("file index %d out of range", index)
	}
	s.files[index] = []byte{}
	return &memoryWriter{session: s, index: index}, nil
}

// Verify compares the digests with the received files and starts the import job.
func (s *MemorySession) Verify(ctx context.Context, digests []string) (goingest.JobID, error) {
	err := verifyDigests(digests, len(s.unit.UsedFiles), func(index int) (string, error) {
		data, ok := s.File(index)
		if !ok {
			return "", errors.New("file has not been uploaded")
		}
		return s.algorithm.DigestBytes(data)
	})
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = newJob(goingest.JobID(s.id), s.unit, &s.repo.ids, s.repo.fail)
	return s.job.id, nil
}

// Poll advances the job of the session.
func (s *MemorySession) Poll(ctx context.Context, id goingest.JobID) (*goingest.JobStatus, error) {
	s.mu.Lock()
	j := s.job
	s.mu.Unlock()
	if j == nil || j.id != id {
		return nil, fmt.Errorf("unknown job %s", id)
	}
	return j.poll(), nil
}

// Close closes the session.
func (s *MemorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memoryWriter writes into the session file buffer.
type memoryWriter struct {
	session *MemorySession
	index   int
	size    int64
}

func (w *memoryWriter) Write(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	w.session.mu.Lock()
	defer w.session.mu.Unlock()
	data := w.session.files[w.index]
	if end := offset + int64(len(p)); end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], p)
	w.session.files[w.index] = data
	w.size = int64(len(data))
	return len(p), nil
}

func (w *memoryWriter) Close() (*goingest.RemoteFile, error) {
	return &goingest.RemoteFile{
		Index: w.index,
		Path:  filepath.Base(w.session.unit.UsedFiles[w.index]),
		Size:  w.size,
	}, nil
}

// targetKey returns the key of the target in the registry.
func targetKey(kind, id string) string {
	return kind + "/" + id
}
