package goingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"
)

var (
	errRemoteWrite  = errors.New("remote write is force-failed by the mockSession")
	errCreateFailed = errors.New("session creation is force-failed by the mockRepository")
)

// newTestLogger returns a logger dropping everything.
func newTestLogger() *zap.Logger {
	return zap.NewNop()
}

// writeFiles creates the files with the contents in dir and returns their paths in the passed order.
func writeFiles(t *testing.T, dir string, names []string, contents map[string]string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(contents[name]), 0o644); err != nil {
			t.Fatalf("write file failed: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

// eventRecorder collects every published event.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// ofKind returns the recorded events of the kind.
func (r *eventRecorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]Event, 0)
	for _, e := range r.events {
		if e.Kind() == kind {
			res = append(res, e)
		}
	}
	return res
}

// newRecordingBus returns a bus with a recorder subscribed.
func newRecordingBus() (*Bus, *eventRecorder) {
	bus := NewBus()
	rec := &eventRecorder{}
	bus.Subscribe(rec)
	return bus, rec
}

// mockSession keeps the received files in memory and verifies the digests against them.
type mockSession struct {
	id        string
	blockSize int
	algorithm ChecksumAlgorithm

	mu    sync.Mutex
	files map[int]*bytes.Buffer
	trace []string
	// failWriteAt makes the writes of the file at or beyond the offset fail.
	failWriteAt map[int]int64
	// corrupt forces the verification of the indices to fail.
	corrupt  map[int]string
	statuses []*JobStatus
	polls    int
	pollErr  error
	closed   bool
}

func newMockSession(id string, blockSize int) *mockSession {
	return &mockSession{
		id:          id,
		blockSize:   blockSize,
		algorithm:   DefaultChecksumAlgorithm,
		files:       make(map[int]*bytes.Buffer),
		failWriteAt: make(map[int]int64),
		corrupt:     make(map[int]string),
		statuses:    []*JobStatus{{Response: &ImportResponse{}}},
	}
}

func (s *mockSession) ID() string     { return s.id }
func (s *mockSession) BlockSize() int { return s.blockSize }

func (s *mockSession) OpenWriter(ctx context.Context, index int) (FileWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := &bytes.Buffer{}
	s.files[index] = buf
	s.trace = append(s.trace, fmt.Sprintf("remote-open:%d", index))
	return &mockWriter{session: s, index: index, buf: buf}, nil
}

func (s *mockSession) Verify(ctx context.Context, digests []string) (JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	failing := make(map[int]string)
	for i, digest := range digests {
		if detail, ok := s.corrupt[i]; ok {
			failing[i] = detail
			continue
		}
		buf, ok := s.files[i]
		if !ok {
			failing[i] = "missing"
			continue
		}
		expected, err := s.algorithm.DigestBytes(buf.Bytes())
		if err != nil || expected != digest {
			failing[i] = expected
		}
	}
	if len(failing) != 0 {
		return "", &ChecksumMismatchError{FailingIndices: failing}
	}
	return JobID("job-" + s.id), nil
}

func (s *mockSession) Poll(ctx context.Context, job JobID) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollErr != nil {
		return nil, s.pollErr
	}
	i := s.polls
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.polls++
	return s.statuses[i], nil
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// record appends the entry to the session trace.
func (s *mockSession) record(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, entry)
}

// received returns the bytes received for the file.
func (s *mockSession) received(index int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.files[index]; ok {
		return buf.Bytes()
	}
	return nil
}

// mockWriter appends the writes to the session buffer. Writes must be sequential.
type mockWriter struct {
	session *mockSession
	index   int
	buf     *bytes.Buffer
}

func (w *mockWriter) Write(p []byte, offset int64) (int, error) {
	w.session.mu.Lock()
	defer w.session.mu.Unlock()
	if failAt, ok := w.session.failWriteAt[w.index]; ok && len(p) > 0 && offset >= failAt {
		return 0, errRemoteWrite
	}
	if offset != int64(w.buf.Len()) {
		return 0, fmt.Errorf("non sequential write at %d, expected %d", offset, w.buf.Len())
	}
	return w.buf.Write(p)
}

func (w *mockWriter) Abort(err error) {
	w.session.record(fmt.Sprintf("remote-abort:%d", w.index))
}

func (w *mockWriter) Close() (*RemoteFile, error) {
	w.session.record(fmt.Sprintf("remote-close:%d", w.index))
	return &RemoteFile{Index: w.index, Size: int64(w.buf.Len())}, nil
}

// mockRepository creates mock sessions and fails the ones of the configured entry paths.
type mockRepository struct {
	BaseStorage
	blockSize   int
	failCreate  map[string]bool
	unknown     map[string]bool
	mu          sync.Mutex
	sessions    []*mockSession
	isSetUp     bool
	isShutDown  bool
	configure   func(s *mockSession)
	createCalls []string
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		blockSize:  4,
		failCreate: make(map[string]bool),
		unknown:    make(map[string]bool),
	}
}

func (r *mockRepository) Setup() error {
	r.isSetUp = true
	return nil
}

func (r *mockRepository) Shutdown() {
	r.isShutDown = true
}

func (r *mockRepository) ResolveTarget(ctx context.Context, target *TargetRef) (*TargetRef, error) {
	if r.unknown[target.Name] {
		return nil, fmt.Errorf("target %s not found", target.Name)
	}
	resolved := *target
	if resolved.ID == "" {
		resolved.ID = "id-" + target.Name
	}
	return &resolved, nil
}

func (r *mockRepository) CreateSession(ctx context.Context, req *SessionRequest) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls = append(r.createCalls, req.Unit.EntryPath)
	if r.failCreate[req.Unit.EntryPath] {
		return nil, errCreateFailed
	}
	s := newMockSession(fmt.Sprintf("session-%d", len(r.sessions)+1), r.blockSize)
	s.algorithm = req.Checksum
	if r.configure != nil {
		r.configure(s)
	}
	r.sessions = append(r.sessions, s)
	return s, nil
}

// mockTracker keeps everything in memory.
type mockTracker struct {
	BaseStorage
	batches    []*Batch
	results    []*UnitResult
	issues     []*Issue
	reports    []*BatchReport
	isShutDown bool
}

func (t *mockTracker) Setup() error { return nil }

func (t *mockTracker) Shutdown() {
	t.isShutDown = true
}

func (t *mockTracker) NewBatch(units []*ImportUnit) (*Batch, error) {
	b := &Batch{ID: uint64(len(t.batches) + 1), ProcessID: t.ProcessID, Units: len(units)}
	t.batches = append(t.batches, b)
	return b, nil
}

func (t *mockTracker) TrackResult(batch *Batch, result *UnitResult) error {
	t.results = append(t.results, result)
	return nil
}

func (t *mockTracker) FinishBatch(batch *Batch, report *BatchReport) error {
	t.reports = append(t.reports, report)
	return nil
}

func (t *mockTracker) TrackIssue(issue *Issue) error {
	t.issues = append(t.issues, issue)
	return nil
}
