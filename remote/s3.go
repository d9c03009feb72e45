package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/funktionslust/goingest"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// S3RepositoryConfig represents the S3Repository configurable fields model.
type S3RepositoryConfig struct {
	AwsCfg *aws.Config
	Bucket string `validate:"required"`
	Prefix string
	// BlockSize is the transfer block size offered to the clients.
	BlockSize int `validate:"gte=0"`
	// PartSize is the multipart upload part size. S3 doesn't accept parts smaller than 5MB.
	PartSize      int64 `validate:"omitempty,gte=5242880"`
	CreateTargets bool
}

// S3Opt is a type that modifies the default S3Repository behaviour.
type S3Opt func(r *S3Repository)

// S3WithJobFailure makes the import jobs fail according to fail.
func S3WithJobFailure(fail FailFunc) S3Opt {
	return func(r *S3Repository) {
		r.fail = fail
	}
}

// NewS3Repository returns a new instance of the S3Repository.
func NewS3Repository(cfg S3RepositoryConfig, opts ...S3Opt) *S3Repository {
	r := &S3Repository{Cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// S3Repository imports the units into an AWS S3 bucket. Every session gets its own key space
// under <prefix>/sessions/<session id>/, the targets are JSON objects under <prefix>/targets/ and
// a finished job leaves a manifest.json next to the session files.
type S3Repository struct {
	goingest.BaseStorage
	Cfg      S3RepositoryConfig
	svc      *s3.S3
	uploader *s3manager.Uploader
	fail     FailFunc
	ids      idSequence
}

// Setup contains the storage preparations like connection etc. Is called only once at the very
// beginning of the work with the storage. As for the S3Repository, it checks whether the config
// is proper by connecting and performing a simple S3 API call.
func (r *S3Repository) Setup() error {
	sess, err := session.NewSession(r.Cfg.AwsCfg)
	if err != nil {
		return fmt.Errorf("failed to create a new s3 session: %v", err)
	}
	r.svc = s3.New(sess)
	ping := &s3.ListObjectsInput{
		Bucket:  aws.String(r.Cfg.Bucket),
		Prefix:  aws.String(r.Cfg.Prefix),
		MaxKeys: aws.Int64(1),
	}
	err = r.svc.ListObjectsPagesWithContext(r.context(), ping, func(p *s3.ListObjectsOutput, lastPage bool) bool { return false })
	if err != nil {
		return fmt.Errorf("ping s3 query error: %v", err)
	}
	r.uploader = s3manager.NewUploaderWithClient(r.svc, func(u *s3manager.Uploader) {
		if r.Cfg.PartSize != 0 {
			u.PartSize = r.Cfg.PartSize
		}
		// the parts come from a single sequential stream
		u.Concurrency = 1
	})
	return nil
}

// ResolveTarget returns the stored target. Targets referenced by name get a name based id and
// are created if the repository is configured to.
func (r *S3Repository) ResolveTarget(ctx context.Context, target *goingest.TargetRef) (*goingest.TargetRef, error) {
	id := target.ID
	if id == "" {
		if target.Name == "" {
			return nil, errors.New("target has neither id nor name")
		}
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(target.Kind+"/"+target.Name)).String()
	}
	key := r.targetKey(target.Kind, id)
	stored := &goingest.TargetRef{}
	err := r.getJSON(ctx, key, stored)
	if err == nil {
		return stored, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("failed to read target %s: %v", key, err)
	}
	if target.ID != "" || !r.Cfg.CreateTargets {
		return nil, fmt.Errorf("%s not found", target)
	}
	created := &goingest.TargetRef{Kind: target.Kind, ID: id, Name: target.Name}
	if err := r.putJSON(ctx, key, created); err != nil {
		return nil, fmt.Errorf("failed to create target %s: %v", key, err)
	}
	r.Logger.Info("target created", zap.String("target", created.String()), zap.String("key", key))
	return created, nil
}

// CreateSession starts a new upload session of the unit.
func (r *S3Repository) CreateSession(ctx context.Context, req *goingest.SessionRequest) (goingest.Session, error) {
	if len(req.Unit.UsedFiles) == 0 {
		return nil, goingest.ErrEmptyUnit
	}
	s := &s3Session{
		repo:      r,
		id:        uuid.New().String(),
		unit:      req.Unit,
		algorithm: req.Checksum,
		started:   time.Now(),
	}
	r.Logger.Debug("s3 session created", zap.String("session", s.id), zap.String("entry_path", req.Unit.EntryPath))
	return s, nil
}

// targetKey returns the key of the target object.
func (r *S3Repository) targetKey(kind, id string) string {
	return path.Join(r.Cfg.Prefix, "targets", kind, id+".json")
}

// sessionKey returns the key of a session object.
func (r *S3Repository) sessionKey(sessionID string, elem ...string) string {
	return path.Join(append([]string{r.Cfg.Prefix, "sessions", sessionID}, elem...)...)
}

// getJSON downloads the object and decodes it into v.
func (r *S3Repository) getJSON(ctx context.Context, key string, v interface{}) error {
	out, err := r.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()
	return json.NewDecoder(out.Body).Decode(v)
}

// putJSON uploads v encoded as JSON.
func (r *S3Repository) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.Cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

// context returns the storage context or the background one.
func (r *S3Repository) context() context.Context {
	if r.Context != nil {
		return r.Context
	}
	return context.Background()
}

// isNotFound reports whether the S3 error means a missing object.
func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

// manifest is the JSON document stored once the job has finished.
type manifest struct {
	Session   string                   `json:"session"`
	EntryPath string                   `json:"entry_path"`
	Files     []string                 `json:"files"`
	Checksum  string                   `json:"checksum"`
	Digests   []string                 `json:"digests"`
	Target    *goingest.TargetRef      `json:"target,omitempty"`
	Options   goingest.UnitOptions     `json:"options"`
	Created   []goingest.RemoteObject  `json:"created,omitempty"`
	Error     *goingest.RemoteJobError `json:"error,omitempty"`
	Started   time.Time                `json:"started"`
	Finished  time.Time                `json:"finished"`
}

// s3Session is the goingest.Session of the S3Repository.
type s3Session struct {
	repo      *S3Repository
	id        string
	unit      *goingest.ImportUnit
	algorithm goingest.ChecksumAlgorithm
	started   time.Time
	mu        sync.Mutex
	digests   []string
	job       *job
	finished  bool
}

func (s *s3Session) ID() string { return s.id }

func (s *s3Session) BlockSize() int { return s.repo.Cfg.BlockSize }

// fileKey returns the key of the used file with the index.
func (s *s3Session) fileKey(index int) string {
	return s.repo.sessionKey(s.id, fmt.Sprintf("%04d", index), filepath.Base(s.unit.UsedFiles[index]))
}

// OpenWriter starts the upload of the file. The written blocks are streamed to the uploader
// through a pipe, so the offsets must be sequential.
func (s *s3Session) OpenWriter(ctx context.Context, index int) (goingest.FileWriter, error) {
	if index < 0 || index >= len(s.unit.UsedFiles) {
		return nil, fmt.Errorf("file index %d out of range", index)
	}
	key := s.fileKey(index)
	pr, pw := io.Pipe()
	w := &s3Writer{index: index, key: key, pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.repo.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.repo.Cfg.Bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// Verify downloads every uploaded file, compares its digest with the client one and starts the
// import job.
func (s *s3Session) Verify(ctx context.Context, digests []string) (goingest.JobID, error) {
	err := verifyDigests(digests, len(s.unit.UsedFiles), func(index int) (string, error) {
		out, err := s.repo.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.repo.Cfg.Bucket),
			Key:    aws.String(s.fileKey(index)),
		})
		if err != nil {
			return "", err
		}
		defer out.Body.Close()
		return s.algorithm.Digest(out.Body)
	})
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digests = digests
	s.job = newJob(goingest.JobID(s.id), s.unit, &s.repo.ids, s.repo.fail)
	return s.job.id, nil
}

// Poll advances the job. The manifest is written once when the job finishes.
func (s *s3Session) Poll(ctx context.Context, id goingest.JobID) (*goingest.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.id != id {
		return nil, fmt.Errorf("unknown job %s", id)
	}
	status := s.job.poll()
	if s.job.done() && !s.finished {
		m := &manifest{
			Session:   s.id,
			EntryPath: s.unit.EntryPath,
			Files:     s.unit.UsedFiles,
			Checksum:  string(s.algorithm),
			Digests:   s.digests,
			Target:    s.unit.Target,
			Options:   s.unit.Options,
			Error:     status.Err,
			Started:   s.started,
			Finished:  time.Now(),
		}
		if status.Response != nil {
			m.Created = status.Response.CreatedObjects
		}
		if err := s.repo.putJSON(ctx, s.repo.sessionKey(s.id, "manifest.json"), m); err != nil {
			return nil, fmt.Errorf("failed to store the manifest: %v", err)
		}
		s.finished = true
	}
	return status, nil
}

// Close releases the session.
func (s *s3Session) Close() error {
	return nil
}

// s3Writer streams the written blocks into a running upload.
type s3Writer struct {
	index   int
	key     string
	pw      *io.PipeWriter
	done    chan error
	written int64
}

func (w *s3Writer) Write(p []byte, offset int64) (int, error) {
	if offset != w.written {
		return 0, fmt.Errorf("non sequential write at %d, expected %d", offset, w.written)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := w.pw.Write(p)
	w.written += int64(n)
	return n, err
}

// Abort fails the pending upload so no truncated object is stored.
func (w *s3Writer) Abort(err error) {
	w.pw.CloseWithError(fmt.Errorf("upload aborted: %w", err))
}

// Close finishes the upload and waits for its result.
func (w *s3Writer) Close() (*goingest.RemoteFile, error) {
	w.pw.Close()
	if err := <-w.done; err != nil {
		return nil, fmt.Errorf("upload %s: %w", w.key, err)
	}
	return &goingest.RemoteFile{Index: w.index, Path: w.key, Size: w.written}, nil
}
