package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/funktionslust/goingest"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBucket = "images"

// fakeS3 is a path-style S3 endpoint keeping the objects in memory. It serves the calls used by
// the S3Repository only.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key := path, ""
	if i := strings.Index(path, "/"); i >= 0 {
		bucket, key = path[:i], path[i+1:]
	}
	if bucket != testBucket {
		f.error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	switch {
	case key == "" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><Prefix></Prefix><MaxKeys>1</MaxKeys><IsTruncated>false</IsTruncated></ListBucketResult>`, bucket)
	case r.Method == http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			f.error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.put(key, data)
		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		data, ok := f.get(key)
		if !ok {
			f.error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	default:
		f.error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeS3) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

// keys returns the stored keys having the prefix and the suffix.
func (f *fakeS3) keys(prefix, suffix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// newTestS3Repository returns a prepared S3Repository talking to the fake server.
func newTestS3Repository(t *testing.T, fake *fakeS3, createTargets bool) *S3Repository {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	repo := NewS3Repository(S3RepositoryConfig{
		AwsCfg: &aws.Config{
			Endpoint:         aws.String(server.URL),
			Region:           aws.String("eu-central-1"),
			S3ForcePathStyle: aws.Bool(true),
			DisableSSL:       aws.Bool(true),
			Credentials:      credentials.NewStaticCredentials("key", "secret", ""),
			MaxRetries:       aws.Int(0),
		},
		Bucket:        testBucket,
		Prefix:        "imports",
		BlockSize:     5,
		CreateTargets: createTargets,
	})
	require.NoError(t, goingest.InitStorage(context.Background(), repo, "test", zap.NewNop()))
	return repo
}

func TestS3RepositorySetupFailure(t *testing.T) {
	// ARRANGE
	server := httptest.NewServer(newFakeS3())
	defer server.Close()
	repo := NewS3Repository(S3RepositoryConfig{
		AwsCfg: &aws.Config{
			Endpoint:         aws.String(server.URL),
			Region:           aws.String("eu-central-1"),
			S3ForcePathStyle: aws.Bool(true),
			Credentials:      credentials.NewStaticCredentials("key", "secret", ""),
			MaxRetries:       aws.Int(0),
		},
		Bucket: "missing",
	})

	// ACT
	err := goingest.InitStorage(context.Background(), repo, "test", zap.NewNop())

	// ASSERT
	assert.Errorf(t, err, "setup against a missing bucket expected to fail")
}

func TestS3RepositoryImport(t *testing.T) {
	// ARRANGE
	fake := newFakeS3()
	repo := newTestS3Repository(t, fake, true)
	contents := map[string]string{"a.dv": "deltavision pixels", "a.dv.log": "log"}
	unit := newUnit(t, contents, "a.dv", "a.dv.log")
	unit.Options.SkipStatistics = true

	// ACT
	result := newTestImporter(repo).Import(context.Background(), unit)

	// ASSERT
	if !assert.NoErrorf(t, result.Err, "import failed") {
		return
	}
	prefix := "imports/sessions/" + result.SessionID + "/"
	for i, name := range []string{"a.dv", "a.dv.log"} {
		data, ok := fake.get(fmt.Sprintf("%s%04d/%s", prefix, i, name))
		if assert.Truef(t, ok, "%s expected to be uploaded", name) {
			assert.Equalf(t, contents[name], string(data), "%s content mismatch", name)
		}
	}
	raw, ok := fake.get(prefix + "manifest.json")
	if !assert.Truef(t, ok, "manifest expected to be stored") {
		return
	}
	m := &manifest{}
	require.NoError(t, json.Unmarshal(raw, m))
	assert.Equalf(t, unit.EntryPath, m.EntryPath, "manifest entry path mismatch")
	assert.Equalf(t, result.Digests, m.Digests, "manifest digests mismatch")
	assert.Equalf(t, result.Created, m.Created, "manifest created objects mismatch")
	assert.Nilf(t, m.Error, "manifest error expected to be empty")
	assert.Equalf(t, goingest.UnitOptions{SkipStatistics: true}, m.Options, "manifest options mismatch")
}

func TestS3SessionVerifyMismatch(t *testing.T) {
	// ARRANGE
	fake := newFakeS3()
	repo := newTestS3Repository(t, fake, true)
	unit := newUnit(t, map[string]string{"a": "first file", "b": "second file"}, "a", "b")
	ctx := context.Background()
	s, err := repo.CreateSession(ctx, &goingest.SessionRequest{Unit: unit, Checksum: goingest.ChecksumMD5})
	require.NoError(t, err)
	digests, err := goingest.NewTransfer(goingest.TransferWithLogger(zap.NewNop())).Upload(ctx, unit, s)
	require.NoError(t, err)
	fake.put(fmt.Sprintf("imports/sessions/%s/0000/a", s.ID()), []byte("tampered"))

	// ACT
	_, err = s.Verify(ctx, digests)

	// ASSERT
	var mismatch *goingest.ChecksumMismatchError
	if assert.Truef(t, errors.As(err, &mismatch), "*goingest.ChecksumMismatchError expected, got %v", err) {
		_, ok := mismatch.FailingIndices[0]
		assert.Truef(t, ok, "file 0 expected to fail")
		assert.Equalf(t, 1, len(mismatch.FailingIndices), "failing indices number mismatch")
	}
}

func TestS3WriterRejectsGaps(t *testing.T) {
	// ARRANGE
	repo := newTestS3Repository(t, newFakeS3(), true)
	unit := newUnit(t, map[string]string{"a": "abc"}, "a")
	ctx := context.Background()
	s, err := repo.CreateSession(ctx, &goingest.SessionRequest{Unit: unit, Checksum: goingest.ChecksumSHA1})
	require.NoError(t, err)
	w, err := s.OpenWriter(ctx, 0)
	require.NoError(t, err)

	// ACT
	_, gapErr := w.Write([]byte("c"), 2)
	_, writeErr := w.Write([]byte("abc"), 0)
	file, closeErr := w.Close()

	// ASSERT
	assert.Errorf(t, gapErr, "write past the end expected to be rejected")
	assert.NoErrorf(t, writeErr, "sequential write failed")
	if assert.NoErrorf(t, closeErr, "close failed") {
		assert.Equalf(t, int64(3), file.Size, "remote file size mismatch")
	}
}

func TestS3RepositoryResolveTarget(t *testing.T) {
	// ARRANGE
	fake := newFakeS3()
	repo := newTestS3Repository(t, fake, true)
	strict := newTestS3Repository(t, fake, false)
	ctx := context.Background()

	// ACT
	created, errCreated := repo.ResolveTarget(ctx, &goingest.TargetRef{Kind: "Project", Name: "screen"})
	again, errAgain := strict.ResolveTarget(ctx, &goingest.TargetRef{Kind: "Project", Name: "screen"})
	_, errUnknown := strict.ResolveTarget(ctx, &goingest.TargetRef{Kind: "Project", Name: "other"})
	_, errMissingID := repo.ResolveTarget(ctx, &goingest.TargetRef{Kind: "Project", ID: "404"})

	// ASSERT
	if assert.NoErrorf(t, errCreated, "target creation failed") {
		assert.NotEmptyf(t, created.ID, "created target expected to get an id")
		assert.Equalf(t, 1, len(fake.keys("imports/targets/Project/", ".json")), "target objects number mismatch")
	}
	if assert.NoErrorf(t, errAgain, "resolution of an existing target failed") {
		assert.Equalf(t, created, again, "resolved target mismatch")
	}
	assert.Errorf(t, errUnknown, "unknown target expected to fail without target creation")
	assert.Errorf(t, errMissingID, "unknown id expected to fail")
}

func TestS3WriterAbort(t *testing.T) {
	// ARRANGE
	fake := newFakeS3()
	repo := newTestS3Repository(t, fake, true)
	unit := newUnit(t, map[string]string{"a": "abcdef"}, "a")
	ctx := context.Background()
	s, err := repo.CreateSession(ctx, &goingest.SessionRequest{Unit: unit, Checksum: goingest.ChecksumSHA1})
	require.NoError(t, err)
	w, err := s.OpenWriter(ctx, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"), 0)
	require.NoError(t, err)

	// ACT
	w.(goingest.FileAborter).Abort(errors.New("local read failed"))
	_, closeErr := w.Close()

	// ASSERT
	assert.Errorf(t, closeErr, "close of an aborted upload expected to fail")
	assert.Emptyf(t, fake.keys("imports/sessions/"+s.ID()+"/", "/a"), "no truncated object expected")
}
