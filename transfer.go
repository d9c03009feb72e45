package goingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/paulbellamy/ratecounter"
	"go.uber.org/zap"
)

const (
	transferFileMetricName = "transfer_file"
	transferRateMetricName = "transfer_bytes_per_second"
)

// etaSamples is the number of block durations the remaining time estimate is averaged over.
const etaSamples = 5

// fileOpener opens a local file for reading and returns its length.
type fileOpener func(path string) (io.ReadCloser, int64, error)

// openLocalFile is the default fileOpener.
func openLocalFile(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// TransferOpt is a type that modifies the default Transfer behaviour.
type TransferOpt func(t *Transfer)

// TransferWithLogger makes the transfer log with the passed logger.
func TransferWithLogger(logger *zap.Logger) TransferOpt {
	return func(t *Transfer) {
		t.logger = logger
	}
}

// TransferWithBus makes the transfer publish upload events on the bus.
func TransferWithBus(bus *Bus) TransferOpt {
	return func(t *Transfer) {
		t.bus = bus
	}
}

// TransferWithChecksum sets the digest algorithm.
func TransferWithChecksum(algorithm ChecksumAlgorithm) TransferOpt {
	return func(t *Transfer) {
		t.checksum = algorithm
	}
}

// TransferWithMetricsTracker makes the transfer track metrics using the specified MetricsTracker.
func TransferWithMetricsTracker(tracker MetricsTracker) TransferOpt {
	return func(t *Transfer) {
		t.metrics = tracker
	}
}

// NewTransfer returns a new instance of *Transfer.
func NewTransfer(opts ...TransferOpt) *Transfer {
	t := &Transfer{
		checksum: DefaultChecksumAlgorithm,
		metrics:  defaultMetricsTracker,
		open:     openLocalFile,
		now:      time.Now,
		rate:     ratecounter.NewRateCounter(time.Second),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = buildDefaultLogger("transfer")
	}
	t.metrics.Add(transferFileMetricName, "Time taken to upload a single file")
	t.metrics.Add(transferRateMetricName, "Uploaded bytes per second")
	return t
}

// Transfer streams the used files of a unit to a remote session block by block while computing
// one digest per file.
type Transfer struct {
	bus      *Bus
	logger   *zap.Logger
	metrics  MetricsTracker
	checksum ChecksumAlgorithm
	open     fileOpener
	now      func() time.Time
	rate     *ratecounter.RateCounter
}

// Checksum returns the algorithm used for the unit.
func (t *Transfer) Checksum(unit *ImportUnit) ChecksumAlgorithm {
	return algorithmFor(unit, t.checksum)
}

// Upload sends the unit files sequentially and returns their digests in the UsedFiles order.
// Upload failures are returned as *UploadError. Cancellation is checked between blocks and
// reported as ErrCancelled; in this case the digests of the already uploaded files are returned.
func (t *Transfer) Upload(ctx context.Context, unit *ImportUnit, session Session) ([]string, error) {
	algorithm := t.Checksum(unit)
	buf := make([]byte, blockSize(session))
	digests := make([]string, 0, len(unit.UsedFiles))
	for index, path := range unit.UsedFiles {
		if err := ctx.Err(); err != nil {
			return digests, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		t.metrics.Start(transferFileMetricName)
		digest, err := t.uploadFile(ctx, unit, session, index, path, algorithm, buf)
		t.metrics.Stop(transferFileMetricName)
		if err != nil {
			return digests, err
		}
		digests = append(digests, digest)
	}
	return digests, nil
}

// uploadFile sends a single file. The remote handle is closed before the local one, and the local
// one is closed on every path. A failed remote file is aborted first if the writer supports it.
func (t *Transfer) uploadFile(
	ctx context.Context,
	unit *ImportUnit,
	session Session,
	index int,
	path string,
	algorithm ChecksumAlgorithm,
	buf []byte,
) (_ string, err error) {
	total := len(unit.UsedFiles)
	r, length, err := t.open(path)
	if err != nil {
		return "", t.fail(unit, path, index, 0, fmt.Errorf("open local file: %w", err))
	}
	defer func() {
		if err := r.Close(); err != nil {
			t.logger.Warn("failed to close local file", zap.String("path", path), zap.Error(err))
		}
	}()
	t.bus.Publish(&UploadStarted{Unit: unit, Path: path, Index: index, TotalFiles: total, Length: length})
	w, err := session.OpenWriter(ctx, index)
	if err != nil {
		return "", t.fail(unit, path, index, 0, fmt.Errorf("open remote file: %w", err))
	}
	remoteClosed := false
	defer func() {
		if !remoteClosed {
			if a, ok := w.(FileAborter); ok && err != nil {
				a.Abort(err)
			}
			if _, err := w.Close(); err != nil {
				t.logger.Warn("failed to close remote file", zap.String("path", path), zap.Error(err))
			}
		}
	}()
	h, err := algorithm.NewHash()
	if err != nil {
		return "", t.fail(unit, path, index, 0, err)
	}
	// materialize zero-length files remotely
	if _, err := w.Write(buf[:0], 0); err != nil {
		return "", t.fail(unit, path, index, 0, fmt.Errorf("remote write: %w", err))
	}
	var offset int64
	eta := &etaEstimator{}
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		start := t.now()
		n, rerr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			written, werr := w.Write(buf[:n], offset)
			offset += int64(written)
			if werr == nil && written != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return "", t.fail(unit, path, index, offset, fmt.Errorf("remote write: %w", werr))
			}
			t.rate.Incr(int64(n))
			t.bus.Publish(&UploadProgress{
				Unit:           unit,
				Path:           path,
				Index:          index,
				Offset:         offset,
				Length:         length,
				Remaining:      eta.add(t.now().Sub(start), n, length-offset),
				BytesPerSecond: t.rate.Rate(),
			})
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", t.fail(unit, path, index, offset, fmt.Errorf("local read: %w", rerr))
		}
	}
	remoteClosed = true
	if _, err := w.Close(); err != nil {
		return "", t.fail(unit, path, index, offset, fmt.Errorf("close remote file: %w", err))
	}
	t.metrics.Set(transferRateMetricName, fmt.Sprintf("%d", t.rate.Rate()))
	digest := hex.EncodeToString(h.Sum(nil))
	t.bus.Publish(&UploadComplete{Unit: unit, Path: path, Index: index, TotalFiles: total, Length: offset, Digest: digest})
	t.logger.Debug("file uploaded",
		zap.String("path", path),
		zap.Int("index", index),
		zap.Int64("bytes", offset),
		zap.String("digest", digest),
	)
	return digest, nil
}

// fail reports the upload failure and returns it as *UploadError.
func (t *Transfer) fail(unit *ImportUnit, path string, index int, offset int64, err error) error {
	t.logger.Error("file upload failed",
		zap.String("path", path),
		zap.Int("index", index),
		zap.Int64("offset", offset),
		zap.Error(err),
	)
	t.bus.Publish(&UploadErrorEvent{Unit: unit, Path: path, Index: index, Offset: offset, Err: err})
	return &UploadError{Path: path, Index: index, Offset: offset, Err: err}
}

// etaEstimator estimates the remaining upload time with an exponentially weighted moving average
// of the block durations.
type etaEstimator struct {
	samples int
	avg     float64
}

// add registers the duration of the last block and returns the estimated remaining time.
func (e *etaEstimator) add(d time.Duration, blockSize int, bytesLeft int64) time.Duration {
	if e.samples < etaSamples {
		e.samples++
	}
	alpha := 2 / float64(e.samples+1)
	e.avg = alpha*float64(d) + (1-alpha)*e.avg
	if blockSize <= 0 || bytesLeft <= 0 {
		return 0
	}
	return time.Duration(e.avg * float64(bytesLeft) / float64(blockSize))
}
