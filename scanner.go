package goingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

const scannerProbeMetricName = "scanner_probe"

// errStopWalk stops a directory walk early.
var errStopWalk = errors.New("walk stopped")

// ScannerOpt is a type that modifies the default Scanner behaviour.
type ScannerOpt func(s *Scanner)

// ScannerWithLogger makes the scanner log with the passed logger.
func ScannerWithLogger(logger *zap.Logger) ScannerOpt {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// ScannerWithBus makes the scanner publish its progress on the bus.
func ScannerWithBus(bus *Bus) ScannerOpt {
	return func(s *Scanner) {
		s.bus = bus
	}
}

// ScannerWithMetricsTracker makes the scanner track metrics using the specified MetricsTracker.
func ScannerWithMetricsTracker(tracker MetricsTracker) ScannerOpt {
	return func(s *Scanner) {
		s.metrics = tracker
	}
}

// NewScanner returns a new instance of *Scanner probing files with the prober.
func NewScanner(prober Prober, opts ...ScannerOpt) *Scanner {
	s := &Scanner{
		prober:  prober,
		metrics: defaultMetricsTracker,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = buildDefaultLogger("scanner")
	}
	s.metrics.Add(scannerProbeMetricName, "Time taken to probe a single file")
	return s
}

// Scanner discovers the import candidates of the supplied paths.
type Scanner struct {
	prober  Prober
	bus     *Bus
	logger  *zap.Logger
	metrics MetricsTracker
}

// ScanResult is the outcome of a scan.
type ScanResult struct {
	Units     []*ImportUnit
	Cancelled bool
	// Total is the number of candidate files found by the counting pass, -1 if the scan has been
	// cancelled before the pass finished.
	Total    int
	Failures []*ProbeError
}

// Scan walks the paths twice. The first pass counts the candidate files, the second one probes
// every file not recorded yet and collects the used-by relations which are then grouped into
// import units. Directories are walked down to maxDepth and dot-files are skipped. A Scanning
// event is published after every visited file; cancelling it, or ctx, discards the partial
// results.
func (s *Scanner) Scan(ctx context.Context, paths []string, maxDepth int) *ScanResult {
	var cancelled int32
	stopped := func() bool {
		return atomic.LoadInt32(&cancelled) == 1 || ctx.Err() != nil
	}
	s.logger.Info("counting candidate files", zap.Strings("paths", paths), zap.Int("max_depth", maxDepth))
	total := 0
	s.walk(paths, maxDepth, func(path string, depth int) bool {
		total++
		s.bus.Publish(&Scanning{File: path, Depth: depth, Count: total, Total: -1, cancelled: &cancelled})
		return !stopped()
	}, nil)
	if stopped() {
		return s.cancelledResult(-1)
	}
	s.logger.Info("probing candidate files", zap.Int("total", total))
	acc := newCandidates()
	count := 0
	s.walk(paths, maxDepth, func(path string, depth int) bool {
		count++
		if !acc.recorded(path) {
			s.probe(ctx, acc, path)
		}
		s.bus.Publish(&Scanning{File: path, Depth: depth, Count: count, Total: total, cancelled: &cancelled})
		return !stopped()
	}, func(path string, err error) {
		s.reportFailure(acc, classifyProbeError(path, err))
	})
	if stopped() {
		return s.cancelledResult(total)
	}
	units := acc.units()
	s.logger.Info("scan finished",
		zap.Int("total", total),
		zap.Int("units", len(units)),
		zap.Int("failures", len(acc.failures)),
	)
	return &ScanResult{Units: units, Total: total, Failures: acc.failures}
}

// probe probes the file and records the result in the accumulator.
func (s *Scanner) probe(ctx context.Context, acc *candidates, path string) {
	s.metrics.Start(scannerProbeMetricName)
	res, err := s.prober.Probe(ctx, path)
	s.metrics.Stop(scannerProbeMetricName)
	if err != nil {
		s.reportFailure(acc, classifyProbeError(path, err))
		return
	}
	acc.record(path, normalizeProbe(path, res))
}

// reportFailure logs the failure, publishes it and keeps it in the accumulator.
func (s *Scanner) reportFailure(acc *candidates, perr *ProbeError) {
	s.logger.Warn("skipping file", zap.String("path", perr.Path), zap.String("kind", string(perr.Kind)), zap.Error(perr.Err))
	acc.failures = append(acc.failures, perr)
	s.bus.Publish(&ProbeFailed{Path: perr.Path, Err: perr})
}

// cancelledResult returns an empty cancelled result.
func (s *Scanner) cancelledResult(total int) *ScanResult {
	s.logger.Info("scan cancelled")
	return &ScanResult{Units: []*ImportUnit{}, Cancelled: true, Total: total}
}

// walk visits every candidate file of the paths in lexical order until visit returns false.
// onError, if set, receives the paths which couldn't be accessed.
func (s *Scanner) walk(paths []string, maxDepth int, visit func(path string, depth int) bool, onError func(path string, err error)) {
	report := func(path string, err error) {
		if onError != nil {
			onError(path, err)
		}
	}
	for _, root := range paths {
		abs, err := filepath.Abs(root)
		if err != nil {
			report(root, err)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			report(abs, err)
			continue
		}
		if !info.IsDir() {
			if isHidden(info.Name()) {
				continue
			}
			if !visit(abs, 0) {
				return
			}
			continue
		}
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				report(path, err)
				if d != nil && d.IsDir() && path != abs {
					return filepath.SkipDir
				}
				return nil
			}
			if path == abs {
				return nil
			}
			if isHidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			depth := walkDepth(abs, path)
			if d.IsDir() {
				if depth >= maxDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if depth > maxDepth || !isCandidate(d) {
				return nil
			}
			if !visit(path, depth) {
				return errStopWalk
			}
			return nil
		})
		if errors.Is(err, errStopWalk) {
			return
		}
	}
}

// walkDepth returns the depth of the path below the root.
func walkDepth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// isHidden reports whether the name denotes a dot-file.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// isCandidate reports whether the entry is a regular file or a symlink.
func isCandidate(d fs.DirEntry) bool {
	return d.Type().IsRegular() || d.Type()&fs.ModeSymlink != 0
}

// classifyProbeError converts the error into a *ProbeError.
func classifyProbeError(path string, err error) *ProbeError {
	var perr *ProbeError
	if errors.As(err, &perr) {
		if perr.Path == "" {
			perr.Path = path
		}
		return perr
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return NewProbeError(path, ProbeUnreadable, err)
	}
	return NewProbeError(path, ProbeReadFailure, err)
}

// normalizeProbe returns a copy of the result with absolute de-duplicated used files which always
// contain the probed path.
func normalizeProbe(path string, res *ProbeResult) *ProbeResult {
	files := make([]string, 0, len(res.UsedFiles)+1)
	for _, f := range res.UsedFiles {
		if abs, err := filepath.Abs(f); err == nil {
			f = abs
		}
		files = append(files, f)
	}
	files = dedupe(files)
	found := false
	for _, f := range files {
		if f == path {
			found = true
			break
		}
	}
	if !found {
		files = append(files, path)
	}
	return &ProbeResult{FormatID: res.FormatID, UsedFiles: files, MultiDimensional: res.MultiDimensional}
}

// newCandidates returns an empty accumulator.
func newCandidates() *candidates {
	return &candidates{
		usedBy: NewUsedByMap(),
		probes: make(map[string]*ProbeResult),
		probed: make(map[string]struct{}),
	}
}

// candidates accumulates the probing pass state: the used-by map, the raw probe results and the
// failures.
type candidates struct {
	usedBy   *UsedByMap
	probes   map[string]*ProbeResult
	probed   map[string]struct{}
	failures []*ProbeError
}

// recorded reports whether the file has been probed or listed as a used file already.
func (c *candidates) recorded(path string) bool {
	if _, ex := c.probed[path]; ex {
		return true
	}
	return c.usedBy.Has(path)
}

// record registers the probe result of the file.
func (c *candidates) record(path string, res *ProbeResult) {
	c.probed[path] = struct{}{}
	c.probes[path] = res
	c.usedBy.AddProbe(path, res.UsedFiles)
}

// units groups the used-by map and completes each unit with the probe result of its key. The
// probe results of the removed keys are discarded.
func (c *candidates) units() []*ImportUnit {
	units := Group(c.usedBy)
	for _, u := range units {
		if probe, ok := c.probes[u.EntryPath]; ok {
			u.UsedFiles = dedupe(append(append([]string(nil), probe.UsedFiles...), u.UsedFiles...))
			u.FormatID = probe.FormatID
			u.MultiDimensional = probe.MultiDimensional
		}
		u.EntryPath = u.UsedFiles[0]
		u.Size = totalSize(u.UsedFiles)
	}
	return units
}

// dedupe removes the repeated items keeping the first occurrence.
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	res := items[:0]
	for _, item := range items {
		if _, ex := seen[item]; ex {
			continue
		}
		seen[item] = struct{}{}
		res = append(res, item)
	}
	return res
}
