package main

import (
	"github.com/funktionslust/goingest"

	"go.uber.org/zap"
)

// newProgressLogger returns the observer logging the scan and import progress.
func newProgressLogger(logger *zap.Logger) goingest.Observer {
	return goingest.ObserverFunc(func(e goingest.Event) {
		switch ev := e.(type) {
		case *goingest.ProbeFailed:
			logger.Warn("file skipped", zap.String("path", ev.Path), zap.Error(ev.Err))
		case *goingest.FilesetUploadStart:
			logger.Info("uploading fileset",
				zap.String("entry_path", ev.Unit.EntryPath),
				zap.Int("files", ev.TotalFiles),
				zap.Int64("bytes", ev.TotalBytes),
			)
		case *goingest.UploadComplete:
			logger.Debug("file uploaded", zap.String("path", ev.Path), zap.Int("index", ev.Index), zap.Int("files", ev.TotalFiles))
		case *goingest.StepProgress:
			logger.Info("import step", zap.String("entry_path", ev.Unit.EntryPath), zap.String("step", ev.StepName), zap.Int("number", ev.Step), zap.Int("of", ev.TotalSteps))
		case *goingest.ImportDone:
			logger.Info("fileset imported", zap.String("entry_path", ev.Unit.EntryPath), zap.Int("objects", len(ev.CreatedObjects)))
		case *goingest.ImportFailed:
			logger.Error("fileset import failed", zap.String("entry_path", ev.Unit.EntryPath), zap.Stringer("step", ev.Step), zap.Error(ev.Err))
		case *goingest.ImportCancelled:
			logger.Warn("fileset import cancelled", zap.String("entry_path", ev.Unit.EntryPath), zap.Stringer("state", ev.State))
		}
	})
}
