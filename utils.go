package goingest

import (
	"os"

	"go.uber.org/zap"
)

// buildDefaultLogger creates the default logger which commits the debug and higher level logs
// supplemented with the component name as the "context" field value.
func buildDefaultLogger(context string) *zap.Logger {
	logger, _ := zap.NewDevelopment()
	logger = logger.With(zap.String("context", context))
	return logger
}

// GetEntryPaths returns a slice of entry paths of the passed units.
func GetEntryPaths(units []*ImportUnit) []string {
	paths := make([]string, 0, len(units))
	for _, u := range units {
		paths = append(paths, u.EntryPath)
	}
	return paths
}

// totalSize sums the sizes of the files. Files which can't be stat'ed are skipped.
func totalSize(files []string) int64 {
	var size int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			size += info.Size()
		}
	}
	return size
}

// logUnitResult uses logger to notify about a unit result.
func logUnitResult(logger *zap.Logger, result *UnitResult) {
	fields := []zap.Field{
		zap.String("entry_path", result.Unit.EntryPath),
		zap.Int("files", len(result.Unit.UsedFiles)),
		zap.String("state", result.State.String()),
	}
	switch result.State {
	case StateDone:
		logger.Info("unit imported", append(fields, zap.Int("created_objects", len(result.Created)))...)
	case StateCancelled:
		logger.Info("unit import cancelled", fields...)
	default:
		logger.Error("unit import failed", append(fields, zap.String("step", result.FailedStep.String()), zap.Error(result.Err))...)
	}
}
