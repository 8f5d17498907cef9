package artifact

import (
	"context"
	"fmt"
	"os"
	"time"
)

// CleanupReport summarizes a sweep of the artifact directory.
type CleanupReport struct {
	Removed []string
	Kept    int
	Errors  []string
}

// Sweep removes the artifacts written by this service that are older than
// retention. Other files in the directory are never touched.
func (s *Store) Sweep(ctx context.Context, retention time.Duration) (*CleanupReport, error) {
	report := &CleanupReport{}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact directory %s: %w", s.dir, err)
	}

	cutoff := s.now().Add(-retention)

	for _, entry := range entries {
		if entry.IsDir() || !ownNamePattern.MatchString(entry.Name()) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", entry.Name(), infoErr))

			continue
		}

		if info.ModTime().After(cutoff) {
			report.Kept++

			continue
		}

		removeErr := s.Remove(ctx, entry.Name())
		if removeErr != nil {
			report.Errors = append(report.Errors, removeErr.Error())

			continue
		}

		report.Removed = append(report.Removed, entry.Name())
	}

	return report, nil
}

// RunJanitor sweeps every interval until ctx is done. A non-positive
// retention disables cleanup. observe, when set, receives the number of
// removed files after each sweep.
func (s *Store) RunJanitor(ctx context.Context, interval, retention time.Duration, observe func(removed int)) {
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Sweep(ctx, retention)
			if err != nil {
				s.log.Error("Artifact sweep failed: %v", err)

				continue
			}

			if len(report.Removed) > 0 || len(report.Errors) > 0 {
				s.log.Info("Artifact sweep removed %d files, kept %d, errors %d",
					len(report.Removed), report.Kept, len(report.Errors))
			}

			if observe != nil {
				observe(len(report.Removed))
			}
		}
	}
}
