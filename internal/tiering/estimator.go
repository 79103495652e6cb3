package tiering

import (
	"context"
	"fmt"
	"os"
)

// FileEstimator estimates storage usage from the size of the database file
// and its WAL sidecar. Quota is configured, not discovered.
type FileEstimator struct {
	Path       string
	QuotaBytes int64
}

func (f *FileEstimator) Estimate(ctx context.Context) (StorageEstimate, error) {
	var used int64
	for _, p := range []string{f.Path, f.Path + "-wal"} {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return StorageEstimate{}, fmt.Errorf("estimating storage: %w", err)
		}
		used += info.Size()
	}
	return StorageEstimate{UsedBytes: used, QuotaBytes: f.QuotaBytes}, nil
}
