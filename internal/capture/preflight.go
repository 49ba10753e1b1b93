package capture

import (
	"fmt"

	"golang.org/x/sys/unix"

	"reel/internal/faults"
)

// checkFreeSpace fails with a storage fault when the filesystem holding dir
// has less than minFree bytes available to the daemon's user.
func checkFreeSpace(dir string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("statting %s: %w", dir, err)
	}
	available := stat.Bavail * uint64(stat.Bsize)
	if available < minFree {
		return faults.Wrap(faults.ErrStorageExhausted, "capture", "preflight",
			fmt.Sprintf("%d MB free under %s, need at least %d MB",
				available/(1<<20), dir, minFree/(1<<20)), nil)
	}
	return nil
}
