//go:build darwin

package fsguard

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func detectType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	return unix.ByteSliceToString(st.Fstypename[:]), nil
}
