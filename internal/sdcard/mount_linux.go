//go:build linux

package sdcard

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/emberlab/devgate/pkg/sdk"
)

// SysMounter mounts block devices with mount(2).
type SysMounter struct{}

func (SysMounter) Mount(source, target, fstype string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return sdk.NewIOError("create mount point", err)
	}
	if err := unix.Mount(source, target, fstype, unix.MS_NOATIME, ""); err != nil {
		return sdk.NewIOError(fmt.Sprintf("mount %s", source), err)
	}
	return nil
}

func (SysMounter) Unmount(target string, force bool) error {
	flags := 0
	if force {
		flags = unix.MNT_FORCE | unix.MNT_DETACH
	}
	if err := unix.Unmount(target, flags); err != nil {
		return sdk.NewIOError(fmt.Sprintf("unmount %s", target), err)
	}
	return nil
}
