//go:build !linux

package sdcard

import (
	"fmt"

	"github.com/emberlab/devgate/pkg/sdk"
)

// SysMounter is unavailable off Linux.
type SysMounter struct{}

func (SysMounter) Mount(source, _, _ string) error {
	return fmt.Errorf("%w: mount %s requires linux", sdk.ErrUnsupported, source)
}

func (SysMounter) Unmount(target string, _ bool) error {
	return fmt.Errorf("%w: unmount %s requires linux", sdk.ErrUnsupported, target)
}
