//go:build !linux

package gpio

import (
	"fmt"

	"github.com/emberlab/devgate/pkg/sdk"
)

type LineOptions struct {
	ActiveLow bool
	PullUp    bool
}

// Line is unavailable off Linux.
type Line struct{}

func OpenLine(chip string, offset int, _ LineOptions, _ EdgeFunc) (*Line, error) {
	return nil, fmt.Errorf("%w: gpio line %s:%d requires linux", sdk.ErrUnsupported, chip, offset)
}

func (*Line) Read() (bool, error) { return false, sdk.ErrUnsupported }
func (*Line) Close() error        { return nil }
