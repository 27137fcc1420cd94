package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultIIORoot is where the kernel exposes industrial I/O devices.
const DefaultIIORoot = "/sys/bus/iio/devices"

// IIOChannel reads one ADC voltage channel through sysfs.
type IIOChannel struct {
	path string
}

func NewIIOChannel(root string, device, channel int) *IIOChannel {
	if root == "" {
		root = DefaultIIORoot
	}
	return &IIOChannel{
		path: filepath.Join(root, fmt.Sprintf("iio:device%d", device), fmt.Sprintf("in_voltage%d_raw", channel)),
	}
}

func (c *IIOChannel) Path() string { return c.path }

func (c *IIOChannel) ReadRaw() (int, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return 0, fmt.Errorf("read adc: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse adc %s: %w", c.path, err)
	}
	return v, nil
}
