//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

type LineOptions struct {
	ActiveLow bool
	PullUp    bool
}

// Line is an input line on a gpiochip character device with both-edge
// detection.
type Line struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
	tracker   *EdgeTracker
}

// OpenLine requests offset on chip as an input. onEdge, when set, is
// called from the line's event goroutine for every edge.
func OpenLine(chip string, offset int, opts LineOptions, onEdge EdgeFunc) (*Line, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", chip, err)
	}
	l := &Line{chip: c, activeLow: opts.ActiveLow, tracker: &EdgeTracker{ActiveLow: opts.ActiveLow}}

	reqOpts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	if onEdge != nil {
		reqOpts = append(reqOpts, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			onEdge(l.tracker.Edge(evt.Type == gpiocdev.LineEventRisingEdge, evt.Timestamp))
		}))
	}
	if opts.PullUp {
		reqOpts = append(reqOpts, gpiocdev.WithPullUp)
	}

	l.line, err = c.RequestLine(offset, reqOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request input pin %d: %w", offset, err)
	}
	return l, nil
}

func (l *Line) Read() (bool, error) {
	v, err := l.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin: %w", err)
	}
	return (v == 1) != l.activeLow, nil
}

func (l *Line) Close() error {
	lerr := l.line.Close()
	cerr := l.chip.Close()
	if lerr != nil {
		return fmt.Errorf("close line: %w", lerr)
	}
	if cerr != nil {
		return fmt.Errorf("close chip: %w", cerr)
	}
	return nil
}
