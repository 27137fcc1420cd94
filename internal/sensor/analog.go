// Package sensor implements polled analog sensors.
package sensor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/internal/device"
	"github.com/emberlab/devgate/internal/gpio"
	"github.com/emberlab/devgate/pkg/sdk"
)

type Options struct {
	Name string
	// Samples is how many raw readings are averaged per poll.
	Samples int
	// value = raw*Scale + Offset, rounded to Precision decimals.
	Scale     float64
	Offset    float64
	Precision int
}

// Analog averages ADC samples into a converted value on every poll.
type Analog struct {
	pin  gpio.AnalogPin
	log  *zap.Logger
	cell *device.StateCell[float64]

	mu   sync.RWMutex
	opts Options
}

func New(pin gpio.AnalogPin, opts Options) *Analog {
	if opts.Samples < 1 {
		opts.Samples = 1
	}
	if opts.Scale == 0 {
		opts.Scale = 1
	}
	return &Analog{pin: pin, opts: opts, log: zap.NewNop()}
}

func (a *Analog) Name() string { return a.opts.Name }

func (a *Analog) Capabilities() sdk.Capabilities {
	return sdk.CapSensors | sdk.CapSettable
}

func (a *Analog) Init(ctx sdk.Context) error {
	a.log = ctx.Log()
	a.cell = device.NewStateCell(a.opts.Name, ctx.Bus(), a.log, func(v float64) sdk.Document {
		return sdk.Document{"state": "ok", "value": v}
	})
	if _, err := a.pin.ReadRaw(); err != nil {
		return sdk.NewIOError("probe adc", err)
	}
	return nil
}

func (a *Analog) options() Options {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opts
}

func (a *Analog) PollSensors(ctx context.Context) error {
	o := a.options()
	var sum float64
	for i := 0; i < o.Samples; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := a.pin.ReadRaw()
		if err != nil {
			return sdk.NewIOError("read adc", err)
		}
		sum += float64(raw)
	}
	v := round(sum/float64(o.Samples)*o.Scale+o.Offset, o.Precision)
	a.cell.Set(v)
	return nil
}

func round(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

func (a *Analog) State(sdk.Document) (sdk.Document, error) {
	v, stamp, ok := a.cell.Get()
	if !ok {
		return sdk.Document{"state": "pending"}, nil
	}
	o := a.options()
	return sdk.Document{
		"state":   "ok",
		"value":   v,
		"updated": stamp.UnixMilli(),
		"samples": o.Samples,
	}, nil
}

// Set updates conversion settings. Accepted keys: samples, scale,
// offset, precision.
func (a *Analog) Set(args sdk.Document) error {
	o := a.options()
	for k, raw := range args {
		f, ok := number(raw)
		if !ok {
			return fmt.Errorf("%w: %s must be a number", sdk.ErrInvalidArgument, k)
		}
		switch k {
		case "samples":
			if f < 1 || f != math.Trunc(f) {
				return fmt.Errorf("%w: samples must be a positive integer", sdk.ErrInvalidArgument)
			}
			o.Samples = int(f)
		case "scale":
			if f == 0 {
				return fmt.Errorf("%w: scale must be non-zero", sdk.ErrInvalidArgument)
			}
			o.Scale = f
		case "offset":
			o.Offset = f
		case "precision":
			if f < 0 || f > 9 || f != math.Trunc(f) {
				return fmt.Errorf("%w: precision must be 0..9", sdk.ErrInvalidArgument)
			}
			o.Precision = int(f)
		default:
			return fmt.Errorf("%w: unknown setting %q", sdk.ErrInvalidArgument, k)
		}
	}
	a.mu.Lock()
	a.opts = o
	a.mu.Unlock()
	a.log.Info("settings updated", zap.Int("samples", o.Samples), zap.Float64("scale", o.Scale), zap.Float64("offset", o.Offset))
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (a *Analog) HandleRequest(context.Context, *sdk.Request) bool { return false }
