package device

import (
	"context"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/pkg/sdk"
)

type deviceContext struct {
	log      *zap.Logger
	bus      sdk.Bus
	lifetime context.Context
}

func newDeviceContext(log *zap.Logger, bus sdk.Bus, lifetime context.Context) sdk.Context {
	return &deviceContext{log: log, bus: bus, lifetime: lifetime}
}

func (c *deviceContext) Log() *zap.Logger          { return c.log }
func (c *deviceContext) Bus() sdk.Bus              { return c.bus }
func (c *deviceContext) Lifetime() context.Context { return c.lifetime }
