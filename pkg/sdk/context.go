package sdk

import (
	"context"

	"go.uber.org/zap"
)

// Context is handed to a device on Init.
type Context interface {
	Log() *zap.Logger
	Bus() Bus
	// Lifetime is cancelled when the device is closed.
	Lifetime() context.Context
}
