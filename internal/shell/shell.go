// Package shell logs free-text diagnostic messages published on the bus
// and optionally echoes them back to the WebSocket connection they came
// from.
package shell

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/pkg/sdk"
)

// Sender delivers a text frame to one WebSocket connection.
type Sender interface {
	Send(connID string, text []byte) error
}

type Shell struct {
	log  *zap.Logger
	echo Sender
	sub  sdk.Subscription
}

type echoFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// New subscribes to bus. echo may be nil.
func New(bus sdk.Bus, log *zap.Logger, echo Sender) *Shell {
	s := &Shell{log: log.Named("shell"), echo: echo}
	s.sub = bus.Subscribe(s.onEvent)
	return s
}

func (s *Shell) onEvent(ev sdk.Event) {
	msg, ok := ev.(sdk.Shell)
	if !ok {
		return
	}
	s.log.Info(msg.Message, zap.String("conn", msg.ConnID))
	if s.echo == nil || msg.ConnID == "" {
		return
	}
	b, err := json.Marshal(echoFrame{Type: sdk.KindShell, Data: msg.Message})
	if err != nil {
		return
	}
	if err := s.echo.Send(msg.ConnID, b); err != nil && !errors.Is(err, sdk.ErrNotFound) {
		s.log.Warn("shell echo dropped", zap.String("conn", msg.ConnID), zap.Error(err))
	}
}

func (s *Shell) Close() {
	s.sub.Cancel()
}
