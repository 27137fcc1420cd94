// Package mqtt mirrors device state to an MQTT broker and accepts device
// requests from it.
//
// Topics, under the configured prefix:
//
//	<prefix>/state/<device>     retained StateChanged documents
//	<prefix>/request/<device>   {"command", "data", "seq"}
//	<prefix>/response/<device>  {"seq", "data"} or {"seq", "error"}
//	<prefix>/status             retained online/offline
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/emberlab/devgate/internal/config"
	"github.com/emberlab/devgate/pkg/sdk"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
)

// Devices is the request target and the source of retained state
// snapshots.
type Devices interface {
	Dispatch(ctx context.Context, req *sdk.Request) error
	States() []sdk.StateChanged
}

// client is the subset of pahomqtt.Client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

type Bridge struct {
	client  client
	log     *zap.Logger
	bus     sdk.Bus
	devices Devices
	prefix  string
	qos     byte
	sub     sdk.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

type requestMsg struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

type responseMsg struct {
	Seq   int64        `json:"seq,omitempty"`
	Data  sdk.Document `json:"data,omitempty"`
	Error *errorMsg    `json:"error,omitempty"`
}

type errorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type stateMsg struct {
	Data sdk.Document `json:"data"`
	TS   time.Time    `json:"ts"`
}

func clientOptions(cfg config.MQTT) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOrderMatters(false)
	opts.SetWill(statusTopic(cfg.TopicPrefix), `{"status":"offline"}`, 1, true)
	return opts
}

// Connect dials the broker and starts the bridge.
func Connect(cfg config.MQTT, log *zap.Logger, bus sdk.Bus, devices Devices) (*Bridge, error) {
	log = log.Named("mqtt")
	opts := clientOptions(cfg)
	var started atomic.Pointer[Bridge]
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		b := started.Load()
		if b == nil {
			return
		}
		// Clean sessions drop subscriptions on reconnect.
		if err := b.subscribe(); err != nil {
			log.Warn("resubscribe failed", zap.Error(err))
		}
		b.publishStatus("online")
		b.publishSnapshot()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("broker connection lost", zap.Error(err))
	})

	c := pahomqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	b := newBridge(c, cfg, log, bus, devices)
	if err := b.Start(); err != nil {
		c.Disconnect(disconnectQuiesce)
		return nil, err
	}
	started.Store(b)
	log.Info("bridge connected", zap.String("broker", cfg.Broker), zap.String("prefix", cfg.TopicPrefix))
	return b, nil
}

func newBridge(c client, cfg config.MQTT, log *zap.Logger, bus sdk.Bus, devices Devices) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:  c,
		log:     log,
		bus:     bus,
		devices: devices,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     byte(min(max(cfg.QoS, 0), 2)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to request topics, publishes the current state of
// every running device and begins mirroring changes.
func (b *Bridge) Start() error {
	if err := b.subscribe(); err != nil {
		return err
	}
	b.sub = b.bus.Subscribe(b.onEvent)
	b.publishStatus("online")
	b.publishSnapshot()
	return nil
}

func (b *Bridge) publishSnapshot() {
	for _, sc := range b.devices.States() {
		b.publishState(sc)
	}
}

func (b *Bridge) subscribe() error {
	topic := b.prefix + "/request/+"
	tok := b.client.Subscribe(topic, b.qos, b.handleRequest)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s: timeout", ErrSubscribeFailed, topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

func statusTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/status"
}

func (b *Bridge) publishStatus(status string) {
	b.publish(statusTopic(b.prefix), true, []byte(`{"status":"`+status+`"}`))
}

// publish does not wait for the broker; the bus publisher must not block
// on the network.
func (b *Bridge) publish(topic string, retained bool, payload []byte) {
	tok := b.client.Publish(topic, b.qos, retained, payload)
	go func() {
		if !tok.WaitTimeout(publishTimeout) {
			b.log.Warn("publish timed out", zap.String("topic", topic))
			return
		}
		if err := tok.Error(); err != nil {
			b.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

func (b *Bridge) onEvent(ev sdk.Event) {
	if sc, ok := ev.(sdk.StateChanged); ok {
		b.publishState(sc)
	}
}

func (b *Bridge) publishState(sc sdk.StateChanged) {
	payload, err := json.Marshal(stateMsg{Data: sc.State, TS: sc.At})
	if err != nil {
		b.log.Error("encode state", zap.String("device", sc.Device), zap.Error(err))
		return
	}
	b.publish(b.prefix+"/state/"+sc.Device, true, payload)
}

func (b *Bridge) handleRequest(_ pahomqtt.Client, msg pahomqtt.Message) {
	name := msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:]
	var in requestMsg
	resp := responseMsg{}

	err := json.Unmarshal(msg.Payload(), &in)
	if err == nil {
		resp.Seq = in.Seq
		err = b.dispatch(name, in, &resp)
	} else {
		err = fmt.Errorf("%w: %v", sdk.ErrInvalidArgument, err)
	}
	if err != nil {
		resp.Data = nil
		resp.Error = &errorMsg{Code: sdk.ErrorCode(err), Message: err.Error()}
		b.log.Debug("request failed", zap.String("device", name), zap.Error(err))
	}

	payload, merr := json.Marshal(resp)
	if merr != nil {
		b.log.Error("encode response", zap.Error(merr))
		return
	}
	b.publish(b.prefix+"/response/"+name, false, payload)
}

func (b *Bridge) dispatch(name string, in requestMsg, resp *responseMsg) error {
	if in.Command == "" {
		return fmt.Errorf("%w: command is required", sdk.ErrInvalidArgument)
	}
	var args sdk.Document
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &args); err != nil {
			return fmt.Errorf("%w: data must be an object", sdk.ErrInvalidArgument)
		}
	}
	req := sdk.NewRequest(name, in.Command, args)
	req.Origin = "mqtt"
	if err := b.devices.Dispatch(b.ctx, req); err != nil {
		return err
	}
	resp.Data = req.Response()
	return nil
}

// Close stops mirroring, marks the device offline and disconnects.
func (b *Bridge) Close() {
	b.cancel()
	if b.sub != nil {
		b.sub.Cancel()
	}
	tok := b.client.Publish(statusTopic(b.prefix), b.qos, true, []byte(`{"status":"offline"}`))
	tok.WaitTimeout(publishTimeout)
	b.client.Disconnect(disconnectQuiesce)
}
