package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/knx-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/knx-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

const (
	// defaultObserverBuffer sizes the gateway's telegram subscription.
	defaultObserverBuffer = 256

	// defaultMaxCommands bounds MQTT commands executing at once. Reads
	// block for up to their timeout.
	defaultMaxCommands = 16

	// commandTimeout bounds a write command end to end.
	commandTimeout = 5 * time.Second
)

// Response codes carried in ResponseMessage.Code.
const (
	CodeInvalidCommand = "invalid_command"
	CodeUnknownDPT     = "unknown_datapoint"
	CodeInvalidValue   = "invalid_value"
	CodeTimeout        = "timeout"
	CodeReadPending    = "read_pending"
	CodeUnavailable    = "transport_unavailable"
	CodeBusy           = "busy"
	CodeInternal       = "internal_error"
)

const (
	operationWrite = "write"
	operationRead  = "read"
)

// Port is the subset of *knx.AccessPort the gateway drives.
type Port interface {
	Observe(buffer int) (<-chan knx.GroupTelegram, func())
	GroupValueWriteBits(ctx context.Context, ga knx.GroupAddress, payload []byte, bits int) error
	GroupValueRead(ctx context.Context, ga knx.GroupAddress, timeout time.Duration) ([]byte, error)
}

// MQTTClient is the subset of *mqtt.Client the gateway uses.
// This allows mocking in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// ValueRecorder stores observations. Satisfied by *Recorder.
type ValueRecorder interface {
	Record(ctx context.Context, o Observation)
}

// ValueSink receives numeric values. Satisfied by *influxdb.Client.
type ValueSink interface {
	WriteValue(v influxdb.ValuePoint)
}

// Logger is the logging interface used by the gateway.
// Satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Gateway. Port and Datapoints are required; every
// other collaborator is optional.
type Options struct {
	Port       Port
	Datapoints *Registry

	MQTT   MQTTClient
	Topics mqtt.Topics
	QoS    byte
	Codec  Codec

	Recorder ValueRecorder
	Sink     ValueSink

	// ReadTimeout applies to read commands without timeout_ms.
	ReadTimeout time.Duration

	// MaxCommands bounds concurrently executing MQTT commands. Default: 16.
	MaxCommands int

	Logger Logger
}

// Stats holds gateway counters.
type Stats struct {
	Telegrams     uint64 `json:"telegrams"`
	Decoded       uint64 `json:"decoded"`
	DecodeErrors  uint64 `json:"decode_errors"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
	Commands      uint64 `json:"commands"`
	CommandErrors uint64 `json:"command_errors"`
	CommandsBusy  uint64 `json:"commands_busy"`
}

// Gateway mirrors group telegrams to MQTT, SQLite and InfluxDB, and turns
// MQTT commands into group writes and reads.
//
// Thread Safety: All methods are safe for concurrent use.
type Gateway struct {
	opts  Options
	codec Codec

	// commands runs MQTT command handlers off paho's delivery goroutine.
	commands *errgroup.Group

	telegrams     atomic.Uint64
	decoded       atomic.Uint64
	decodeErrors  atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	cmdCount      atomic.Uint64
	cmdErrors     atomic.Uint64
	cmdBusy       atomic.Uint64

	runMu   sync.Mutex
	running bool

	now func() time.Time
}

// New creates a gateway.
//
// Returns:
//   - *Gateway: Ready to Run
//   - error: If Port or Datapoints is missing
func New(opts Options) (*Gateway, error) {
	if opts.Port == nil {
		return nil, errors.New("gateway: port is required")
	}
	if opts.Datapoints == nil {
		return nil, errors.New("gateway: datapoint registry is required")
	}
	if opts.Codec == nil {
		opts.Codec = jsonCodec{}
	}
	if opts.MaxCommands <= 0 {
		opts.MaxCommands = defaultMaxCommands
	}

	commands := &errgroup.Group{}
	commands.SetLimit(opts.MaxCommands)

	return &Gateway{
		opts:     opts,
		codec:    opts.Codec,
		commands: commands,
		now:      time.Now,
	}, nil
}

// Run observes the port until ctx is cancelled or the port closes. When an
// MQTT client is configured it first subscribes to the write and read
// command topics, and unsubscribes again before returning.
//
// Run waits for in-flight commands before returning. A gateway runs once;
// only a Run that failed to subscribe may be repeated.
func (g *Gateway) Run(ctx context.Context) error {
	g.runMu.Lock()
	if g.running {
		g.runMu.Unlock()
		return errors.New("gateway: already running")
	}
	g.running = true
	g.runMu.Unlock()

	telegrams, cancel := g.opts.Port.Observe(defaultObserverBuffer)
	defer cancel()

	if err := g.subscribe(ctx); err != nil {
		g.runMu.Lock()
		g.running = false
		g.runMu.Unlock()
		return err
	}
	g.logInfo("gateway started",
		"datapoints", g.opts.Datapoints.Len(),
		"mqtt", g.opts.MQTT != nil,
		"format", g.codec.Name(),
	)

	defer func() {
		g.unsubscribe(g.commandTopics())
		_ = g.commands.Wait() //nolint:errcheck // handlers report through MQTT, never via the group
		g.logInfo("gateway stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-telegrams:
			if !ok {
				return nil
			}
			g.HandleTelegram(ctx, t)
		}
	}
}

func (g *Gateway) commandTopics() []string {
	return []string{g.opts.Topics.AllWrites(), g.opts.Topics.AllReads()}
}

// subscribe registers the command handler on every command topic. On
// failure the topics already subscribed are released.
func (g *Gateway) subscribe(ctx context.Context) error {
	if g.opts.MQTT == nil {
		return nil
	}
	handler := func(topic string, payload []byte) error {
		return g.HandleCommand(ctx, topic, payload)
	}
	topics := g.commandTopics()
	for i, topic := range topics {
		if err := g.opts.MQTT.Subscribe(topic, g.opts.QoS, handler); err != nil {
			g.unsubscribe(topics[:i])
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return nil
}

func (g *Gateway) unsubscribe(topics []string) {
	if g.opts.MQTT == nil {
		return
	}
	for _, topic := range topics {
		if err := g.opts.MQTT.Unsubscribe(topic); err != nil {
			g.logDebug("unsubscribing", "topic", topic, "error", err)
		}
	}
}

// Observe decodes a telegram against the registry.
func (g *Gateway) Observe(t knx.GroupTelegram) Observation {
	return g.opts.Datapoints.Observe(t)
}

// HandleTelegram fans one telegram out to the recorder, the time series
// sink and the MQTT state topic.
func (g *Gateway) HandleTelegram(ctx context.Context, t knx.GroupTelegram) {
	g.telegrams.Add(1)
	o := g.Observe(t)

	switch {
	case o.DecodeErr != nil:
		g.decodeErrors.Add(1)
		g.logWarn("decoding group value",
			"ga", t.Address.String(),
			"dpt", o.Datapoint.DPT.String(),
			"payload", fmt.Sprintf("%X", t.Payload),
			"error", o.DecodeErr,
		)
	case o.Value != nil:
		g.decoded.Add(1)
	}

	if g.opts.Recorder != nil {
		g.opts.Recorder.Record(ctx, o)
	}

	if t.Kind == knx.KindRead {
		return
	}

	if g.opts.Sink != nil && o.Value != nil {
		if f, ok := dpt.Numeric(o.Value); ok {
			g.opts.Sink.WriteValue(influxdb.ValuePoint{
				Address: t.Address.String(),
				Source:  t.Source.String(),
				Kind:    KindName(t.Kind),
				DPT:     o.Datapoint.DPT.String(),
				Name:    o.Datapoint.Name,
				Value:   f,
				Time:    t.Received,
			})
		}
	}

	g.publish(g.opts.Topics.State(t.Address), NewStateMessage(o), true)
}

// HandleEvent publishes an access port lifecycle event.
func (g *Gateway) HandleEvent(e knx.Event) {
	g.publish(g.opts.Topics.Event(), EventMessage{Event: e.String(), Timestamp: g.now().UTC()}, false)
}

func (g *Gateway) publish(topic string, msg any, retained bool) {
	if g.opts.MQTT == nil || !g.opts.MQTT.IsConnected() {
		return
	}
	payload, err := g.codec.Marshal(msg)
	if err != nil {
		g.publishErrors.Add(1)
		g.logError("encoding mqtt payload", err)
		return
	}
	if err := g.opts.MQTT.Publish(topic, payload, g.opts.QoS, retained); err != nil {
		g.publishErrors.Add(1)
		g.logWarn("publishing mqtt message", "topic", topic, "error", err)
		return
	}
	g.published.Add(1)
}

// HandleCommand schedules a write or read command received on topic.
//
// The command runs asynchronously; ErrBusy is returned when MaxCommands are
// already executing, after a busy response has been published.
func (g *Gateway) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	g.cmdCount.Add(1)

	category, ga, err := g.opts.Topics.ParseAddress(topic)
	if err != nil {
		g.cmdErrors.Add(1)
		return err
	}

	var cmd CommandMessage
	if len(payload) > 0 {
		if err := g.codec.Unmarshal(payload, &cmd); err != nil {
			g.cmdErrors.Add(1)
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}

	var run func(context.Context, knx.GroupAddress, CommandMessage) ResponseMessage
	switch category {
	case mqtt.CategoryWrite:
		run = g.executeWrite
	case mqtt.CategoryRead:
		run = g.executeRead
	default:
		g.cmdErrors.Add(1)
		return fmt.Errorf("%w: topic category %q", ErrInvalidCommand, category)
	}

	started := g.commands.TryGo(func() error {
		resp := run(ctx, ga, cmd)
		if !resp.Success {
			g.cmdErrors.Add(1)
		}
		g.respond(resp)
		return nil
	})
	if !started {
		g.cmdBusy.Add(1)
		g.respond(g.failure(cmd, category, ga, CodeBusy, ErrBusy))
		return ErrBusy
	}
	return nil
}

// Wait blocks until every scheduled command has finished.
func (g *Gateway) Wait() {
	_ = g.commands.Wait() //nolint:errcheck // handlers never return errors
}

func (g *Gateway) executeWrite(ctx context.Context, ga knx.GroupAddress, cmd CommandMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	payload, bits, id, err := EncodeCommand(g.opts.Datapoints, ga, cmd)
	if err != nil {
		return g.failure(cmd, operationWrite, ga, ErrorCode(err), err)
	}

	if err := g.opts.Port.GroupValueWriteBits(ctx, ga, payload, bits); err != nil {
		return g.failure(cmd, operationWrite, ga, ErrorCode(err), err)
	}

	g.logDebug("mqtt write executed", "ga", ga.String(), "request_id", cmd.RequestID, "payload", fmt.Sprintf("%X", payload))
	resp := g.success(cmd, operationWrite, ga, payload)
	if id.Main != 0 {
		resp.DPT = id.String()
	}
	return resp
}

func (g *Gateway) executeRead(ctx context.Context, ga knx.GroupAddress, cmd CommandMessage) ResponseMessage {
	timeout := g.opts.ReadTimeout
	if cmd.TimeoutMS > 0 {
		timeout = time.Duration(cmd.TimeoutMS) * time.Millisecond
	}

	payload, err := g.opts.Port.GroupValueRead(ctx, ga, timeout)
	if err != nil {
		return g.failure(cmd, operationRead, ga, ErrorCode(err), err)
	}

	resp := g.success(cmd, operationRead, ga, payload)
	id, err := g.opts.Datapoints.Resolve(ga, cmd.DPT)
	if errors.Is(err, ErrUnknownDatapoint) {
		// Unmapped reads still return the raw payload.
		return resp
	}
	if err != nil {
		return g.failure(cmd, operationRead, ga, CodeUnknownDPT, err)
	}
	resp.DPT = id.String()
	v, err := dpt.Decode(id.Family(), payload)
	if err != nil {
		return g.failure(cmd, operationRead, ga, CodeInvalidValue, err)
	}
	resp.Value = dpt.Native(v)
	return resp
}

func (g *Gateway) success(cmd CommandMessage, op string, ga knx.GroupAddress, payload []byte) ResponseMessage {
	return ResponseMessage{
		RequestID: cmd.RequestID,
		Operation: op,
		Address:   ga.String(),
		Success:   true,
		Raw:       fmt.Sprintf("%x", payload),
		Timestamp: g.now().UTC(),
	}
}

func (g *Gateway) failure(cmd CommandMessage, op string, ga knx.GroupAddress, code string, err error) ResponseMessage {
	g.logWarn("mqtt command failed",
		"operation", op,
		"ga", ga.String(),
		"request_id", cmd.RequestID,
		"error", err,
	)
	return ResponseMessage{
		RequestID: cmd.RequestID,
		Operation: op,
		Address:   ga.String(),
		Code:      code,
		Error:     err.Error(),
		Timestamp: g.now().UTC(),
	}
}

func (g *Gateway) respond(resp ResponseMessage) {
	g.publish(g.opts.Topics.Response(resp.RequestID), resp, false)
}

// ErrorCode maps an error to a ResponseMessage code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, knx.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, knx.ErrReadAlreadyPending):
		return CodeReadPending
	case errors.Is(err, knx.ErrTransportUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrUnknownDatapoint), errors.Is(err, dpt.ErrUnknownDPT):
		return CodeUnknownDPT
	case errors.Is(err, dpt.ErrInvalidValue), errors.Is(err, dpt.ErrMalformedPayload):
		return CodeInvalidValue
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, knx.ErrPayloadTooLong):
		return CodeInvalidCommand
	default:
		return CodeInternal
	}
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Telegrams:     g.telegrams.Load(),
		Decoded:       g.decoded.Load(),
		DecodeErrors:  g.decodeErrors.Load(),
		Published:     g.published.Load(),
		PublishErrors: g.publishErrors.Load(),
		Commands:      g.cmdCount.Load(),
		CommandErrors: g.cmdErrors.Load(),
		CommandsBusy:  g.cmdBusy.Load(),
	}
}

func (g *Gateway) logDebug(msg string, keysAndValues ...any) {
	if g.opts.Logger != nil {
		g.opts.Logger.Debug(msg, keysAndValues...)
	}
}

func (g *Gateway) logInfo(msg string, keysAndValues ...any) {
	if g.opts.Logger != nil {
		g.opts.Logger.Info(msg, keysAndValues...)
	}
}

func (g *Gateway) logWarn(msg string, keysAndValues ...any) {
	if g.opts.Logger != nil {
		g.opts.Logger.Warn(msg, keysAndValues...)
	}
}

func (g *Gateway) logError(msg string, err error) {
	if g.opts.Logger != nil {
		g.opts.Logger.Error(msg, "error", err)
	}
}
