package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/config"
	"github.com/xmastree/datasleigh/internal/store"
)

// SourceB subscribes to the cloud pub/sub service (the YoLink-shaped
// Source B named in spec.md §2). Unlike Source A it authenticates
// first: an OAuth2 client-credentials exchange yields a bearer token
// used as the MQTT password. tokenManager fetches it, or refreshes it
// when it is within refreshMargin of expiry, at the start of each
// connection attempt; no background refresh runs while a session is
// up. Grounded on
// `_examples/original_source/data_sleigh/src/data_sleigh/yolink_client.py`.
type SourceB struct {
	cfg    config.SourceB
	buffer *Buffer
	logger *zap.Logger
	conn   *conn
	tokens *tokenManager
}

// NewSourceB constructs a Source-B subscriber. Callers should check
// cfg.Enabled before starting Run; spec.md treats Source B as
// optional.
func NewSourceB(cfg config.SourceB, buffer *Buffer, logger *zap.Logger) *SourceB {
	l := logger.Named("ingest.sourceb")
	return &SourceB{
		cfg:    cfg,
		buffer: buffer,
		logger: l,
		conn:   newConn(l.Named("conn")),
		tokens: newTokenManager(cfg, l),
	}
}

// State reports the subscriber's current connection state.
func (s *SourceB) State() State {
	return s.conn.State()
}

// Run blocks, maintaining a connection to the cloud broker, until ctx
// is cancelled.
func (s *SourceB) Run(ctx context.Context) {
	s.conn.runWithBackoff(ctx, s.connect)
}

func (s *SourceB) connect(ctx context.Context) error {
	s.conn.setState(StateAuthenticating)
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("authenticating with source b: %w", err)
	}

	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = "datasleigh-b-" + uuid.NewString()
	}

	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tls://%s:%d", s.cfg.Broker, s.cfg.Port)).
		SetClientID(clientID).
		SetUsername(s.cfg.UAID).
		SetPassword(token).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			s.subscribeAll(c)
		})

	s.conn.setState(StateConnecting)
	client := mqtt.NewClient(opts)
	connToken := client.Connect()
	connToken.Wait()
	if err := connToken.Error(); err != nil {
		return err
	}
	defer client.Disconnect(250)

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return err
	}
}

// deviceClasses maps the two configured device IDs to a class tag
// ("air" or "water") that selects per-class field handling in
// handlerFor; the tag itself is not stored on the record. Mirrors the
// original's separate air/water handling in
// `yolink_client.py::_handle_yolink_sensor`.
func (s *SourceB) deviceClasses() map[string]string {
	classes := make(map[string]string, 2)
	if s.cfg.AirSensorDeviceID != "" {
		classes[s.cfg.AirSensorDeviceID] = "air"
	}
	if s.cfg.WaterSensorDeviceID != "" {
		classes[s.cfg.WaterSensorDeviceID] = "water"
	}
	return classes
}

func (s *SourceB) subscribeAll(c mqtt.Client) {
	for deviceID, class := range s.deviceClasses() {
		topic := deviceID + "/report"
		token := c.Subscribe(topic, 1, s.handlerFor(deviceID, class))
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("subscribe failed", zap.String("topic", topic), zap.Error(err))
			return
		}
	}
	s.conn.setState(StateSubscribed)
	s.conn.resetBackoff()
}

// handlerFor builds the message handler for one device. class is not
// stored on the record itself: it is implied by deviceID, and anything
// downstream (aggregate, artifact) that needs to tell air and water
// readings apart re-derives it by comparing SeriesKey against the
// configured AirSensorDeviceID/WaterSensorDeviceID, the same lookup
// this function uses to build its dispatch table.
//
// Per spec.md §3, DeviceEvent fields are already typed (unlike
// Source-A's opaque payload), so parsing happens here rather than
// being deferred to aggregation. On transient parse failure the
// subscriber logs and drops the record without halting, per spec.md
// §4.2.
func (s *SourceB) handlerFor(deviceID, class string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		ev, err := parseDeviceEvent(msg.Payload())
		if err != nil {
			s.logger.Warn("dropping unparseable device event", zap.String("device_id", deviceID), zap.String("class", class), zap.Error(err))
			return
		}
		if ev.Payload.Event != "" && ev.Payload.Event != "THSensor.Report" {
			s.logger.Debug("ignoring non-report event", zap.String("device_id", deviceID), zap.String("event", ev.Payload.Event))
			return
		}

		ts := time.Now().UTC()
		if ev.Time != nil {
			ts = *ev.Time
		}

		var humidity *float64
		if class == "air" {
			humidity = ev.Payload.Humidity
		}

		rec := store.Record{
			Table:       s.cfg.Table,
			SeriesKey:   deviceID,
			Timestamp:   ts,
			Temperature: ev.Payload.Temperature,
			Humidity:    humidity,
			Battery:     intPtr(ev.Payload.Battery),
			Signal:      intPtr(ev.Payload.Signal),
			Raw:         json.RawMessage(msg.Payload()),
		}
		if !s.buffer.Enqueue(rec) {
			s.logger.Debug("record shed", zap.String("device_id", deviceID))
		}
	}
}
