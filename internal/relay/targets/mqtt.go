package targets

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

const (
	sinkMQTT           = "mqtt"
	mqttDisconnectWait = 250 // milliseconds
)

// MQTTConfig configures the MQTT sink. Objects are published as retained
// messages on <container>/<object>.
type MQTTConfig struct {
	Broker    string
	ClientID  string // empty generates a random id
	Username  string
	Password  string
	QoS       byte
	Container string
	Timeout   time.Duration
}

// MQTTSink publishes the snapshot as a retained message. A broker keeps
// no version history, so the sink only knows versions of objects it
// published itself during this process; anything else is reported as
// missing and re-published by the relay.
type MQTTSink struct {
	cfg       MQTTConfig
	log       logger.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.Mutex
	client    mqtt.Client
	published map[string]string // topic -> content hash
}

// NewMQTTSink creates an MQTT sink. The broker is contacted on first use.
func NewMQTTSink(cfg *MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt sink requires a broker").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.QoS > 2 {
		return nil, errors.Newf("invalid mqtt qos %d", cfg.QoS).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := cleanObjectPath(cfg.Container); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "wildwatch-" + uuid.NewString()[:8]
	}
	cfg.Timeout = timeoutOr(cfg.Timeout)

	return &MQTTSink{
		cfg:       *cfg,
		log:       getLogger(sinkMQTT),
		newClient: mqtt.NewClient,
		published: make(map[string]string),
	}, nil
}

// Name implements relay.Sink.
func (s *MQTTSink) Name() string { return sinkMQTT }

// Container implements relay.Sink.
func (s *MQTTSink) Container() string { return s.cfg.Container }

// wait blocks until the token completes, the context ends or the timeout
// elapses
func (s *MQTTSink) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

func (s *MQTTSink) connectLocked(ctx context.Context) (mqtt.Client, error) {
	if s.client != nil && s.client.IsConnected() {
		return s.client, nil
	}

	if s.client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(s.cfg.Broker)
		opts.SetClientID(s.cfg.ClientID)
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
		opts.SetCleanSession(true)
		opts.SetAutoReconnect(false)
		opts.SetConnectTimeout(s.cfg.Timeout)
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.log.Warn("connection to mqtt broker lost", logger.Error(err))
		})
		s.client = s.newClient(opts)
	}

	if err := s.wait(ctx, s.client.Connect()); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTConnect).
			Context("sink", sinkMQTT).
			Build()
	}
	s.log.Debug("mqtt connected", logger.String("client_id", s.cfg.ClientID))
	return s.client, nil
}

// EnsureContainer connects to the broker. Topics need no creation, so the
// container is always found.
func (s *MQTTSink) EnsureContainer(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.connectLocked(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func (s *MQTTSink) topic(objectPath string) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return s.cfg.Container + "/" + cleaned, nil
}

// GetObjectVersion returns the hash of the payload last published to the
// topic by this process.
func (s *MQTTSink) GetObjectVersion(_ context.Context, objectPath string) (string, error) {
	topic, err := s.topic(objectPath)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.published[topic]
	if !ok {
		return "", notFound(sinkMQTT, objectPath)
	}
	return version, nil
}

// UpdateObject republishes the retained message.
func (s *MQTTSink) UpdateObject(ctx context.Context, objectPath string, content []byte, version string) error {
	topic, err := s.topic(objectPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.published[topic]
	if !ok {
		return notFound(sinkMQTT, objectPath)
	}
	if current != version {
		return conflict(sinkMQTT, objectPath, "published payload changed since version lookup")
	}
	return s.publishLocked(ctx, topic, content, "update")
}

// CreateObject publishes the retained message.
func (s *MQTTSink) CreateObject(ctx context.Context, objectPath string, content []byte) error {
	topic, err := s.topic(objectPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(ctx, topic, content, "create")
}

func (s *MQTTSink) publishLocked(ctx context.Context, topic string, content []byte, operation string) error {
	client, err := s.connectLocked(ctx)
	if err != nil {
		return err
	}

	if err := s.wait(ctx, client.Publish(topic, s.cfg.QoS, true, content)); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("sink", sinkMQTT).
			Context("operation", operation).
			Build()
	}
	s.published[topic] = contentVersion(content)
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectWait)
	}
	s.client = nil
	return nil
}
