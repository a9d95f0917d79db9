package grid

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultDetectionsTopic is subscribed to when none is configured
const DefaultDetectionsTopic = "wellgrid/detections/+"

// BatchHandler is called for every detections message. err is set when the
// payload could not be parsed; batch then only carries the plate id.
type BatchHandler func(batch *Batch, err error)

// Subscriber receives detection batches over MQTT
type Subscriber struct {
	client      mqtt.Client
	topic       string
	handler     BatchHandler
	isConnected bool
	done        chan struct{}
	mu          sync.RWMutex
}

// InitMQTT builds a subscriber from the MQTT section of the config and starts
// connecting in the background. It returns nil when no broker is configured.
func InitMQTT(config *Config, handler BatchHandler) (*Subscriber, error) {
	if config == nil || config.MQTT.Broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no batch handler provided")
	}

	s := newSubscriber(nil, config.MQTT.DetectionsTopic, handler)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTT.Broker)

	clientID := config.MQTT.ClientID
	if clientID == "" {
		clientID = "wellgrid"
	}
	opts.SetClientID(clientID)

	if config.MQTT.Username != "" {
		opts.SetUsername(config.MQTT.Username)
		opts.SetPassword(config.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Plates are independent, so messages may be handled out of order.
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(s.onReconnecting)

	s.client = mqtt.NewClient(opts)
	go s.connectWithRetry()

	return s, nil
}

func newSubscriber(client mqtt.Client, topic string, handler BatchHandler) *Subscriber {
	if topic == "" {
		topic = DefaultDetectionsTopic
	}
	return &Subscriber{
		client:  client,
		topic:   topic,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (s *Subscriber) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := s.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected to broker")
				s.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		select {
		case <-s.done:
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the detections topic on every (re)connect
func (s *Subscriber) onConnect(client mqtt.Client) {
	s.setConnected(true)

	log.Printf("[MQTT] Subscribing to %s", s.topic)
	token := client.Subscribe(s.topic, 0, s.handleMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] Error subscribing to %s: %v", s.topic, token.Error())
	} else {
		log.Printf("[MQTT] Subscribed to %s", s.topic)
	}
}

func (s *Subscriber) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	s.setConnected(false)
}

func (s *Subscriber) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// handleMessage parses a detections payload. The plate id comes from the
// envelope when present, else from the last topic segment.
func (s *Subscriber) handleMessage(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("[MQTT] Received detections (topic: %s, size: %d bytes)", msg.Topic(), len(payload))

	batch, err := ParseDetectionsJSON(payload)
	if err != nil {
		log.Printf("[MQTT] Error parsing detections from %s: %v", msg.Topic(), err)
		s.handler(&Batch{Plate: plateFromTopic(msg.Topic())}, err)
		return
	}
	if batch.Plate == "" {
		batch.Plate = plateFromTopic(msg.Topic())
	}
	s.handler(batch, nil)
}

func plateFromTopic(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// IsConnected returns true if the MQTT client is connected
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

func (s *Subscriber) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isConnected = connected
}

// Disconnect stops reconnect attempts and closes the connection
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		s.client.Disconnect(250)
	}
	s.setConnected(false)
}

// Client returns the underlying MQTT client for publishing
func (s *Subscriber) Client() mqtt.Client {
	return s.client
}
