package grid

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is used when no publish prefix is configured
const DefaultPublishPrefix = "wellgrid"

// ResultSummary is the compact per-plate message published next to the full result
type ResultSummary struct {
	RunID            string         `json:"runId"`
	Plate            string         `json:"plate"`
	Layout           string         `json:"layout"`
	Clusters         int            `json:"clusters"`
	Measured         int            `json:"measured"`
	Inferred         int            `json:"inferred"`
	Invalid          int            `json:"invalid"`
	MeasuredFraction float64        `json:"measuredFraction"`
	Tiers            map[string]int `json:"tiers"`
	Timestamp        int64          `json:"timestamp"`
}

// Summarize builds the summary message for a result
func Summarize(r *Result) ResultSummary {
	tiers := make(map[string]int, len(r.Stats.Tiers))
	for t, n := range r.Stats.Tiers {
		tiers[t.String()] = n
	}
	return ResultSummary{
		RunID:            r.RunID,
		Plate:            r.Plate,
		Layout:           r.Layout,
		Clusters:         r.Stats.Clusters,
		Measured:         r.Stats.Measured,
		Inferred:         r.Stats.Inferred,
		Invalid:          r.Stats.Invalid,
		MeasuredFraction: r.Stats.MeasuredFraction(),
		Tiers:            tiers,
		Timestamp:        time.Now().Unix(),
	}
}

// Publisher publishes reconciliation results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	summaries     map[string]ResultSummary
	mu            sync.RWMutex
}

// NewPublisher creates a result publisher. An empty prefix falls back to
// DefaultPublishPrefix; a nil client makes every publish fail.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget
		retain:        true, // late subscribers get the latest plate
		summaries:     make(map[string]ResultSummary),
	}
}

// PublishResult publishes the full result to {prefix}/{plate}/result and
// its summary to {prefix}/{plate}/summary.
func (p *Publisher) PublishResult(r *Result) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	plate := r.Plate
	if plate == "" {
		plate = "default"
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := p.publish(fmt.Sprintf("%s/%s/result", p.publishPrefix, plate), payload); err != nil {
		return err
	}

	summary := Summarize(r)
	payload, err = json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := p.publish(fmt.Sprintf("%s/%s/summary", p.publishPrefix, plate), payload); err != nil {
		return err
	}

	p.mu.Lock()
	p.summaries[plate] = summary
	p.mu.Unlock()

	log.Printf("[MQTT] Published plate %s (%s): %d measured, %d inferred, %d invalid",
		plate, r.Layout, summary.Measured, summary.Inferred, summary.Invalid)
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastSummary returns the most recent summary published for a plate
func (p *Publisher) LastSummary(plate string) (ResultSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.summaries[plate]
	return s, ok
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
