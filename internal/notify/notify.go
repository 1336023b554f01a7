// Package notify publishes tenant-scoped pipeline events so interested
// consumers (UI pushers, audit sinks) can follow campaign progress.
// Publishing is fire-and-forget: a broker outage must never slow down
// or fail the dispatch path.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event topics emitted by the dispatch pipeline.
const (
	TopicCampaign = "campaign"
)

// Event is one progress notification.
type Event struct {
	Action     string `json:"action"`
	CampaignID string `json:"campaign_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Publisher broadcasts events on per-tenant Redis channels.
type Publisher struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewPublisher creates a publisher with a 5s per-publish timeout.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb, timeout: 5 * time.Second}
}

// channelFor namespaces events by tenant so subscribers only see their
// own traffic.
func channelFor(tenantID, topic string) string {
	return "tenant-" + tenantID + "-" + topic
}

// CampaignUpdated announces a campaign state change. Returns
// immediately; delivery happens on a background goroutine with its own
// timeout and failures are only logged.
func (p *Publisher) CampaignUpdated(tenantID, campaignID, status string) {
	p.publish(tenantID, TopicCampaign, Event{
		Action:     "update",
		CampaignID: campaignID,
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *Publisher) publish(tenantID, topic string, event Event) {
	if p == nil || p.rdb == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("[Notify] marshal event: %v", err)
			return
		}
		if err := p.rdb.Publish(ctx, channelFor(tenantID, topic), data).Err(); err != nil {
			log.Printf("[Notify] publish %s for tenant %s failed: %v", topic, tenantID, err)
		}
	}()
}
