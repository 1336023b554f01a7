package dispatch

import (
	"context"
	"log"
)

// OutboundMessage is one rendered message bound for a channel.
type OutboundMessage struct {
	TenantID  string
	ChannelID string
	Number    string
	Body      string
}

// ChannelClient hands a message to the outbound channel. Send returning
// nil means the channel accepted the message; channel-level receipt
// callbacks, when a connector supports them, plug in behind this
// interface.
type ChannelClient interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// LogChannelClient accepts every message and logs it. Used when no real
// channel connector is configured, and in development.
type LogChannelClient struct{}

// Send implements ChannelClient.
func (LogChannelClient) Send(ctx context.Context, msg OutboundMessage) error {
	log.Printf("[Channel] tenant=%s channel=%s to=%s body=%q",
		msg.TenantID, msg.ChannelID, msg.Number, msg.Body)
	return nil
}
