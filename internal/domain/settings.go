package domain

// Variable is a tenant-defined substitution pair: every occurrence of
// "{key}" in a message body is replaced with the value.
type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CampaignSettings holds the per-tenant throttling and substitution
// configuration. Read-mostly; callers should go through the cache.
type CampaignSettings struct {
	// MessageInterval is the base per-message interval in seconds.
	MessageInterval int `json:"messageInterval"`

	// LongerIntervalAfter is the message count past which the larger
	// interval applies.
	LongerIntervalAfter int `json:"longerIntervalAfter"`

	// GreaterInterval is the interval in seconds applied once
	// LongerIntervalAfter messages have been spaced out.
	GreaterInterval int `json:"greaterInterval"`

	Variables []Variable `json:"variables"`
}

// DefaultCampaignSettings returns the settings used when a tenant has
// no explicit configuration.
func DefaultCampaignSettings() CampaignSettings {
	return CampaignSettings{
		MessageInterval:     20,
		LongerIntervalAfter: 20,
		GreaterInterval:     60,
		Variables:           nil,
	}
}

// IntervalForMessage returns the inter-message interval in seconds for
// the n-th message of a campaign (0-based). Messages past the
// LongerIntervalAfter threshold are spaced with GreaterInterval.
func (s CampaignSettings) IntervalForMessage(n int) int {
	if s.LongerIntervalAfter > 0 && n >= s.LongerIntervalAfter {
		return s.GreaterInterval
	}
	return s.MessageInterval
}
