package models

// Channel identifies an output delivery destination type.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
	ChannelEmail    Channel = "email"
	ChannelInApp    Channel = "in_app"
	ChannelWebhook  Channel = "webhook"
	ChannelSlack    Channel = "slack"
)

// IsChat reports whether delivery goes through the shared notification sender.
func (c Channel) IsChat() bool {
	return c == ChannelTelegram || c == ChannelDiscord || c == ChannelEmail
}

// DispatchResult is the per-target outcome of one delivery attempt.
// Multi-target dispatch has no cross-target atomicity, so partial success
// is representable and reported as-is.
type DispatchResult struct {
	Target string `json:"target,omitempty"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
