package notify

import (
	"net/url"

	"github.com/slack-go/slack"

	"github.com/trailcast/orchestrator/messaging"
)

// SlackScheme is the messaging.Provider scheme this sender registers
// under (spec.md §4.10's channel kind for Slack, Non-goal #1 leaves
// email/generic-webhook senders as interfaces only).
const SlackScheme = "slack"

// SlackProvider adapts slack-go/slack's web API into a
// messaging.Provider, so the Notification Bridge can address Slack
// channels the same way it addresses every other transport.
type SlackProvider struct {
	client *slack.Client
}

// NewSlackProvider constructs a provider authenticated with a bot token.
func NewSlackProvider(token string) *SlackProvider {
	return &SlackProvider{client: slack.New(token)}
}

func (p *SlackProvider) Id() string { return "slack-provider" }

func (p *SlackProvider) Schemes() []string { return []string{SlackScheme} }

func (p *SlackProvider) Setup() error { return nil }

func (p *SlackProvider) Close() error { return nil }

func (p *SlackProvider) NewMessage(scheme string, options ...messaging.Option) (messaging.Message, error) {
	return messaging.NewLocalMessage()
}

// Send posts msg's body to the Slack channel named by u.Host.
func (p *SlackProvider) Send(u *url.URL, msg messaging.Message, options ...messaging.Option) error {
	_, _, err := p.client.PostMessage(u.Host, slack.MsgOptionText(msg.ReadAsStr(), false))
	return err
}

// SendBatch posts each message in turn, stopping on the first error.
func (p *SlackProvider) SendBatch(u *url.URL, msgs []messaging.Message, options ...messaging.Option) error {
	for _, msg := range msgs {
		if err := p.Send(u, msg, options...); err != nil {
			return err
		}
	}
	return nil
}

// Receive is unsupported; Slack is a one-way notification sink here.
func (p *SlackProvider) Receive(u *url.URL, options ...messaging.Option) (messaging.Message, error) {
	return nil, messaging.ErrProviderClosed
}

// ReceiveBatch is unsupported for the same reason as Receive.
func (p *SlackProvider) ReceiveBatch(u *url.URL, options ...messaging.Option) ([]messaging.Message, error) {
	return nil, messaging.ErrProviderClosed
}

// AddListener is unsupported for the same reason as Receive.
func (p *SlackProvider) AddListener(u *url.URL, listener func(msg messaging.Message), options ...messaging.Option) error {
	return messaging.ErrProviderClosed
}

var _ messaging.Provider = (*SlackProvider)(nil)
