package notification

import (
	"context"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
)

// ShoutrrrChannel delivers through any shoutrrr service URL. Email and
// telegram channels are both this type with different URLs.
type ShoutrrrChannel struct {
	name       string
	enabled    bool
	realtime   bool
	digest     bool
	digestTime conf.Clock
	url        string
	sender     *router.ServiceRouter
}

// NewShoutrrrChannel builds the channel from its configuration entry.
// The digest time must already be validated.
func NewShoutrrrChannel(cs *conf.ChannelSettings) *ShoutrrrChannel {
	ch := &ShoutrrrChannel{
		name:     cs.Name,
		enabled:  cs.Enabled,
		realtime: cs.Realtime,
		digest:   cs.Digest,
		url:      cs.URL,
	}
	if cs.Digest {
		ch.digestTime, _ = conf.ParseClock(cs.DigestTime)
	}
	return ch
}

func (ch *ShoutrrrChannel) Name() string           { return ch.name }
func (ch *ShoutrrrChannel) IsEnabled() bool        { return ch.enabled }
func (ch *ShoutrrrChannel) RealtimeEnabled() bool  { return ch.realtime }
func (ch *ShoutrrrChannel) DigestEnabled() bool    { return ch.digest }
func (ch *ShoutrrrChannel) DigestTime() conf.Clock { return ch.digestTime }

// ValidateConfig builds the sender, which also checks the URL syntax.
func (ch *ShoutrrrChannel) ValidateConfig() error {
	if !ch.enabled {
		return nil
	}
	if ch.url == "" {
		return errors.Newf("channel %q: a shoutrrr URL is required", ch.name).
			Category(errors.CategoryConfiguration).
			Component("notification").
			Build()
	}
	sender, err := shoutrrr.CreateSender(ch.url)
	if err != nil {
		return errors.Newf("channel %q: invalid shoutrrr URL: %v", ch.name, err).
			Category(errors.CategoryConfiguration).
			Component("notification").
			Build()
	}
	sender.Timeout = 30 * time.Second
	sender.SetLogger(log.New(io.Discard, "", 0))
	ch.sender = sender
	return nil
}

func (ch *ShoutrrrChannel) send(title, body string) error {
	if ch.sender == nil {
		return errors.Newf("channel %q: sender not initialized", ch.name).
			Category(errors.CategoryNotification).
			Component("notification").
			Build()
	}
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}
	for _, err := range ch.sender.Send(body, &params) {
		if err != nil {
			return errors.Newf("channel %q: delivery failed: %v", ch.name, err).
				Category(errors.CategoryNotification).
				Component("notification").
				Retryable(true).
				Build()
		}
	}
	return nil
}

// SendAlert delivers one real-time alert. The router manages its own
// timeouts, so the context is not threaded through.
func (ch *ShoutrrrChannel) SendAlert(_ context.Context, event *alert.Event) error {
	title, body := FormatAlert(event)
	return ch.send(title, body)
}

// SendSummary delivers one day bucket as a digest.
func (ch *ShoutrrrChannel) SendSummary(_ context.Context, date string, records []SummaryRecord) error {
	title, body := FormatSummary(date, records)
	return ch.send(title, body)
}
