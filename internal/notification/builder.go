package notification

import (
	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
)

// BuildChannels instantiates one concrete channel per configuration
// descriptor and validates each. Any invalid channel is fatal; the
// service must not start with a half-working channel list.
func BuildChannels(settings *conf.NotificationSettings) ([]Channel, error) {
	var channels []Channel
	for i := range settings.Channels {
		cs := &settings.Channels[i]
		var ch Channel
		switch cs.Type {
		case "email", "telegram":
			ch = NewShoutrrrChannel(cs)
		case "mqtt":
			ch = NewMQTTChannel(cs)
		default:
			return nil, errors.Newf("unknown channel type %q", cs.Type).
				Category(errors.CategoryConfiguration).
				Component("notification").
				Build()
		}
		if err := ch.ValidateConfig(); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
		logger.Info("notification channel configured", "name", cs.Name,
			"type", cs.Type, "realtime", cs.Realtime, "digest", cs.Digest)
	}
	return channels, nil
}
