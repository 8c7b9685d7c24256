package feedback

import (
	"fmt"

	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
)

// BuildBindings constructs channel bindings from configuration. When no
// channels are configured, a single log channel is returned so lifecycle
// events are never silently lost.
func BuildBindings(configs []config.ChannelConfig) ([]Binding, error) {
	if len(configs) == 0 {
		return []Binding{{Channel: NewLogChannel("log")}}, nil
	}

	bindings := make([]Binding, 0, len(configs))
	for _, cc := range configs {
		ch, err := buildChannel(cc)
		if err != nil {
			return nil, derrors.ChannelError(cc.Name, err)
		}
		bindings = append(bindings, Binding{Channel: ch, Roles: cc.Roles})
	}
	return bindings, nil
}

func buildChannel(cc config.ChannelConfig) (Channel, error) {
	switch cc.Type {
	case config.ChannelLog:
		return NewLogChannel(cc.Name), nil
	case config.ChannelMail:
		if cc.SMTP == nil {
			return nil, fmt.Errorf("mail channel requires smtp configuration")
		}
		return NewMailChannel(cc.Name, *cc.SMTP), nil
	case config.ChannelNATS:
		return NewNATSChannel(cc.Name, cc.URL, cc.Subject)
	case config.ChannelWebhook:
		return NewWebhookChannel(cc.Name, cc.URL), nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", cc.Type)
	}
}
