// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package preferences

import (
	"strings"

	"github.com/spf13/pflag"

	"github.com/StorXNetwork/StorXNotify/notification/message"
)

// ChannelList is a comma separated list of channels usable as a flag.
type ChannelList []message.Channel

var _ pflag.Value = (*ChannelList)(nil)

// Type implements pflag.Value.
func (ChannelList) Type() string { return "preferences.ChannelList" }

// String implements pflag.Value.
func (list *ChannelList) String() string {
	if list == nil {
		return ""
	}
	names := make([]string, 0, len(*list))
	for _, channel := range *list {
		names = append(names, string(channel))
	}
	return strings.Join(names, ",")
}

// Set implements pflag.Value.
func (list *ChannelList) Set(s string) error {
	var channels []message.Channel
	for _, name := range strings.Split(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		channel, err := message.ParseChannel(name)
		if err != nil {
			return err
		}
		channels = append(channels, channel)
	}
	*list = channels
	return nil
}

// Config contains the preference defaults.
type Config struct {
	DefaultChannels ChannelList `help:"channels enabled for users without stored preferences" default:"in_app,email,push"`
}
