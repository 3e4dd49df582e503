package subscription

import (
	"slices"

	"squadstream/events"
	"squadstream/log"
)

// Filter selects the events a subscription receives. Every non-empty field must match.
// The zero Filter receives everything on every channel.
type Filter struct {
	// Key matches the producer key of the event exactly.
	Key string
	// SessionIDs matches stream tokens whose session or child session id is in the set.
	// Setting it restricts the subscription to the stream channel.
	SessionIDs []string
	// Channels restricts the subscription to the named channels.
	Channels []events.Channel
	// Match is an optional predicate applied after the other fields. A Match that panics
	// is treated as not matching.
	Match func(events.Event) bool
}

// compiledFilter is a Filter with its session set built once, so matching on the listener
// path doesn't allocate.
type compiledFilter struct {
	key      string
	sessions map[string]struct{}
	channels []events.Channel
	match    func(events.Event) bool
}

func (f Filter) compile() compiledFilter {
	c := compiledFilter{
		key:   f.Key,
		match: f.Match,
	}
	if len(f.SessionIDs) > 0 {
		c.sessions = make(map[string]struct{}, len(f.SessionIDs))
		for _, id := range f.SessionIDs {
			c.sessions[id] = struct{}{}
		}
	}

	switch {
	case len(f.Channels) > 0:
		for _, ch := range f.Channels {
			if !slices.Contains(c.channels, ch) {
				c.channels = append(c.channels, ch)
			}
		}
	case c.sessions != nil:
		c.channels = []events.Channel{events.ChannelStream}
	default:
		c.channels = slices.Clone(events.Channels)
	}
	return c
}

func (c compiledFilter) matches(e events.Event) (ok bool) {
	if !slices.Contains(c.channels, e.Channel) {
		return false
	}
	if c.key != "" && e.Key != c.key {
		return false
	}
	if c.sessions != nil {
		token, isToken := e.Payload.(events.StreamToken)
		if !isToken {
			return false
		}
		_, session := c.sessions[token.SessionID]
		_, child := c.sessions[token.ChildSessionID]
		if !session && !(child && token.ChildSessionID != "") {
			return false
		}
	}
	if c.match == nil {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			log.ErrorLog.Printf("subscription filter panicked on %s event: %v", e.Channel, r)
			ok = false
		}
	}()
	return c.match(e)
}
