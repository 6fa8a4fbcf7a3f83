package events

// Scope carries the routing facts a change event does not hold by itself:
// the conversation it belongs to and that conversation's parties.
type Scope struct {
	ConversationID string
	PartyIDs       []string
}

// ChannelResolver determines which Redis channels to publish to
type ChannelResolver interface {
	ResolveChannels(ev ChangeEvent, scope Scope) []string
}

// HybridChannelResolver routes events to conversation, typing and per-user
// channels.
type HybridChannelResolver struct{}

func NewHybridChannelResolver() *HybridChannelResolver {
	return &HybridChannelResolver{}
}

func (r *HybridChannelResolver) ResolveChannels(ev ChangeEvent, scope Scope) []string {
	var channels []string

	switch ev.Table {
	case TableMessages:
		if scope.ConversationID != "" {
			channels = append(channels, ChannelPrefixConversation+scope.ConversationID)
		}
		channels = append(channels, userChannels(scope.PartyIDs)...)
	case TableConversations:
		channels = append(channels, userChannels(scope.PartyIDs)...)
	case TableTyping:
		if scope.ConversationID != "" {
			channels = append(channels, ChannelPrefixTyping+scope.ConversationID)
		}
	}

	return channels
}

func userChannels(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, ChannelPrefixUser+id)
	}
	return out
}
