package platform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chatpulse/chatpulse/internal/event"
)

// IRCMessage is one parsed IRC line from the chat gateway, IRCv3 tags
// included. Params holds the trailing parameter, if any, as its last
// element.
type IRCMessage struct {
	Raw     string
	Tags    map[string]string
	Prefix  string
	Nick    string
	Command string
	Params  []string
}

// Channel returns the #-stripped channel name, or "" when the line does
// not address a channel.
func (m IRCMessage) Channel() string {
	for _, p := range m.Params {
		if strings.HasPrefix(p, "#") {
			return strings.TrimPrefix(p, "#")
		}
	}
	return ""
}

// Text returns the trailing parameter, or "" when there is none.
func (m IRCMessage) Text() string {
	if len(m.Params) < 2 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// parseIRC splits one gateway line into tags, prefix, command and params.
func parseIRC(line string) (IRCMessage, error) {
	m := IRCMessage{Raw: line}
	rest := strings.TrimSuffix(line, "\r")

	if strings.HasPrefix(rest, "@") {
		rawTags, after, found := strings.Cut(rest[1:], " ")
		if !found {
			return m, fmt.Errorf("irc line %q has tags but no command", line)
		}
		m.Tags = parseTags(rawTags)
		rest = after
	}

	if strings.HasPrefix(rest, ":") {
		prefix, after, found := strings.Cut(rest[1:], " ")
		if !found {
			return m, fmt.Errorf("irc line %q has prefix but no command", line)
		}
		m.Prefix = prefix
		if nick, _, ok := strings.Cut(prefix, "!"); ok {
			m.Nick = nick
		}
		rest = after
	}

	command, after, _ := strings.Cut(rest, " ")
	if command == "" {
		return m, fmt.Errorf("irc line %q has no command", line)
	}
	m.Command = command

	for after != "" {
		if strings.HasPrefix(after, ":") {
			m.Params = append(m.Params, after[1:])
			break
		}
		param, next, _ := strings.Cut(after, " ")
		m.Params = append(m.Params, param)
		after = next
	}
	return m, nil
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		key, value, _ := strings.Cut(pair, "=")
		tags[key] = unescapeTag(value)
	}
	return tags
}

// unescapeTag reverses the IRCv3 tag-value escaping. IRCv3 says a dangling
// backslash is dropped.
func unescapeTag(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			b.WriteByte(v[i])
			continue
		}
		i++
		if i >= len(v) {
			break
		}
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

func (m IRCMessage) tagInt(name string) int {
	n, err := strconv.Atoi(m.Tags[name])
	if err != nil {
		return 0
	}
	return n
}

func (m IRCMessage) tagBool(name string) bool {
	return m.Tags[name] == "1"
}

// mergeRoomState folds one ROOMSTATE line into the cached room flags.
// The gateway sends the full tag set on join but only the changed tag on
// later updates, so absent tags keep their cached value. followers-only
// is -1 for off, otherwise the delay in minutes.
func mergeRoomState(s event.RoomState, m IRCMessage) event.RoomState {
	s.Name = m.Channel()
	if v, ok := m.Tags["room-id"]; ok {
		s.RoomID = v
	}
	if _, ok := m.Tags["emote-only"]; ok {
		s.IsEmoteOnly = m.tagBool("emote-only")
	}
	if _, ok := m.Tags["subs-only"]; ok {
		s.IsSubsOnly = m.tagBool("subs-only")
	}
	if _, ok := m.Tags["r9k"]; ok {
		s.IsUniqueOnly = m.tagBool("r9k")
	}
	if _, ok := m.Tags["slow"]; ok {
		s.Slow = m.tagInt("slow")
	}
	if v, ok := m.Tags["followers-only"]; ok {
		n, err := strconv.Atoi(v)
		s.IsFollowersOnly = err == nil && n >= 0
		s.FollowerOnlyDelay = 0
		if s.IsFollowersOnly {
			s.FollowerOnlyDelay = n
		}
	}
	return s
}

// privateMessageFromIRC merges one PRIVMSG line with the cached room
// state. /me actions arrive wrapped in the legacy CTCP ACTION envelope
// and are unwrapped here.
func privateMessageFromIRC(m IRCMessage, room event.RoomState) PrivateMessage {
	text := m.Text()
	isMe := false
	if strings.HasPrefix(text, "\x01ACTION ") && strings.HasSuffix(text, "\x01") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
		isMe = true
	}

	if room.RoomID == "" {
		room.RoomID = m.Tags["room-id"]
		room.Name = m.Channel()
	}

	sentTS, _ := strconv.ParseInt(m.Tags["tmi-sent-ts"], 10, 64)

	return PrivateMessage{
		ID:            m.Tags["id"],
		Channel:       m.Channel(),
		Text:          text,
		IsMe:          isMe,
		Bits:          m.tagInt("bits"),
		SentTimestamp: sentTS,
		Emotes:        m.Tags["emotes"],

		ReplyParentMsgID:           m.Tags["reply-parent-msg-id"],
		ReplyParentUserID:          m.Tags["reply-parent-user-id"],
		ReplyParentUserLogin:       m.Tags["reply-parent-user-login"],
		ReplyParentDisplayName:     m.Tags["reply-parent-display-name"],
		ReplyParentMsgBody:         m.Tags["reply-parent-msg-body"],
		ReplyThreadParentMsgID:     m.Tags["reply-thread-parent-msg-id"],
		ReplyThreadParentUserLogin: m.Tags["reply-thread-parent-user-login"],

		Room: room,
		User: event.UserState{
			Name:        m.Nick,
			BadgeInfo:   m.Tags["badge-info"],
			Badges:      m.Tags["badges"],
			Color:       m.Tags["color"],
			DisplayName: m.Tags["display-name"],
			Mod:         m.tagBool("mod"),
			Subscriber:  m.tagBool("subscriber"),
			Turbo:       m.tagBool("turbo"),
			ID:          m.Tags["user-id"],
			UserType:    m.Tags["user-type"],
			Vip:         m.tagBool("vip"),
		},
	}
}
