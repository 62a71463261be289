package platform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatpulse/chatpulse/internal/event"
)

func TestParseIRCPrivmsg(t *testing.T) {
	line := "@badge-info=subscriber/14;badges=subscriber/12,premium/1;color=#FF0000;display-name=SomeUser;" +
		"emotes=25:0-4;id=b34ccfc7-4977-403a-8a94-33c6bac34fb8;mod=0;room-id=1337;subscriber=1;" +
		"tmi-sent-ts=1704067200123;turbo=0;user-id=999;user-type=;vip=1 " +
		":someuser!someuser@someuser.tmi.twitch.tv PRIVMSG #somechannel :Kappa hello world"

	m, err := parseIRC(line)
	require.NoError(t, err)

	require.Equal(t, "PRIVMSG", m.Command)
	require.Equal(t, "someuser", m.Nick)
	require.Equal(t, "someuser!someuser@someuser.tmi.twitch.tv", m.Prefix)
	require.Equal(t, "somechannel", m.Channel())
	require.Equal(t, "Kappa hello world", m.Text())
	require.Equal(t, "b34ccfc7-4977-403a-8a94-33c6bac34fb8", m.Tags["id"])
	require.Equal(t, "subscriber/12,premium/1", m.Tags["badges"])
	require.Equal(t, "1337", m.Tags["room-id"])
	require.True(t, m.tagBool("subscriber"))
	require.False(t, m.tagBool("mod"))
}

func TestParseIRCPing(t *testing.T) {
	m, err := parseIRC("PING :tmi.twitch.tv")
	require.NoError(t, err)
	require.Equal(t, "PING", m.Command)
	require.Equal(t, []string{"tmi.twitch.tv"}, m.Params)
	require.Empty(t, m.Nick)
}

func TestParseIRCNumeric(t *testing.T) {
	m, err := parseIRC(":tmi.twitch.tv 001 justinfan12345 :Welcome, GLHF!")
	require.NoError(t, err)
	require.Equal(t, "001", m.Command)
	require.Equal(t, []string{"justinfan12345", "Welcome, GLHF!"}, m.Params)
}

func TestParseIRCErrors(t *testing.T) {
	for _, line := range []string{"", "@only=tags", ":prefix.only"} {
		_, err := parseIRC(line)
		require.Error(t, err, "line %q", line)
	}
}

func TestTagUnescaping(t *testing.T) {
	line := `@reply-parent-msg-body=hello\sworld\:\\ok\nend;empty=;dangling=abc\ :u!u@h PRIVMSG #c :hi`
	m, err := parseIRC(line)
	require.NoError(t, err)
	require.Equal(t, "hello world;\\ok\nend", m.Tags["reply-parent-msg-body"])
	require.Equal(t, "", m.Tags["empty"])
	require.Equal(t, "abc", m.Tags["dangling"])
}

func TestMergeRoomStateFullThenDelta(t *testing.T) {
	full, err := parseIRC("@emote-only=0;followers-only=-1;r9k=0;room-id=1337;slow=0;subs-only=0 :tmi.twitch.tv ROOMSTATE #somechannel")
	require.NoError(t, err)
	state := mergeRoomState(event.RoomState{}, full)

	require.Equal(t, "somechannel", state.Name)
	require.Equal(t, "1337", state.RoomID)
	require.False(t, state.IsFollowersOnly)
	require.Zero(t, state.Slow)

	// Later updates carry only the changed tag; the rest must survive.
	delta, err := parseIRC("@slow=30 :tmi.twitch.tv ROOMSTATE #somechannel")
	require.NoError(t, err)
	state = mergeRoomState(state, delta)
	require.Equal(t, 30, state.Slow)
	require.Equal(t, "1337", state.RoomID)

	followers, err := parseIRC("@followers-only=10 :tmi.twitch.tv ROOMSTATE #somechannel")
	require.NoError(t, err)
	state = mergeRoomState(state, followers)
	require.True(t, state.IsFollowersOnly)
	require.Equal(t, 10, state.FollowerOnlyDelay)

	off, err := parseIRC("@followers-only=-1 :tmi.twitch.tv ROOMSTATE #somechannel")
	require.NoError(t, err)
	state = mergeRoomState(state, off)
	require.False(t, state.IsFollowersOnly)
	require.Zero(t, state.FollowerOnlyDelay)
}

func TestPrivateMessageFromIRC(t *testing.T) {
	line := "@bits=100;display-name=SomeUser;id=b34ccfc7-4977-403a-8a94-33c6bac34fb8;mod=1;room-id=1337;" +
		"tmi-sent-ts=1704067200123;user-id=999;reply-parent-msg-id=aaaa;reply-parent-user-login=other " +
		":someuser!someuser@someuser.tmi.twitch.tv PRIVMSG #somechannel :\x01ACTION waves at chat\x01"
	m, err := parseIRC(line)
	require.NoError(t, err)

	cached := event.RoomState{Name: "somechannel", RoomID: "1337", Slow: 30}
	pm := privateMessageFromIRC(m, cached)

	require.Equal(t, "b34ccfc7-4977-403a-8a94-33c6bac34fb8", pm.ID)
	require.Equal(t, "somechannel", pm.Channel)
	require.Equal(t, "waves at chat", pm.Text)
	require.True(t, pm.IsMe)
	require.Equal(t, 100, pm.Bits)
	require.Equal(t, int64(1704067200123), pm.SentTimestamp)
	require.Equal(t, "aaaa", pm.ReplyParentMsgID)
	require.Equal(t, "other", pm.ReplyParentUserLogin)
	require.Equal(t, 30, pm.Room.Slow)
	require.Equal(t, "someuser", pm.User.Name)
	require.Equal(t, "SomeUser", pm.User.DisplayName)
	require.True(t, pm.User.Mod)
}

func TestPrivateMessageFallsBackToMessageTags(t *testing.T) {
	line := "@id=b34ccfc7-4977-403a-8a94-33c6bac34fb8;room-id=1337;tmi-sent-ts=1 " +
		":u!u@h PRIVMSG #somechannel :hi"
	m, err := parseIRC(line)
	require.NoError(t, err)

	// No ROOMSTATE seen yet: the room id comes from the message itself.
	pm := privateMessageFromIRC(m, event.RoomState{})
	require.Equal(t, "1337", pm.Room.RoomID)
	require.Equal(t, "somechannel", pm.Room.Name)
}
