package event

import "encoding/json"

// RoomState carries the chat room flags in effect when a message was sent.
type RoomState struct {
	Name              string `json:"name"`
	IsEmoteOnly       bool   `json:"is_emote_only"`
	IsSubsOnly        bool   `json:"is_subs_only"`
	IsFollowersOnly   bool   `json:"is_followers_only"`
	IsUniqueOnly      bool   `json:"is_unique_only"`
	FollowerOnlyDelay int    `json:"follower_only_delay"`
	RoomID            string `json:"room_id"`
	Slow              int    `json:"slow"`
}

// UserState carries the sender's per-room attributes.
type UserState struct {
	Name        string `json:"name"`
	BadgeInfo   string `json:"badge_info"`
	Badges      string `json:"badges"`
	Color       string `json:"color"`
	DisplayName string `json:"display_name"`
	Mod         bool   `json:"mod"`
	Subscriber  bool   `json:"subscriber"`
	Turbo       bool   `json:"turbo"`
	ID          string `json:"id"`
	UserType    string `json:"user_type"`
	Vip         bool   `json:"vip"`
}

// MessagePayload is the full record serialized into ChatMessage.Message.
// It preserves everything the platform tells us about a chat line; storage
// keeps it opaque and analytics reads only Text.
type MessagePayload struct {
	Text                       string    `json:"text"`
	IsMe                       bool      `json:"is_me"`
	Bits                       int       `json:"bits"`
	SentTimestamp              int64     `json:"sent_timestamp"`
	ReplyParentMsgID           string    `json:"reply_parent_msg_id"`
	ReplyParentUserID          string    `json:"reply_parent_user_id"`
	ReplyParentUserLogin       string    `json:"reply_parent_user_login"`
	ReplyParentDisplayName     string    `json:"reply_parent_display_name"`
	ReplyParentMsgBody         string    `json:"reply_parent_msg_body"`
	ReplyThreadParentMsgID     string    `json:"reply_thread_parent_msg_id"`
	ReplyThreadParentUserLogin string    `json:"reply_thread_parent_user_login"`
	Emotes                     string    `json:"emotes"`
	ID                         string    `json:"id"`
	Room                       RoomState `json:"room"`
	User                       UserState `json:"user"`
}

// Serialize renders the payload for ChatMessage.Message.
func (p MessagePayload) Serialize() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExtractText pulls the text field out of an opaque message payload
// without decoding the rest. Used by the anomaly detector's command
// filter.
func ExtractText(payload string) (string, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", err
	}
	return p.Text, nil
}
