// Package cursor implements the opaque pagination cursor handed out by the
// query API. A cursor is the primary key of the first row of the next page,
// (broadcaster_id, year_month, timestamp, message_id), space-joined and
// base62-encoded so it is URL safe.
package cursor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/chatpulse/chatpulse/internal/partition"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var digitValue [128]int8

func init() {
	for i := range digitValue {
		digitValue[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		digitValue[alphabet[i]] = int8(i)
	}
}

// Encode writes each character's code point in base 62, most significant
// digit first, and concatenates the digit groups without delimiters. The
// input contract is ASCII: code points below 128 encode to one or two
// digits, and two-digit groups always lead with digit value 1 or 2, which
// is what lets Decode invert the stream without length prefixes.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)

	for _, r := range s {
		v := int(r)
		if v == 0 {
			continue
		}
		if v >= 62 {
			b.WriteByte(alphabet[v/62])
		}
		b.WriteByte(alphabet[v%62])
	}
	return b.String()
}

// Decode inverts Encode under the ASCII contract: a digit of value 1 or 2
// starts a two-digit group (code points 62..127), every other digit stands
// alone. Characters outside the alphabet are an error.
func Decode(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c >= 128 || digitValue[c] < 0 {
			return "", fmt.Errorf("invalid base62 character %q", c)
		}
		v := int(digitValue[c])
		i++

		if v == 1 || v == 2 {
			if i >= len(s) {
				return "", fmt.Errorf("truncated base62 group at offset %d", i-1)
			}
			c = s[i]
			if c >= 128 || digitValue[c] < 0 {
				return "", fmt.Errorf("invalid base62 character %q", c)
			}
			v = v*62 + int(digitValue[c])
			i++
		}
		b.WriteByte(byte(v))
	}
	return b.String(), nil
}

// Cursor is the decoded primary key of the first row of the next page.
type Cursor struct {
	BroadcasterID int64
	YearMonth     int32
	Timestamp     int64 // milliseconds
	MessageID     uuid.UUID
}

// Encode serializes the cursor to its opaque URL-safe form.
func (c Cursor) Encode() string {
	key := fmt.Sprintf("%d %d %d %s", c.BroadcasterID, c.YearMonth, c.Timestamp, c.MessageID)
	return Encode(key)
}

// Parse decodes and validates an opaque cursor. All four fields must be
// well formed and the year_month must match the timestamp's UTC month;
// anything else is an error the API reports as a bad request.
func Parse(s string) (Cursor, error) {
	key, err := Decode(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("cursor is not valid base62: %w", err)
	}

	fields := strings.Split(key, " ")
	if len(fields) != 4 {
		return Cursor{}, fmt.Errorf("cursor must have 4 fields, got %d", len(fields))
	}

	for _, f := range fields[:3] {
		if !digitsOnly(f) {
			return Cursor{}, fmt.Errorf("cursor field %q is not numeric", f)
		}
	}

	broadcasterID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("cursor broadcaster id: %w", err)
	}
	ym, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return Cursor{}, fmt.Errorf("cursor year month: %w", err)
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("cursor timestamp: %w", err)
	}
	messageID, err := uuid.Parse(fields[3])
	if err != nil {
		return Cursor{}, fmt.Errorf("cursor message id: %w", err)
	}

	if partition.Month(ts) != int32(ym) {
		return Cursor{}, fmt.Errorf("cursor year month %d does not match timestamp %d", ym, ts)
	}

	return Cursor{
		BroadcasterID: broadcasterID,
		YearMonth:     int32(ym),
		Timestamp:     ts,
		MessageID:     messageID,
	}, nil
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
