package platform

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/event"
)

const chatWriteWait = 10 * time.Second

var errNotConnected = errors.New("platform: chat socket not connected")

// ChatConfig configures the chat gateway session. An empty Token reads
// chat anonymously; Nick must then be a justinfan pseudo-login.
type ChatConfig struct {
	URL   string
	Token string
	Nick  string
}

// Chat is an IRC session over a WebSocket to the platform's chat gateway.
// One goroutine runs the read loop (Run); JoinRoom and LeaveRoom may be
// called from others. The socket is single-writer, so every outbound line
// goes through one mutex.
type Chat struct {
	cfg    ChatConfig
	logger zerolog.Logger

	mu      sync.Mutex
	conn    net.Conn
	rw      io.ReadWriter
	joined  map[string]struct{}
	rooms   map[string]event.RoomState
	handler func(PrivateMessage)
}

var _ ChatSocket = (*Chat)(nil)

func NewChat(cfg ChatConfig, logger zerolog.Logger) *Chat {
	return &Chat{
		cfg:    cfg,
		logger: logger,
		joined: make(map[string]struct{}),
		rooms:  make(map[string]event.RoomState),
	}
}

// OnMessage sets the handler for inbound chat lines. Must be called
// before Run; the handler runs on the read-loop goroutine.
func (c *Chat) OnMessage(handler func(PrivateMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Run dials the gateway and pumps inbound lines until the context ends,
// redialing with backoff on connection loss and rejoining every room that
// was joined before the drop.
func (c *Chat) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		if err := c.connect(ctx); err != nil {
			return err
		}
		err := c.readLoop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chatReconnects.Inc()
		c.logger.Warn().Err(err).Msg("Chat connection lost, reconnecting")
	}
}

func (c *Chat) connect(ctx context.Context) error {
	op := func() error {
		conn, br, _, err := ws.Dial(ctx, c.cfg.URL)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("Chat dial failed")
			return err
		}

		// The dialer may have buffered frames the gateway sent right
		// after the handshake; they must be drained before the conn.
		var rw io.ReadWriter = conn
		if br != nil {
			rw = struct {
				io.Reader
				io.Writer
			}{io.MultiReader(br, conn), conn}
		}

		c.mu.Lock()
		c.conn = conn
		c.rw = rw
		c.mu.Unlock()

		if err := c.login(); err != nil {
			conn.Close()
			return err
		}
		if err := c.rejoin(); err != nil {
			conn.Close()
			return err
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func (c *Chat) login() error {
	if err := c.writeLine("CAP REQ :twitch.tv/tags twitch.tv/commands"); err != nil {
		return err
	}
	if c.cfg.Token != "" {
		token := strings.TrimPrefix(c.cfg.Token, "oauth:")
		if err := c.writeLine("PASS oauth:" + token); err != nil {
			return err
		}
	}
	return c.writeLine("NICK " + c.cfg.Nick)
}

func (c *Chat) rejoin() error {
	c.mu.Lock()
	logins := make([]string, 0, len(c.joined))
	for login := range c.joined {
		logins = append(logins, login)
	}
	c.mu.Unlock()

	for _, login := range logins {
		if err := c.writeLine("JOIN #" + login); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chat) readLoop() error {
	c.mu.Lock()
	rw := c.rw
	c.mu.Unlock()

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			return err
		}
		if op != ws.OpText {
			continue
		}
		// One frame may carry several IRC lines.
		for _, line := range strings.Split(string(data), "\r\n") {
			if line == "" {
				continue
			}
			c.handleLine(line)
		}
	}
}

func (c *Chat) handleLine(line string) {
	m, err := parseIRC(line)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Unparseable chat line")
		return
	}

	switch m.Command {
	case "PING":
		payload := ""
		if len(m.Params) > 0 {
			payload = m.Params[len(m.Params)-1]
		}
		if err := c.writeLine("PONG :" + payload); err != nil {
			c.logger.Warn().Err(err).Msg("PONG write failed")
		}
	case "PRIVMSG":
		chatMessagesTotal.Inc()
		channel := m.Channel()
		c.mu.Lock()
		room := c.rooms[channel]
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(privateMessageFromIRC(m, room))
		}
	case "ROOMSTATE":
		channel := m.Channel()
		c.mu.Lock()
		c.rooms[channel] = mergeRoomState(c.rooms[channel], m)
		c.mu.Unlock()
	case "RECONNECT":
		// The gateway is about to drop us; closing forces the read loop
		// into the redial path.
		c.logger.Info().Msg("Chat gateway requested reconnect")
		c.Close()
	case "001":
		c.logger.Info().Str("nick", c.cfg.Nick).Msg("Chat login accepted")
	case "NOTICE":
		c.logger.Warn().Str("notice", m.Text()).Msg("Chat gateway notice")
	}
}

// JoinRoom subscribes to a broadcaster's chat. The room is remembered for
// rejoin after a reconnect.
func (c *Chat) JoinRoom(_ context.Context, login string) error {
	login = strings.ToLower(login)
	if err := c.writeLine("JOIN #" + login); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[login] = struct{}{}
	roomsJoined.Set(float64(len(c.joined)))
	c.mu.Unlock()
	return nil
}

// LeaveRoom unsubscribes. The room is forgotten even when the PART write
// fails: a dead socket leaves the room on its own.
func (c *Chat) LeaveRoom(_ context.Context, login string) error {
	login = strings.ToLower(login)
	c.mu.Lock()
	delete(c.joined, login)
	delete(c.rooms, login)
	roomsJoined.Set(float64(len(c.joined)))
	c.mu.Unlock()
	return c.writeLine("PART #" + login)
}

func (c *Chat) writeLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(chatWriteWait))
	return wsutil.WriteClientMessage(c.conn, ws.OpText, []byte(line+"\r\n"))
}

// Close drops the connection. Run's read loop unblocks with an error and
// either redials or, when its context ended, returns.
func (c *Chat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
