// Command ws_chat is a terminal chat client for a vitchat server. It logs
// in over the REST API, identifies on the gateway, renders incoming
// dispatches with ANSI styling and sends stdin lines as messages.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mikeiscool1/vitchat.xyz/internal/markup"
	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
	"github.com/mikeiscool1/vitchat.xyz/internal/typing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ws_chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "username")
	pass := flag.String("pass", "", "password")
	flag.Parse()

	if *user == "" || *pass == "" {
		return fmt.Errorf("both -user and -pass are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &apiClient{base: *addr}
	if err := client.login(ctx, *user, *pass); err != nil {
		return err
	}

	roster, err := client.roster(ctx)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(*addr, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	identify, err := proto.Identify(client.token)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, identify); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	view := &chatView{
		self:   *user,
		roster: roster,
		agg:    typing.NewAggregator(nil, *user),
	}

	errCh := make(chan error, 3)

	go func() { errCh <- readLoop(ctx, conn, view) }()

	go func() {
		ticker := time.NewTicker(proto.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.Write(ctx, websocket.MessageText, proto.Heartbeat()); err != nil {
					errCh <- fmt.Errorf("heartbeat: %w", err)
					return
				}
			case <-ctx.Done():
				errCh <- nil
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(typing.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				view.renderTyping()
			case <-ctx.Done():
				errCh <- nil
				return
			}
		}
	}()

	go func() { errCh <- inputLoop(ctx, client, view) }()

	return <-errCh
}

// readLoop consumes gateway dispatches and updates the view.
func readLoop(ctx context.Context, conn *websocket.Conn, view *chatView) error {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				code := proto.CloseCode(status)
				if code.NoReconnect() {
					return fmt.Errorf("gateway closed the session (%d), log in again", status)
				}
				return fmt.Errorf("gateway closed (%d)", status)
			}
			return fmt.Errorf("read: %w", err)
		}

		switch env.Op {
		case proto.OpHeartbeatACK:
			continue
		case proto.OpDispatch:
			if env.T == nil {
				continue
			}
		default:
			continue
		}

		switch *env.T {
		case proto.EventReady:
			var d proto.ReadyData
			if err := json.Unmarshal(env.D, &d); err != nil {
				return fmt.Errorf("decode ready: %w", err)
			}
			view.printf("connected as %s\n", d.Username)

		case proto.EventMessageCreate:
			var d proto.MessageCreateData
			if err := json.Unmarshal(env.D, &d); err != nil {
				continue
			}
			view.agg.Clear(d.Author.Username)
			view.printMessage(d.Author.Username, d.Content)

		case proto.EventMessageEdit:
			var d proto.MessageEditData
			if err := json.Unmarshal(env.D, &d); err != nil {
				continue
			}
			view.printf("* message %s edited: %s\n", d.ID, d.Content)

		case proto.EventMessageDelete:
			var d proto.MessageDeleteData
			if err := json.Unmarshal(env.D, &d); err != nil {
				continue
			}
			view.printf("* message %s deleted\n", d.ID)

		case proto.EventPresenceUpdate:
			var d proto.PresenceUpdateData
			if err := json.Unmarshal(env.D, &d); err != nil {
				continue
			}
			view.printf("* user %s is now %s\n", d.ID, d.NewPresence)

		case proto.EventTypingStart:
			var d proto.TypingStartData
			if err := json.Unmarshal(env.D, &d); err != nil {
				continue
			}
			view.agg.Observe(d.Username)

		case proto.EventUserUpdate:
			var d proto.UserUpdateData
			if err := json.Unmarshal(env.D, &d); err != nil {
				continue
			}
			if d.Created {
				view.printf("* %s joined the server\n", d.Username)
			} else {
				view.printf("* user %s is now known as %s\n", d.ID, d.Username)
			}
			view.observeUser(d.Username)
		}
	}
}

// inputLoop sends stdin lines as messages, emitting a throttled typing
// notification ahead of each send.
func inputLoop(ctx context.Context, client *apiClient, view *chatView) error {
	throttle := typing.NewThrottle(nil)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		if throttle.ShouldSend() {
			if err := client.typing(ctx); err != nil {
				view.printf("! typing notification failed: %v\n", err)
			}
		}
		if err := client.sendMessage(ctx, line); err != nil {
			view.printf("! send failed: %v\n", err)
		}
	}
	return scanner.Err()
}

// chatView owns terminal output: messages, the typing indicator line and
// the mention roster.
type chatView struct {
	self string
	agg  *typing.Aggregator

	mu            sync.Mutex
	roster        map[string]markup.Member
	typingVisible bool
}

// Member resolves a mention against the roster. Implements markup.Roster.
func (v *chatView) Member(username string) (markup.Member, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.roster[username]
	return m, ok
}

func (v *chatView) observeUser(username string) {
	if username == "" {
		return
	}
	v.mu.Lock()
	if _, ok := v.roster[username]; !ok {
		v.roster[username] = markup.Member{}
	}
	v.mu.Unlock()
}

func (v *chatView) printMessage(author, content string) {
	rendered := ansiRender(markup.Format(markup.EscapeHTML(content), v))
	v.printf("<%s> %s\n", author, rendered)
}

// printf clears the typing indicator line before writing.
func (v *chatView) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.typingVisible {
		fmt.Print("\r\x1b[K")
		v.typingVisible = false
	}
	fmt.Printf(format, args...)
}

// renderTyping redraws the indicator line on each tick.
func (v *chatView) renderTyping() {
	snap := v.agg.Tick()

	v.mu.Lock()
	defer v.mu.Unlock()
	if !snap.Active {
		if v.typingVisible {
			fmt.Print("\r\x1b[K")
			v.typingVisible = false
		}
		return
	}
	fmt.Printf("\r\x1b[K%s%s", snap.Label, snap.Dots)
	v.typingVisible = true
}

var (
	linkOpenRe    = regexp.MustCompile(`<a [^>]*>`)
	mentionOpenRe = regexp.MustCompile(`<span [^>]*>`)
)

// ansiRender converts the formatted HTML to ANSI terminal styling.
func ansiRender(html string) string {
	r := strings.NewReplacer(
		"<b>", "\x1b[1m", "</b>", "\x1b[22m",
		"<u>", "\x1b[4m", "</u>", "\x1b[24m",
		"<i>", "\x1b[3m", "</i>", "\x1b[23m",
		"</a>", "\x1b[24m",
		"</span>", "\x1b[27m",
	)
	out := linkOpenRe.ReplaceAllString(html, "\x1b[4m")
	out = mentionOpenRe.ReplaceAllString(out, "\x1b[7m")
	return markup.UnescapeHTML(r.Replace(out))
}

// apiClient talks to the REST endpoints.
type apiClient struct {
	base  string
	token string
	http  http.Client
}

func (c *apiClient) login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/auth", map[string]string{
		"username": username,
		"password": password,
	}, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.token = resp.Token
	return nil
}

func (c *apiClient) roster(ctx context.Context) (map[string]markup.Member, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.base+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.token)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch users: status %d", res.StatusCode)
	}

	var users []struct {
		Username string `json:"username"`
		Admin    bool   `json:"admin"`
	}
	if err := json.NewDecoder(res.Body).Decode(&users); err != nil {
		return nil, err
	}
	roster := make(map[string]markup.Member, len(users))
	for _, u := range users {
		roster[u.Username] = markup.Member{Admin: u.Admin}
	}
	return roster, nil
}

func (c *apiClient) sendMessage(ctx context.Context, content string) error {
	err := c.post(ctx, "/messages", map[string]string{"content": content}, nil)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *apiClient) typing(ctx context.Context) error {
	return c.post(ctx, "/typing", nil, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		var e struct {
			Error            string `json:"error"`
			RateLimitedUntil int64  `json:"rate_limited_until"`
		}
		_ = json.NewDecoder(res.Body).Decode(&e)
		if e.RateLimitedUntil != 0 {
			wait := time.UnixMilli(e.RateLimitedUntil).Sub(time.Now()).Round(time.Second)
			return fmt.Errorf("rate limited, try again in %s", wait)
		}
		if e.Error != "" {
			return fmt.Errorf("%s (status %d)", e.Error, res.StatusCode)
		}
		return fmt.Errorf("status %d", res.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}
