// Command client is a terminal client for manual testing. Each stdin line is
// "TYPE {json data}", for example:
//
//	JOIN_ROOM {"roomId":"042","password":"1234"}
//	DRAW_TILE {"roomId":"042"}
//
// The special line "create" opens a room over the REST API.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/wfunc/mahjongserver/auth"
	"github.com/wfunc/mahjongserver/logger"
	"github.com/wfunc/mahjongserver/network"
)

func main() {
	addr := pflag.String("addr", "localhost:8080", "server host:port")
	email := pflag.String("email", "player1@example.com", "identity to sign in as")
	nickname := pflag.String("nickname", "", "display name")
	secret := pflag.String("secret", "", "JWT secret shared with the server")
	issuer := pflag.String("issuer", "mahjong-server", "JWT issuer")
	pflag.Parse()

	logger.Init("debug", true)
	defer logger.Sync()

	token, err := auth.NewVerifier(*secret, *issuer).Issue(*email, *nickname, 24*time.Hour)
	if err != nil {
		logger.Log.Fatalf("Issue token: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	logger.Log.Infof("Connecting to ws://%s/ws as %s", *addr, *email)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				logger.Log.Infow("read error", "error", err)
				return
			}
			env, err := network.Decode(message)
			if err != nil {
				logger.Log.Warnf("Received invalid frame: %s", message)
				continue
			}
			logger.Log.Infof("<- %s %s", env.Type, env.Data)
		}
	}()

	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			text, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSpace(text)
		}
	}()

	logger.Log.Info("Client started. Type a message, e.g. PING, or 'create'.")

	// Write loop
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			logger.Log.Info("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Log.Infow("write close error", "error", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case text, ok := <-lines:
			if !ok {
				return
			}
			if text == "" {
				continue
			}
			if text == "create" {
				createRoom(*addr, token)
				continue
			}
			frame, err := parseLine(text)
			if err != nil {
				logger.Log.Warnf("Cannot send %q: %v", text, err)
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Log.Infow("write error", "error", err)
				return
			}
			logger.Log.Debugf("-> %s", frame)
		}
	}
}

// parseLine turns "TYPE {json}" into an envelope frame.
func parseLine(text string) ([]byte, error) {
	kind, data, _ := strings.Cut(text, " ")
	env := network.Envelope{
		Type:      network.Kind(strings.ToUpper(kind)),
		Timestamp: time.Now().UnixMilli(),
	}
	if data = strings.TrimSpace(data); data != "" {
		if !json.Valid([]byte(data)) {
			return nil, errInvalidJSON
		}
		env.Data = json.RawMessage(data)
	}
	return json.Marshal(env)
}

var errInvalidJSON = errors.New("data is not valid JSON")

func createRoom(addr, token string) {
	req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Log.Warnf("Create room: %v", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	logger.Log.Infof("<- HTTP %d %s", resp.StatusCode, body)
}
