package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"murmur/internal/domain"
)

// ErrChannelClosed is returned by senders when no audio channel is open.
var ErrChannelClosed = errors.New("audio channel is not open")

// WebsocketConfig controls the websocket transport.
type WebsocketConfig struct {
	URL             string
	AccessToken     string
	DeviceID        string
	ClientID        string
	ProtocolVersion int
	HelloTimeout    time.Duration
	AudioParams     AudioParams
}

// Websocket implements Protocol over a single websocket connection per
// audio channel. Text frames carry JSON control messages, binary frames
// carry audio.
type Websocket struct {
	session
	cfg WebsocketConfig

	connMu sync.Mutex
	conn   *websocket.Conn
	opened bool

	writeMu sync.Mutex
}

func NewWebsocket(cfg WebsocketConfig, handlers Handlers, log *slog.Logger) *Websocket {
	if cfg.ProtocolVersion <= 0 {
		cfg.ProtocolVersion = 1
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 10 * time.Second
	}
	if cfg.AudioParams.Format == "" {
		cfg.AudioParams = AudioParams{Format: "opus", SampleRate: 16000, Channels: 1, FrameDuration: 60}
	}
	p := &Websocket{cfg: cfg}
	p.session = newSession(handlers, log)
	p.session.sendText = p.SendText
	return p
}

func (p *Websocket) Start(ctx context.Context) error {
	if p.cfg.URL == "" {
		return errors.New("websocket endpoint is not configured")
	}
	return nil
}

// OpenAudioChannel dials the server, performs the hello exchange, and marks
// the channel open. Any previous connection is discarded first.
func (p *Websocket) OpenAudioChannel(ctx context.Context) error {
	headers := http.Header{}
	if p.cfg.AccessToken != "" {
		headers.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	}
	headers.Set("Protocol-Version", strconv.Itoa(p.cfg.ProtocolVersion))
	headers.Set("Device-Id", p.cfg.DeviceID)
	headers.Set("Client-Id", p.cfg.ClientID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.URL, headers)
	if err != nil {
		p.reportError("failed to connect to server")
		return fmt.Errorf("failed to connect to websocket server: %w", err)
	}

	hello := make(chan Envelope, 1)
	p.connMu.Lock()
	old := p.conn
	p.conn = conn
	p.opened = false
	p.connMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go p.readLoop(conn, hello)

	if err := p.write(conn, websocket.TextMessage, []byte(clientHelloMessage("websocket", p.cfg.ProtocolVersion, p.cfg.AudioParams))); err != nil {
		_ = conn.Close()
		return err
	}

	select {
	case env := <-hello:
		if env.Transport != "" && env.Transport != "websocket" {
			_ = conn.Close()
			return fmt.Errorf("server offered unsupported transport: %q", env.Transport)
		}
		if env.SessionID != "" {
			p.setSessionID(env.SessionID)
		}
		if env.AudioParams != nil {
			p.setServerSampleRate(env.AudioParams.SampleRate)
		}
	case <-time.After(p.cfg.HelloTimeout):
		_ = conn.Close()
		p.reportError("wait server hello timeout")
		return errors.New("timed out waiting for server hello")
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}

	p.connMu.Lock()
	p.opened = true
	p.connMu.Unlock()
	p.touchIncoming()
	if h := p.handlers.OnAudioChannelOpened; h != nil {
		h()
	}
	return nil
}

func (p *Websocket) CloseAudioChannel() {
	p.connMu.Lock()
	conn := p.conn
	wasOpened := p.opened
	p.conn = nil
	p.opened = false
	p.connMu.Unlock()
	if conn == nil {
		return
	}

	p.writeMu.Lock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(goodbye(p.SessionID())))
	p.writeMu.Unlock()
	_ = conn.Close()

	if wasOpened {
		if h := p.handlers.OnAudioChannelClosed; h != nil {
			h()
		}
	}
}

func (p *Websocket) IsAudioChannelOpened() bool {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return p.conn != nil && p.opened
}

func (p *Websocket) SendAudio(packet domain.AudioPacket) error {
	p.connMu.Lock()
	conn, opened := p.conn, p.opened
	p.connMu.Unlock()
	if conn == nil || !opened {
		return ErrChannelClosed
	}
	return p.write(conn, websocket.BinaryMessage, packet.Payload)
}

func (p *Websocket) SendText(text string) error {
	p.connMu.Lock()
	conn := p.conn
	p.connMu.Unlock()
	if conn == nil {
		return ErrChannelClosed
	}
	return p.write(conn, websocket.TextMessage, []byte(text))
}

func (p *Websocket) write(conn *websocket.Conn, messageType int, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.WriteMessage(messageType, payload); err != nil {
		p.reportError("failed to send message to server")
		return fmt.Errorf("failed to send websocket message: %w", err)
	}
	return nil
}

func (p *Websocket) readLoop(conn *websocket.Conn, hello chan Envelope) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			p.handleDisconnect(conn, err)
			return
		}
		p.touchIncoming()

		if messageType == websocket.BinaryMessage {
			if h := p.handlers.OnIncomingAudio; h != nil {
				h(domain.AudioPacket{Payload: payload, SampleRate: p.ServerSampleRate()})
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			p.log.Warn("dropping unparseable server message", "error", err)
			continue
		}

		switch env.Type {
		case "hello":
			select {
			case hello <- env:
			default:
			}
		case "goodbye":
			p.CloseAudioChannel()
			return
		default:
			if h := p.handlers.OnIncomingJSON; h != nil {
				h(env)
			}
		}
	}
}

// handleDisconnect runs when the read loop dies. Stale loops from a
// superseded connection are ignored.
func (p *Websocket) handleDisconnect(conn *websocket.Conn, err error) {
	p.connMu.Lock()
	current := p.conn == conn
	wasOpened := p.opened
	if current {
		p.conn = nil
		p.opened = false
	}
	p.connMu.Unlock()
	if !current {
		return
	}
	_ = conn.Close()

	if !websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) && !errors.Is(err, net.ErrClosed) {
		p.log.Warn("websocket connection lost", "error", err)
	}
	if wasOpened {
		if h := p.handlers.OnAudioChannelClosed; h != nil {
			h()
		}
	}
}
