package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"murmur/internal/domain"
)

// MQTTConfig controls the broker transport.
type MQTTConfig struct {
	BrokerURL       string
	ClientID        string
	Username        string
	Password        string
	PublishTopic    string
	SubscribeTopic  string
	ProtocolVersion int
	HelloTimeout    time.Duration
	AudioParams     AudioParams
}

// MQTT implements Protocol over a message broker. Control messages are JSON
// on the configured topics; audio frames ride base64-encoded inside an
// audio envelope.
type MQTT struct {
	session
	cfg MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
	opened bool
	hello  chan Envelope
}

func NewMQTT(cfg MQTTConfig, handlers Handlers, log *slog.Logger) *MQTT {
	if cfg.ProtocolVersion <= 0 {
		cfg.ProtocolVersion = 1
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 10 * time.Second
	}
	if cfg.AudioParams.Format == "" {
		cfg.AudioParams = AudioParams{Format: "opus", SampleRate: 16000, Channels: 1, FrameDuration: 60}
	}
	p := &MQTT{cfg: cfg}
	p.session = newSession(handlers, log)
	p.session.sendText = p.SendText
	return p
}

// Start connects to the broker and subscribes to the reply topic. The audio
// channel itself opens later via the hello exchange.
func (p *MQTT) Start(ctx context.Context) error {
	if p.cfg.BrokerURL == "" {
		return errors.New("mqtt broker is not configured")
	}
	if p.cfg.PublishTopic == "" || p.cfg.SubscribeTopic == "" {
		return errors.New("mqtt topics are not configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warn("broker connection lost", "error", err)
			p.markClosed()
		})

	client := mqtt.NewClient(opts)
	connect := client.Connect()
	if !connect.WaitTimeout(p.cfg.HelloTimeout) {
		return errors.New("timed out connecting to mqtt broker")
	}
	if err := connect.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	subscribe := client.Subscribe(p.cfg.SubscribeTopic, 1, p.onMessage)
	if !subscribe.WaitTimeout(p.cfg.HelloTimeout) {
		client.Disconnect(0)
		return errors.New("timed out subscribing to reply topic")
	}
	if err := subscribe.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("failed to subscribe to reply topic: %w", err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

func (p *MQTT) OpenAudioChannel(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	hello := make(chan Envelope, 1)
	p.hello = hello
	p.mu.Unlock()
	if client == nil {
		return errors.New("broker connection is not started")
	}

	if err := p.publish(clientHelloMessage("mqtt", p.cfg.ProtocolVersion, p.cfg.AudioParams)); err != nil {
		return err
	}

	select {
	case env := <-hello:
		if env.SessionID != "" {
			p.setSessionID(env.SessionID)
		}
		if env.AudioParams != nil {
			p.setServerSampleRate(env.AudioParams.SampleRate)
		}
	case <-time.After(p.cfg.HelloTimeout):
		p.reportError("wait server hello timeout")
		return errors.New("timed out waiting for server hello")
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.opened = true
	p.mu.Unlock()
	p.touchIncoming()
	if h := p.handlers.OnAudioChannelOpened; h != nil {
		h()
	}
	return nil
}

func (p *MQTT) CloseAudioChannel() {
	_ = p.publish(goodbye(p.SessionID()))
	p.markClosed()
}

func (p *MQTT) IsAudioChannelOpened() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.IsConnected() && p.opened
}

func (p *MQTT) SendAudio(packet domain.AudioPacket) error {
	p.mu.Lock()
	opened := p.opened
	p.mu.Unlock()
	if !opened {
		return ErrChannelClosed
	}
	return p.publish(marshalMessage(audioEnvelope{
		SessionID: p.SessionID(),
		Type:      "audio",
		Data:      base64.StdEncoding.EncodeToString(packet.Payload),
	}))
}

func (p *MQTT) SendText(text string) error {
	p.mu.Lock()
	opened := p.opened
	p.mu.Unlock()
	if !opened {
		return ErrChannelClosed
	}
	return p.publish(text)
}

func (p *MQTT) publish(payload string) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return ErrChannelClosed
	}
	token := client.Publish(p.cfg.PublishTopic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.reportError("failed to send message to server")
		return errors.New("timed out publishing to broker")
	}
	if err := token.Error(); err != nil {
		p.reportError("failed to send message to server")
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	p.touchIncoming()

	var env Envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		p.log.Warn("dropping unparseable broker message", "error", err)
		return
	}

	switch env.Type {
	case "hello":
		p.mu.Lock()
		hello := p.hello
		p.mu.Unlock()
		if hello != nil {
			select {
			case hello <- env:
			default:
			}
		}
	case "goodbye":
		p.markClosed()
	case "audio":
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			p.log.Warn("dropping audio frame with bad encoding", "error", err)
			return
		}
		if h := p.handlers.OnIncomingAudio; h != nil {
			h(domain.AudioPacket{Payload: data, SampleRate: p.ServerSampleRate()})
		}
	default:
		if h := p.handlers.OnIncomingJSON; h != nil {
			h(env)
		}
	}
}

// markClosed flips the channel to closed exactly once per open.
func (p *MQTT) markClosed() {
	p.mu.Lock()
	wasOpened := p.opened
	p.opened = false
	p.mu.Unlock()
	if wasOpened {
		if h := p.handlers.OnAudioChannelClosed; h != nil {
			h()
		}
	}
}
