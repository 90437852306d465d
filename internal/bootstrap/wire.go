package bootstrap

import (
	"fmt"
	"log/slog"

	"murmur/internal/audio"
	"murmur/internal/board"
	"murmur/internal/config"
	"murmur/internal/ports"
	"murmur/internal/protocol"
	"murmur/internal/settings"
	"murmur/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.Controller
	Protocol   protocol.Protocol
	Store      *settings.Store
	Config     config.Config
}

// Build wires the simulated board, the settings store, the controller, and
// the transport. A configured MQTT broker selects the broker transport;
// otherwise the device talks websocket.
func Build(cfg config.Config, log *slog.Logger) (Services, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := settings.Open(cfg.Device.StateDir)
	if err != nil {
		return Services{}, fmt.Errorf("failed to open settings store: %w", err)
	}

	hw := board.NewStaticHardware(cfg.Device.DeviceID, cfg.Device.ClientID, log)
	ota := board.NewOTAClient(board.OTAConfig{
		BaseURL:  cfg.Server.OTAURL,
		Version:  cfg.Device.Version,
		DeviceID: hw.DeviceID(),
		ClientID: hw.ClientID(),
		StateDir: cfg.Device.StateDir,
	}, log)

	var mic *board.MicVoice
	var voice ports.VoicePipeline
	if cfg.Audio.CaptureEnabled {
		mic = board.NewMicVoice(audio.Config{
			Command:     cfg.Audio.Command,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
		}, cfg.Device.AecOnline, log)
		voice = mic
	} else {
		voice = board.NewSimVoice(cfg.Device.AecOnline, log)
	}

	controller := usecase.NewController(usecase.Deps{
		Voice:    voice,
		Display:  board.NewConsoleDisplay(log),
		LED:      board.NewLogLED(log),
		Camera:   board.NewVisionCamera(log),
		Hardware: hw,
		Settings: store,
		Versions: ota,
		Updater:  ota,
		Notifier: board.NewHTTPNotifier(cfg.Server.NotifyURL, log),
		Logger:   log,
	}, usecase.Config{
		Version:          cfg.Device.Version,
		ReconnectGap:     cfg.Timing.ReconnectGap,
		InspectionDelay:  cfg.Timing.InspectionDelay,
		AutoLogoutAfter:  cfg.Timing.AutoLogoutAfter,
		ClearScreenAfter: cfg.Timing.ClearScreenAfter,
	})

	if mic != nil {
		mic.SetFrameListener(controller.RaiseSendAudio)
	}

	proto := buildTransport(cfg, hw.DeviceID(), hw.ClientID(), controller, log)
	controller.AttachProtocol(proto)

	return Services{
		Controller: controller,
		Protocol:   proto,
		Store:      store,
		Config:     cfg,
	}, nil
}

func buildTransport(cfg config.Config, deviceID string, clientID string, controller *usecase.Controller, log *slog.Logger) protocol.Protocol {
	if cfg.MQTT.BrokerURL != "" {
		return protocol.NewMQTT(protocol.MQTTConfig{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       clientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			PublishTopic:   cfg.MQTT.PublishTopic,
			SubscribeTopic: cfg.MQTT.SubscribeTopic,
			HelloTimeout:   cfg.Server.HelloTimeout,
		}, controller.Handlers(), log)
	}
	return protocol.NewWebsocket(protocol.WebsocketConfig{
		URL:          cfg.Server.WebsocketURL,
		AccessToken:  cfg.Server.AccessToken,
		DeviceID:     deviceID,
		ClientID:     clientID,
		HelloTimeout: cfg.Server.HelloTimeout,
	}, controller.Handlers(), log)
}
