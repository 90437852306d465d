package board

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"murmur/internal/audio"
	"murmur/internal/domain"
)

const micFrameMillis = 60

// MicVoice is the live-capture variant of the voice pipeline: microphone PCM
// from an ffmpeg session, sliced into fixed-length frames for upstream.
// Wake word detection and playback stay simulated.
type MicVoice struct {
	*SimVoice

	capture *audio.FFMPEGCapture
	cfg     audio.Config
	log     *slog.Logger

	mu      sync.Mutex
	session audio.Session
	cancel  context.CancelFunc
	done    chan struct{}
	onFrame func()
}

func NewMicVoice(cfg audio.Config, aecCapable bool, log *slog.Logger) *MicVoice {
	if log == nil {
		log = slog.Default()
	}
	return &MicVoice{
		SimVoice: NewSimVoice(aecCapable, log),
		capture:  audio.NewFFMPEGCapture(cfg.Command),
		cfg:      cfg,
		log:      log,
	}
}

// SetFrameListener registers the callback run after each captured frame is
// queued. The controller's send-audio raiser goes here.
func (v *MicVoice) SetFrameListener(fn func()) {
	v.mu.Lock()
	v.onFrame = fn
	v.mu.Unlock()
}

func (v *MicVoice) Start() error {
	if err := v.SimVoice.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	session, err := v.capture.Start(ctx, v.cfg)
	if err != nil {
		cancel()
		_ = v.SimVoice.Stop()
		return err
	}

	done := make(chan struct{})
	v.mu.Lock()
	v.session = session
	v.cancel = cancel
	v.done = done
	v.mu.Unlock()

	go v.captureLoop(session, done)
	return nil
}

func (v *MicVoice) Stop() error {
	v.mu.Lock()
	session := v.session
	cancel := v.cancel
	done := v.done
	v.session = nil
	v.cancel = nil
	v.done = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		if err := session.Stop(); err != nil {
			v.log.Warn("capture stop failed", "error", err)
		}
	}
	if done != nil {
		<-done
	}
	return v.SimVoice.Stop()
}

func (v *MicVoice) captureLoop(session audio.Session, done chan struct{}) {
	defer close(done)

	sampleRate := v.cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := v.cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	frameBytes := sampleRate * channels * 2 * micFrameMillis / 1000

	for {
		frame := make([]byte, frameBytes)
		if _, err := io.ReadFull(session, frame); err != nil {
			if err != io.EOF {
				v.log.Warn("capture read ended", "error", err)
			}
			return
		}
		if !v.IsVoiceProcessingRunning() {
			continue
		}
		v.FeedCapture([]domain.AudioPacket{{
			Payload:     frame,
			SampleRate:  sampleRate,
			FrameMillis: micFrameMillis,
		}})
		v.mu.Lock()
		fn := v.onFrame
		v.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}
