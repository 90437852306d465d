package board

import (
	"log/slog"
	"sync"

	"murmur/internal/domain"
)

// SimVoice is a voice pipeline without codecs or a microphone. Frames are
// moved through in-memory queues; tests and the simulated board feed them in
// by hand. Playback frames are counted and dropped.
type SimVoice struct {
	log *slog.Logger

	mu           sync.Mutex
	started      bool
	wakeEnabled  bool
	voiceEnabled bool
	deviceAec    bool
	audioTesting bool
	aecCapable   bool

	wakeWord    string
	wakeQueue   []domain.AudioPacket
	sendQueue   []domain.AudioPacket
	volume      int
	playedBack  int
	sampleRate  int
}

func NewSimVoice(aecCapable bool, log *slog.Logger) *SimVoice {
	if log == nil {
		log = slog.Default()
	}
	return &SimVoice{
		log:        log,
		aecCapable: aecCapable,
		volume:     70,
		sampleRate: 24000,
	}
}

func (v *SimVoice) Start() error {
	v.mu.Lock()
	v.started = true
	v.mu.Unlock()
	v.log.Info("voice pipeline started")
	return nil
}

func (v *SimVoice) Stop() error {
	v.mu.Lock()
	v.started = false
	v.mu.Unlock()
	v.log.Info("voice pipeline stopped")
	return nil
}

func (v *SimVoice) EnableWakeWordDetection(enabled bool) {
	v.mu.Lock()
	v.wakeEnabled = enabled
	v.mu.Unlock()
}

func (v *SimVoice) EnableVoiceProcessing(enabled bool) {
	v.mu.Lock()
	v.voiceEnabled = enabled
	v.mu.Unlock()
}

func (v *SimVoice) IsVoiceProcessingRunning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.voiceEnabled
}

func (v *SimVoice) EnableDeviceAec(enabled bool) {
	v.mu.Lock()
	v.deviceAec = enabled
	v.mu.Unlock()
}

func (v *SimVoice) EnableAudioTesting(enabled bool) {
	v.mu.Lock()
	v.audioTesting = enabled
	v.mu.Unlock()
}

func (v *SimVoice) WakeWordActiveWhileSpeaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.aecCapable
}

// SimulateWakeWord stores a detected phrase and its buffered utterance
// frames, as a real detector would.
func (v *SimVoice) SimulateWakeWord(word string, packets []domain.AudioPacket) {
	v.mu.Lock()
	v.wakeWord = word
	v.wakeQueue = append(v.wakeQueue, packets...)
	v.mu.Unlock()
}

// FeedCapture queues captured frames bound for the server.
func (v *SimVoice) FeedCapture(packets []domain.AudioPacket) {
	v.mu.Lock()
	v.sendQueue = append(v.sendQueue, packets...)
	v.mu.Unlock()
}

func (v *SimVoice) LastWakeWord() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wakeWord
}

func (v *SimVoice) EncodeWakeWordData() {}

func (v *SimVoice) PopWakeWordPacket() (domain.AudioPacket, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.wakeQueue) == 0 {
		return domain.AudioPacket{}, false
	}
	packet := v.wakeQueue[0]
	v.wakeQueue = v.wakeQueue[1:]
	return packet, true
}

func (v *SimVoice) PopSendPacket() (domain.AudioPacket, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.sendQueue) == 0 {
		return domain.AudioPacket{}, false
	}
	packet := v.sendQueue[0]
	v.sendQueue = v.sendQueue[1:]
	return packet, true
}

func (v *SimVoice) PushDecodePacket(packet domain.AudioPacket) {
	v.mu.Lock()
	v.playedBack++
	v.mu.Unlock()
}

func (v *SimVoice) ResetDecoder() {}

func (v *SimVoice) OutputSampleRate() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sampleRate
}

func (v *SimVoice) OutputVolume() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

func (v *SimVoice) SetOutputVolume(volume int) {
	v.mu.Lock()
	v.volume = volume
	v.mu.Unlock()
	v.log.Info("output volume changed", "volume", volume)
}

func (v *SimVoice) PlaySound(name string) {
	v.log.Info("sound", "name", name)
}
