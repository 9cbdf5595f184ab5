package media

import (
	"errors"
	"sync"
)

// ErrNoStream is returned by toggles before any stream was acquired.
var ErrNoStream = errors.New("no local stream")

// Devices is the set of capture devices the manager can open.
// ScreenAudio is optional; without it a screen share keeps the microphone.
type Devices struct {
	Camera      Device
	Mic         Device
	Screen      Device
	ScreenAudio Device
}

// Prefs are the saved toggle states applied to a fresh camera stream.
type Prefs struct {
	MicMuted  bool
	CameraOff bool
}

// Manager owns the local capture streams and tracks which one is active.
// Exactly one stream is active at a time.
type Manager struct {
	devices Devices

	mu     sync.Mutex
	camera *Stream
	screen *Stream
	active *Stream
}

func NewManager(devices Devices) *Manager {
	return &Manager{devices: devices}
}

// AcquireCameraAndMic opens the camera and microphone and applies prefs
// before returning. The stream is not made active.
func (m *Manager) AcquireCameraAndMic(prefs Prefs) (*Stream, error) {
	s := newStream(SourceCamera)

	audio, err := openTrack(m.devices.Mic, s.ID)
	if err != nil {
		return nil, err
	}
	video, err := openTrack(m.devices.Camera, s.ID)
	if err != nil {
		audio.Stop()
		return nil, err
	}

	audio.SetEnabled(!prefs.MicMuted)
	video.SetEnabled(!prefs.CameraOff)
	s.Audio = audio
	s.Video = video

	m.mu.Lock()
	old := m.camera
	m.camera = s
	m.mu.Unlock()
	if old != nil && old != s {
		old.Stop()
	}
	return s, nil
}

// AcquireScreenShare opens the screen device. The returned stream carries
// system audio when a ScreenAudio device exists, otherwise the current
// microphone track so the speaker stays audible while sharing.
func (m *Manager) AcquireScreenShare() (*Stream, error) {
	s := newStream(SourceScreen)

	video, err := openTrack(m.devices.Screen, s.ID)
	if err != nil {
		return nil, err
	}
	s.Video = video

	m.mu.Lock()
	cam := m.camera
	m.mu.Unlock()

	if m.devices.ScreenAudio != nil {
		audio, err := openTrack(m.devices.ScreenAudio, s.ID)
		if err != nil {
			video.Stop()
			return nil, err
		}
		if cam != nil && cam.Audio != nil {
			audio.SetEnabled(cam.Audio.Enabled())
		}
		s.Audio = audio
	} else if cam != nil && cam.Audio != nil {
		s.Audio = cam.Audio
		s.borrowedAudio = true
	}

	m.mu.Lock()
	m.screen = s
	m.mu.Unlock()
	return s, nil
}

// SetActive records s as the outgoing stream. Switching back to the camera
// stops the screen share.
func (m *Manager) SetActive(s *Stream) {
	m.mu.Lock()
	prev := m.active
	m.active = s
	var stopScreen *Stream
	if prev != nil && prev != s && prev == m.screen {
		stopScreen = m.screen
		m.screen = nil
	}
	m.mu.Unlock()

	if stopScreen != nil {
		stopScreen.Stop()
	}
}

func (m *Manager) Active() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) Camera() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera
}

// Sharing reports whether a screen share is the active stream.
func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active == m.screen
}

// ToggleAudio flips the microphone (and owned screen audio) and returns the
// new enabled state.
func (m *Manager) ToggleAudio() (bool, error) {
	m.mu.Lock()
	cam, screen := m.camera, m.screen
	m.mu.Unlock()
	if cam == nil || cam.Audio == nil {
		return false, ErrNoStream
	}

	enabled := !cam.Audio.Enabled()
	cam.Audio.SetEnabled(enabled)
	if screen != nil && screen.Audio != nil && !screen.borrowedAudio {
		screen.Audio.SetEnabled(enabled)
	}
	return enabled, nil
}

// AudioEnabled reports the microphone state.
func (m *Manager) AudioEnabled() bool {
	cam := m.Camera()
	return cam != nil && cam.Audio != nil && cam.Audio.Enabled()
}

// ToggleVideo flips the video of the active stream, which is the screen
// while sharing, and returns the new enabled state.
func (m *Manager) ToggleVideo() (bool, error) {
	s := m.videoStream()
	if s == nil || s.Video == nil {
		return false, ErrNoStream
	}
	enabled := !s.Video.Enabled()
	s.Video.SetEnabled(enabled)
	return enabled, nil
}

// VideoEnabled reports whether the active stream sends video.
func (m *Manager) VideoEnabled() bool {
	s := m.videoStream()
	return s != nil && s.Video != nil && s.Video.Enabled()
}

// videoStream is the stream the camera button acts on: the active one, or
// the camera before anything is active.
func (m *Manager) videoStream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return m.active
	}
	return m.camera
}

// StopAll stops every stream the manager opened.
func (m *Manager) StopAll() {
	m.mu.Lock()
	cam, screen := m.camera, m.screen
	m.camera, m.screen, m.active = nil, nil, nil
	m.mu.Unlock()

	if screen != nil {
		screen.Stop()
	}
	if cam != nil {
		cam.Stop()
	}
}
