package media

import (
	"sync"

	"github.com/google/uuid"
)

// Source tells a camera stream apart from a screen share.
type Source int

const (
	SourceCamera Source = iota
	SourceScreen
)

func (s Source) String() string {
	if s == SourceScreen {
		return "screen"
	}
	return "camera"
}

// Stream is one outgoing audio/video pair. Either track may be nil.
type Stream struct {
	ID     string
	Source Source
	Audio  *LocalTrack
	Video  *LocalTrack

	// borrowedAudio is set when Audio belongs to another stream (a screen
	// share reusing the microphone) and must not be stopped with this one.
	borrowedAudio bool

	stopOnce sync.Once
}

func newStream(source Source) *Stream {
	return &Stream{ID: uuid.NewString(), Source: source}
}

// Tracks returns the non-nil tracks, audio first.
func (s *Stream) Tracks() []*LocalTrack {
	out := make([]*LocalTrack, 0, 2)
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// OnEnded calls fn once, on its own goroutine, when the video track ends.
// For a screen share this is the user stopping the capture.
func (s *Stream) OnEnded(fn func()) {
	if s.Video == nil {
		return
	}
	go func() {
		<-s.Video.Ended()
		fn()
	}()
}

// Stop stops every track the stream owns.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		if s.Audio != nil && !s.borrowedAudio {
			s.Audio.Stop()
		}
		if s.Video != nil {
			s.Video.Stop()
		}
	})
}
