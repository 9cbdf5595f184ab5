package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/huddle/internal/util"
)

// LocalTrack is one outgoing media track fed by a capture device.
//
// A pump goroutine reads samples at their natural pace and writes them to
// the pion track. When the track is disabled the pump keeps pacing but
// writes nothing, which is what a muted microphone or a stopped camera
// looks like on the wire.
type LocalTrack struct {
	label string
	kind  webrtc.RTPCodecType
	track *webrtc.TrackLocalStaticSample
	src   SampleSource

	enabled  atomic.Bool
	observer atomic.Pointer[func(pionmedia.Sample)]

	ctx       context.Context
	cancel    context.CancelFunc
	ended     chan struct{}
	endOnce   sync.Once
	closeOnce sync.Once
}

// openTrack opens dev and starts pumping it into a new pion track that
// belongs to streamID.
func openTrack(dev Device, streamID string) (*LocalTrack, error) {
	if dev == nil {
		return nil, &MediaAccessError{Device: "unknown", Err: ErrNoDevice}
	}
	src, err := dev.Open()
	if err != nil {
		var mae *MediaAccessError
		if errors.As(err, &mae) {
			return nil, err
		}
		return nil, &MediaAccessError{Device: dev.Label(), Err: err}
	}

	trackID := fmt.Sprintf("%s-%s", streamID, dev.Kind())
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: src.MimeType()}, trackID, streamID,
	)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("new %s track: %w", dev.Kind(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &LocalTrack{
		label:  dev.Label(),
		kind:   dev.Kind(),
		track:  track,
		src:    src,
		ctx:    ctx,
		cancel: cancel,
		ended:  make(chan struct{}),
	}
	t.enabled.Store(true)

	go t.pump()
	return t, nil
}

func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *LocalTrack) Label() string             { return t.label }

// Track returns the pion track to attach to peer connections.
func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Ended is closed when the source runs out or the track is stopped.
func (t *LocalTrack) Ended() <-chan struct{} { return t.ended }

// Observe registers fn to see every sample written while the track is
// enabled. Used by the local speaking meter.
func (t *LocalTrack) Observe(fn func(pionmedia.Sample)) {
	t.observer.Store(&fn)
}

// Stop ends the pump and releases the device.
func (t *LocalTrack) Stop() {
	t.closeOnce.Do(func() {
		t.cancel()
		t.markEnded()
	})
}

func (t *LocalTrack) markEnded() {
	t.endOnce.Do(func() { close(t.ended) })
}

// pump is the single writer of the pion track.
func (t *LocalTrack) pump() {
	defer t.src.Close()
	defer t.markEnded()

	next := time.Now()
	for {
		sample, err := t.src.NextSample()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogWarning("%s source failed: %v", t.label, err)
			} else {
				util.LogDebug("%s source ended", t.label)
			}
			return
		}

		next = next.Add(sample.Duration)
		wait := time.NewTimer(time.Until(next))
		select {
		case <-wait.C:
		case <-t.ctx.Done():
			wait.Stop()
			return
		}

		if !t.enabled.Load() {
			continue
		}
		if err := t.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			util.LogDebug("%s write sample: %v", t.label, err)
		}
		if fn := t.observer.Load(); fn != nil {
			(*fn)(sample)
		}
	}
}
