// Package media manages local capture devices and the outbound streams built
// from them.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// ErrNoDevice is wrapped in a MediaAccessError when a device slot is empty.
var ErrNoDevice = errors.New("no device configured")

// SampleSource yields encoded media samples for one track. NextSample
// returns io.EOF when the source has ended for good.
type SampleSource interface {
	MimeType() string
	NextSample() (pionmedia.Sample, error)
	Close() error
}

// Device is a capture device that can be opened into a SampleSource.
type Device interface {
	Kind() webrtc.RTPCodecType
	Label() string
	Open() (SampleSource, error)
}

// openFile wraps file errors as MediaAccessError.
func openFile(label, path string) (*os.File, error) {
	if path == "" {
		return nil, &MediaAccessError{Device: label, Err: ErrNoDevice}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &MediaAccessError{Device: label, Err: err}
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// IVF video (VP8 / VP9)
// ---------------------------------------------------------------------------

// IVFDevice plays video frames from an IVF file. A looping device behaves
// like a camera; a non-looping one ends like a finished screen capture.
type IVFDevice struct {
	Path string
	Loop bool
	Name string
}

func (d *IVFDevice) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

func (d *IVFDevice) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return "video:" + d.Path
}

func (d *IVFDevice) Open() (SampleSource, error) {
	s := &ivfSource{dev: d}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

type ivfSource struct {
	dev      *IVFDevice
	file     *os.File
	reader   *ivfreader.IVFReader
	mime     string
	duration time.Duration
}

func (s *ivfSource) reopen() error {
	if s.file != nil {
		s.file.Close()
	}
	f, err := openFile(s.dev.Label(), s.dev.Path)
	if err != nil {
		return err
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return &MediaAccessError{Device: s.dev.Label(), Err: fmt.Errorf("read ivf header: %w", err)}
	}

	switch header.FourCC {
	case "VP80":
		s.mime = webrtc.MimeTypeVP8
	case "VP90":
		s.mime = webrtc.MimeTypeVP9
	default:
		f.Close()
		return &MediaAccessError{Device: s.dev.Label(), Err: fmt.Errorf("unsupported fourcc %q", header.FourCC)}
	}

	s.duration = 33 * time.Millisecond
	if header.TimebaseDenominator > 0 {
		s.duration = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	}
	s.file = f
	s.reader = reader
	return nil
}

func (s *ivfSource) MimeType() string { return s.mime }

func (s *ivfSource) NextSample() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) && s.dev.Loop {
		if err := s.reopen(); err != nil {
			return pionmedia.Sample{}, err
		}
		frame, _, err = s.reader.ParseNextFrame()
	}
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return pionmedia.Sample{}, err
	}
	return pionmedia.Sample{Data: frame, Duration: s.duration}, nil
}

func (s *ivfSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// ---------------------------------------------------------------------------
// Ogg audio (Opus)
// ---------------------------------------------------------------------------

// OggDevice plays Opus pages from an Ogg file.
type OggDevice struct {
	Path string
	Loop bool
	Name string
}

func (d *OggDevice) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }

func (d *OggDevice) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return "audio:" + d.Path
}

func (d *OggDevice) Open() (SampleSource, error) {
	s := &oggSource{dev: d}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

// opusClockRate is the RTP clock of Opus regardless of the input rate.
const opusClockRate = 48000

type oggSource struct {
	dev         *OggDevice
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func (s *oggSource) reopen() error {
	if s.file != nil {
		s.file.Close()
	}
	f, err := openFile(s.dev.Label(), s.dev.Path)
	if err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return &MediaAccessError{Device: s.dev.Label(), Err: fmt.Errorf("read ogg header: %w", err)}
	}
	s.file = f
	s.reader = reader
	s.lastGranule = 0
	return nil
}

func (s *oggSource) MimeType() string { return webrtc.MimeTypeOpus }

// NextSample returns the next audio page. A looping source rewinds at most
// once per call, so a file without audio pages ends instead of spinning.
func (s *oggSource) NextSample() (pionmedia.Sample, error) {
	rewound := false
	for {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) && s.dev.Loop && !rewound {
			if err := s.reopen(); err != nil {
				return pionmedia.Sample{}, err
			}
			rewound = true
			continue
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return pionmedia.Sample{}, err
		}

		// Comment pages carry no audio and a zero granule delta.
		if header.GranulePosition <= s.lastGranule {
			continue
		}
		samples := header.GranulePosition - s.lastGranule
		s.lastGranule = header.GranulePosition
		return pionmedia.Sample{
			Data:     page,
			Duration: time.Duration(samples) * time.Second / opusClockRate,
		}, nil
	}
}

func (s *oggSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// ---------------------------------------------------------------------------
// Silence
// ---------------------------------------------------------------------------

// opusSilence is a 20 ms Opus frame (TOC 0xf8) decoding to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceDevice is a microphone that produces Opus silence forever. It is
// the fallback when no microphone file is configured.
type SilenceDevice struct{}

func (SilenceDevice) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (SilenceDevice) Label() string             { return "silence" }

func (SilenceDevice) Open() (SampleSource, error) {
	return silenceSource{}, nil
}

type silenceSource struct{}

func (silenceSource) MimeType() string { return webrtc.MimeTypeOpus }

func (silenceSource) NextSample() (pionmedia.Sample, error) {
	return pionmedia.Sample{Data: opusSilence, Duration: 20 * time.Millisecond}, nil
}

func (silenceSource) Close() error { return nil }
