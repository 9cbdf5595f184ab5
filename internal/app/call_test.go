package app

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/huddle/internal/config"
	"github.com/1ureka/huddle/internal/media"
	"github.com/1ureka/huddle/internal/relaytest"
	"github.com/1ureka/huddle/internal/state"
)

// writeCameraClip writes a short VP8 IVF file.
func writeCameraClip(t *testing.T) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 64)
	binary.LittleEndian.PutUint16(header[14:16], 48)
	binary.LittleEndian.PutUint32(header[16:20], 30)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], 2)

	buf := header
	for i := 0; i < 2; i++ {
		frame := make([]byte, 16)
		binary.LittleEndian.PutUint32(frame[0:4], 4)
		binary.LittleEndian.PutUint64(frame[4:12], uint64(i))
		copy(frame[12:], []byte{0x10, 0x02, 0x00, 0x9d})
		buf = append(buf, frame...)
	}

	path := filepath.Join(t.TempDir(), "camera.ivf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, relayURL string) *config.Config {
	t.Helper()
	return &config.Config{
		RelayURL:          relayURL,
		RetryDelay:        time.Second,
		RejoinDelay:       50 * time.Millisecond,
		PingPeriod:        time.Second,
		StateFile:         filepath.Join(t.TempDir(), "call.yaml"),
		SpeakingThreshold: 50,
	}
}

func TestDevices(t *testing.T) {
	cfg := &config.Config{CameraFile: "cam.ivf", ScreenFile: "screen.ivf"}
	d := Devices(cfg)

	if cam, ok := d.Camera.(*media.IVFDevice); !ok || !cam.Loop {
		t.Errorf("camera = %#v, want a looping IVF device", d.Camera)
	}
	if screen, ok := d.Screen.(*media.IVFDevice); !ok || screen.Loop {
		t.Errorf("screen = %#v, want a one-shot IVF device", d.Screen)
	}
	if _, ok := d.Mic.(media.SilenceDevice); !ok {
		t.Errorf("mic = %#v, want silence", d.Mic)
	}
	if d.ScreenAudio != nil {
		t.Errorf("screen audio = %#v, want none", d.ScreenAudio)
	}
}

func TestStartCallWithoutCamera(t *testing.T) {
	hub := relaytest.NewHub()
	defer hub.Close()

	_, err := StartCall(context.Background(), testConfig(t, hub.URL()), Params{Room: "r", Name: "Ann"})
	var mae *media.MediaAccessError
	if !errors.As(err, &mae) {
		t.Fatalf("err = %v, want MediaAccessError", err)
	}
	if frames := hub.Frames("r"); len(frames) != 0 {
		t.Errorf("relay saw %d frames before media was ready", len(frames))
	}
}

func TestStartCallJoinsAndEnds(t *testing.T) {
	hub := relaytest.NewHub()
	defer hub.Close()

	cfg := testConfig(t, hub.URL())
	cfg.CameraFile = writeCameraClip(t)

	call, err := StartCall(context.Background(), cfg, Params{
		Room: "standup", Name: "Ann", Prefs: media.Prefs{MicMuted: true},
	})
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	select {
	case id := <-hub.Joined():
		if id != call.Self().ID {
			t.Errorf("relay learned id %q, want %q", id, call.Self().ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no join reached the relay")
	}

	store := state.NewStore(cfg.StateFile)
	deadline := time.Now().Add(2 * time.Second)
	for {
		saved, ok, _ := store.Load()
		if ok {
			if saved.Room != "standup" || saved.Name != "Ann" || !saved.MicMuted {
				t.Errorf("saved = %+v", saved)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("call state never saved")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := call.EndCall(); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if err := call.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
	if _, ok, _ := store.Load(); ok {
		t.Error("saved call survived EndCall")
	}
}
