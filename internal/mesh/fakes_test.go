package mesh

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/huddle/internal/media"
	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/session"
	"github.com/1ureka/huddle/internal/state"
)

// ---------------------------------------------------------------------------
// Devices
// ---------------------------------------------------------------------------

// testDevice yields n tiny samples (forever when n < 0).
type testDevice struct {
	kind webrtc.RTPCodecType
	n    int
}

func (d *testDevice) Kind() webrtc.RTPCodecType { return d.kind }
func (d *testDevice) Label() string             { return "test-" + d.kind.String() }

func (d *testDevice) Open() (media.SampleSource, error) {
	mime := webrtc.MimeTypeVP8
	if d.kind == webrtc.RTPCodecTypeAudio {
		mime = webrtc.MimeTypeOpus
	}
	return &testSource{mime: mime, left: d.n}, nil
}

type testSource struct {
	mime string
	left int
}

func (s *testSource) MimeType() string { return s.mime }

func (s *testSource) NextSample() (pionmedia.Sample, error) {
	if s.left == 0 {
		return pionmedia.Sample{}, io.EOF
	}
	if s.left > 0 {
		s.left--
	}
	return pionmedia.Sample{Data: []byte{0x00}, Duration: 5 * time.Millisecond}, nil
}

func (s *testSource) Close() error { return nil }

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

type fakeRelay struct {
	mu     sync.Mutex
	sent   []protocol.Message
	closed bool
	// forward, when set, receives every sent envelope.
	forward func(protocol.Message)
}

func (r *fakeRelay) Send(msg protocol.Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	fwd := r.forward
	r.mu.Unlock()
	if fwd != nil {
		fwd(msg)
	}
	return nil
}

func (r *fakeRelay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *fakeRelay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeRelay) reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// ofType returns the sent envelopes of type t, in order.
func (r *fakeRelay) ofType(t protocol.Type) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, m := range r.sent {
		if m.MsgType() == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// ---------------------------------------------------------------------------
// Peer connections
// ---------------------------------------------------------------------------

type fakeConn struct {
	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	replaced   map[webrtc.RTPCodecType]webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool

	replaceErr error
}

func (c *fakeConn) AddTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil
}

func (c *fakeConn) ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaceErr != nil {
		return c.replaceErr
	}
	if c.replaced == nil {
		c.replaced = make(map[webrtc.RTPCodecType]webrtc.TrackLocal)
	}
	c.replaced[kind] = t
	return nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *fakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &d
	return nil
}

func (c *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &d
	return nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) trackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

func (c *fakeConn) candidateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

func (c *fakeConn) replacedTrack(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced[kind]
}

type fakeFactory struct {
	mu     sync.Mutex
	conns  map[string][]*fakeConn
	events map[string][]session.ConnEvents
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		conns:  make(map[string][]*fakeConn),
		events: make(map[string][]session.ConnEvents),
	}
}

func (f *fakeFactory) NewConn(remoteID string, ev session.ConnEvents) (session.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{}
	f.conns[remoteID] = append(f.conns[remoteID], c)
	f.events[remoteID] = append(f.events[remoteID], ev)
	return c, nil
}

// conn returns the i-th connection created for id.
func (f *fakeFactory) conn(t *testing.T, id string, i int) (*fakeConn, session.ConnEvents) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns[id]) <= i {
		t.Fatalf("connection %d for %s not created (have %d)", i, id, len(f.conns[id]))
	}
	return f.conns[id][i], f.events[id][i]
}

func (f *fakeFactory) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[id])
}

// ---------------------------------------------------------------------------
// View and store
// ---------------------------------------------------------------------------

type tile struct {
	name     string
	audio    bool
	state    session.State
	speaking bool
}

type fakeView struct {
	mu      sync.Mutex
	localID string
	tiles   map[string]*tile
	buttons Buttons
	cleared bool
}

func newFakeView() *fakeView { return &fakeView{tiles: make(map[string]*tile)} }

func (v *fakeView) ShowLocal(id, name string, audioEnabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.localID = id
	v.tiles[id] = &tile{name: name, audio: audioEnabled}
}

func (v *fakeView) AddTile(id, name string, audioEnabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tiles[id] = &tile{name: name, audio: audioEnabled}
}

func (v *fakeView) RemoveTile(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tiles, id)
}

func (v *fakeView) SetName(id, name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t, ok := v.tiles[id]; ok {
		t.name = name
	}
}

func (v *fakeView) SetPeerState(id string, s session.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t, ok := v.tiles[id]; ok {
		t.state = s
	}
}

func (v *fakeView) SetMic(id string, enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t, ok := v.tiles[id]; ok {
		t.audio = enabled
	}
}

func (v *fakeView) SetSpeaking(id string, speaking bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t, ok := v.tiles[id]; ok {
		t.speaking = speaking
	}
}

func (v *fakeView) SetButtons(b Buttons) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.buttons = b
}

func (v *fakeView) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tiles = make(map[string]*tile)
	v.cleared = true
}

func (v *fakeView) tile(id string) (tile, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.tiles[id]
	if !ok {
		return tile{}, false
	}
	return *t, true
}

func (v *fakeView) currentButtons() Buttons {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buttons
}

type fakeStore struct {
	mu      sync.Mutex
	saved   *state.Saved
	cleared int
}

func (s *fakeStore) Save(saved state.Saved) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = &saved
	return nil
}

func (s *fakeStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	s.cleared++
	return nil
}

func (s *fakeStore) current() (state.Saved, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return state.Saved{}, false
	}
	return *s.saved, true
}

// ---------------------------------------------------------------------------
// Clock
// ---------------------------------------------------------------------------

type fakeTimer struct {
	f       func()
	stopped bool
}

type fakeClock struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.pending = append(c.pending, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

// fire runs every armed timer and returns how many ran.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	n := 0
	for _, t := range pending {
		if !t.stopped {
			t.f()
			n++
		}
	}
	return n
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	c      *Controller
	relay  *fakeRelay
	conns  *fakeFactory
	media  *media.Manager
	view   *fakeView
	store  *fakeStore
	clock  *fakeClock
	cancel context.CancelFunc
}

type harnessOpts struct {
	prefs  media.Prefs
	retry  RetryPolicy
	screen media.Device
}

func newHarness(t *testing.T, id string, opts harnessOpts) *harness {
	t.Helper()

	screen := opts.screen
	if screen == nil {
		screen = &testDevice{kind: webrtc.RTPCodecTypeVideo, n: -1}
	}
	m := media.NewManager(media.Devices{
		Camera: &testDevice{kind: webrtc.RTPCodecTypeVideo, n: -1},
		Mic:    &testDevice{kind: webrtc.RTPCodecTypeAudio, n: -1},
		Screen: screen,
	})
	cam, err := m.AcquireCameraAndMic(opts.prefs)
	if err != nil {
		t.Fatalf("AcquireCameraAndMic: %v", err)
	}
	m.SetActive(cam)

	h := &harness{
		relay: &fakeRelay{},
		conns: newFakeFactory(),
		media: m,
		view:  newFakeView(),
		store: &fakeStore{},
		clock: &fakeClock{},
	}
	h.c = New(Config{
		Self:      Identity{ID: id, Name: "name-" + id},
		Room:      "room",
		Retry:     opts.retry,
		AfterFunc: h.clock.AfterFunc,
	}, h.relay, h.conns, m, h.view, h.store)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.c.Run(ctx)

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.c.Done():
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
	h.sync(t)
	return h
}

// sync waits until every event posted so far has been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.c.do(func() error { return nil }); err != nil && !errors.Is(err, ErrEnded) {
		t.Fatalf("sync: %v", err)
	}
}

// deliver hands msg to the controller and waits for it to be handled.
func (h *harness) deliver(t *testing.T, msg protocol.Message) {
	t.Helper()
	h.c.HandleMessage(msg)
	h.sync(t)
}

func (h *harness) session(id string) (session.Info, bool) {
	for _, s := range h.c.Sessions() {
		if s.ID == id {
			return s, true
		}
	}
	return session.Info{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func offerFrom(from, to string) *protocol.Description {
	return &protocol.Description{
		Type: protocol.TypeOffer, SDP: "v=0 offer", From: from, To: to,
		Name: "name-" + from, AudioEnabled: true,
	}
}

func answerFrom(from, to string) *protocol.Description {
	return &protocol.Description{
		Type: protocol.TypeAnswer, SDP: "v=0 answer", From: from, To: to,
		Name: "name-" + from, AudioEnabled: true,
	}
}
