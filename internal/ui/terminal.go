// Package ui renders the call in the terminal: one row per participant with
// mic, speaking and connection state, plus the local control buttons.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/huddle/internal/mesh"
	"github.com/1ureka/huddle/internal/session"
)

type tile struct {
	name     string
	audio    bool
	speaking bool
	state    session.State
	local    bool
}

// Terminal implements mesh.View. Membership and connection changes are
// printed as they happen; the full roster is rendered on demand because
// speaking flips too often to print.
type Terminal struct {
	out io.Writer

	mu      sync.Mutex
	localID string
	tiles   map[string]*tile
	buttons mesh.Buttons
}

// NewTerminal writes to out, or stdout when out is nil.
func NewTerminal(out io.Writer) *Terminal {
	if out == nil {
		out = os.Stdout
	}
	return &Terminal{out: out, tiles: make(map[string]*tile)}
}

func (t *Terminal) ShowLocal(id, name string, audioEnabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.localID = id
	t.tiles[id] = &tile{name: name, audio: audioEnabled, state: session.StateConnected, local: true}
	t.printf("%s joined as %s (%s)", pterm.Cyan("you"), pterm.Bold.Sprint(name), id)
}

// AddTile adds a participant, or refreshes it when the session is rebuilt.
func (t *Terminal) AddTile(id, name string, audioEnabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.tiles[id]; ok {
		cur.name = name
		cur.audio = audioEnabled
		cur.state = session.StateNew
		return
	}
	t.tiles[id] = &tile{name: name, audio: audioEnabled}
	t.printf("%s is joining", pterm.Bold.Sprint(name))
}

func (t *Terminal) RemoveTile(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.tiles[id]
	if !ok || cur.local {
		return
	}
	delete(t.tiles, id)
	t.printf("%s left", pterm.Bold.Sprint(cur.name))
}

// SetName renames a participant once its name is known.
func (t *Terminal) SetName(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.tiles[id]; ok && !cur.local {
		cur.name = name
	}
}

func (t *Terminal) SetPeerState(id string, state session.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.tiles[id]
	if !ok || cur.state == state {
		return
	}
	cur.state = state
	switch state {
	case session.StateConnected:
		t.printf("%s %s", pterm.Bold.Sprint(cur.name), pterm.Green("connected"))
	case session.StateFailed:
		t.printf("%s %s", pterm.Bold.Sprint(cur.name), pterm.Red("connection failed, retrying"))
	}
}

func (t *Terminal) SetMic(id string, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.tiles[id]
	if !ok || cur.audio == enabled {
		return
	}
	cur.audio = enabled
	if !enabled {
		cur.speaking = false
	}
	t.printf("%s %s", pterm.Bold.Sprint(cur.name), micLabel(enabled))
}

func (t *Terminal) SetSpeaking(id string, speaking bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.tiles[id]; ok {
		cur.speaking = speaking
	}
}

func (t *Terminal) SetButtons(b mesh.Buttons) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buttons = b
}

// Clear drops every tile once the call has ended.
func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiles = make(map[string]*tile)
	t.localID = ""
	t.printf("call ended")
}

// Render returns the roster table and the control bar.
func (t *Terminal) Render() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.tiles))
	for id := range t.tiles {
		ids = append(ids, id)
	}
	// Local participant first, then by name.
	sort.Slice(ids, func(i, j int) bool {
		a, b := t.tiles[ids[i]], t.tiles[ids[j]]
		if a.local != b.local {
			return a.local
		}
		if a.name != b.name {
			return a.name < b.name
		}
		return ids[i] < ids[j]
	})

	data := pterm.TableData{{"Participant", "ID", "Mic", "Speaking", "Connection"}}
	for _, id := range ids {
		tl := t.tiles[id]
		name := tl.name
		if tl.local {
			name += " (you)"
		}
		speaking := ""
		if tl.speaking {
			speaking = pterm.Green("●")
		}
		data = append(data, []string{name, id, micLabel(tl.audio), speaking, stateLabel(tl)})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		table = fmt.Sprintf("render roster: %v", err)
	}
	return table + "\n" + controlBar(t.buttons)
}

// Print writes Render to the output.
func (t *Terminal) Print() {
	pterm.Fprintln(t.out, t.Render())
}

func (t *Terminal) printf(format string, args ...any) {
	pterm.Fprintln(t.out, pterm.Gray("│ ")+fmt.Sprintf(format, args...))
}

func micLabel(enabled bool) string {
	if enabled {
		return pterm.Green("mic on")
	}
	return pterm.Red("muted")
}

func stateLabel(tl *tile) string {
	if tl.local {
		return ""
	}
	switch tl.state {
	case session.StateConnected:
		return pterm.Green(tl.state.String())
	case session.StateFailed:
		return pterm.Red(tl.state.String())
	}
	return pterm.Yellow(tl.state.String())
}

func controlBar(b mesh.Buttons) string {
	mic := "[m] mute"
	if b.Muted {
		mic = "[m] unmute"
	}
	cam := "[c] camera off"
	if b.CameraOff {
		cam = "[c] camera on"
	}
	share := "[s] share screen"
	if b.Sharing {
		share = "[s] stop sharing"
	}
	return fmt.Sprintf("%s   %s   %s   [l] list   [q] leave", mic, cam, share)
}
