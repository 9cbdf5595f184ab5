// Huddle: CLI entry point.
//
// Joins a room on a WebSocket relay and holds a full-mesh WebRTC call with
// everyone else in it. Camera, microphone and screen are played from media
// files. A call that was not ended explicitly is rejoined on the next start.
//
// Room and name come from flags, config, the saved call, or interactive
// prompts, in that order.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/huddle/internal/app"
	"github.com/1ureka/huddle/internal/config"
	"github.com/1ureka/huddle/internal/media"
	"github.com/1ureka/huddle/internal/state"
	"github.com/1ureka/huddle/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C. The saved call survives, so the
	// next start rejoins.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.NewFlagSet("huddle"), os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Huddle v%s", version))
	if cfg.File != "" {
		util.LogDebug("config loaded from %s", cfg.File)
	}
	pterm.Println()

	params := resolveParams(cfg)

	call, err := app.StartCall(ctx, cfg, params)
	if err != nil {
		var mae *media.MediaAccessError
		if errors.As(err, &mae) {
			util.LogError("cannot start the call: %v", mae)
			util.LogInfo("set --camera-file (and optionally --mic-file) to an IVF / Ogg file")
		} else {
			util.LogError("cannot start the call: %v", err)
		}
		os.Exit(1)
	}

	go readCommands(call)

	if err := call.Wait(); err != nil {
		util.LogError("relay: %v", err)
		os.Exit(1)
	}
	util.LogInfo("left room %q", params.Room)
}

// ---------------------------------------------------------------------------
// Call parameters
// ---------------------------------------------------------------------------

// resolveParams picks room, name and toggle preferences. Without a room or
// name on the command line a saved call is rejoined as it was left.
func resolveParams(cfg *config.Config) app.Params {
	p := app.Params{Room: cfg.Room, Name: cfg.Name}

	saved, ok, err := state.NewStore(cfg.StateFile).Load()
	if err != nil {
		util.LogWarning("ignoring saved call: %v", err)
		ok = false
	}

	if ok && saved.CanRejoin() {
		if p.Room == "" && p.Name == "" {
			util.LogInfo("rejoining room %q as %s", saved.Room, saved.Name)
			p.Room, p.Name = saved.Room, saved.Name
		}
		if p.Room == saved.Room {
			p.Prefs = media.Prefs{MicMuted: saved.MicMuted, CameraOff: saved.CameraOff}
		}
	}

	if p.Room == "" {
		p.Room = ask("Room to join", saved.Room)
	}
	if p.Name == "" {
		p.Name = ask("Your display name", saved.Name)
	}
	return p
}

// ask prompts until a non-empty answer is given.
func ask(prompt, def string) string {
	for {
		in := pterm.DefaultInteractiveTextInput.WithDefaultText(prompt)
		if def != "" {
			in = in.WithDefaultValue(def)
		}
		raw, _ := in.Show()
		pterm.Println()

		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
		util.LogWarning("a value is required")
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// readCommands turns stdin lines into call commands until the call ends.
func readCommands(call *app.Call) {
	call.View.Print()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if cmd == "" {
			continue
		}

		var err error
		switch cmd[0] {
		case 'm':
			var muted bool
			if muted, err = call.ToggleMute(); err == nil {
				util.LogInfo("microphone %s", onOff(!muted))
			}
		case 'c':
			var off bool
			if off, err = call.ToggleCamera(); err == nil {
				util.LogInfo("camera %s", onOff(!off))
			}
		case 's':
			var sharing bool
			if sharing, err = call.ShareScreen(); err == nil {
				util.LogInfo("screen share %s", onOff(sharing))
			}
		case 'l':
			call.View.Print()
		case 'q':
			err = call.EndCall()
		default:
			util.LogWarning("unknown command %q (m, c, s, l, q)", cmd)
		}

		if err != nil {
			util.LogError("%v", err)
		}
		if cmd[0] == 'q' {
			return
		}
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
