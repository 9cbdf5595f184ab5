package signaling

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL returns the room-scoped relay endpoint "<scheme>://<host>/ws/<room>".
//
// base may be a bare host, an http(s) URL or a ws(s) URL. The scheme is
// upgraded to wss when secure is set or base is https/wss; a path on base is
// kept as a prefix so relays mounted under a sub-path work.
func BuildURL(base, room string, secure bool) (string, error) {
	raw := strings.TrimSpace(base)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", base)
	}

	room = strings.TrimSpace(room)
	if room == "" {
		return "", fmt.Errorf("empty room name")
	}

	scheme := "ws"
	if secure || u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}

	prefix := strings.TrimSuffix(u.Path, "/")
	prefix = strings.TrimSuffix(prefix, "/ws")
	return fmt.Sprintf("%s://%s%s/ws/%s", scheme, u.Host, prefix, url.PathEscape(room)), nil
}
