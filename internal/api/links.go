package api

import (
	"net/http"
	"net/url"
	"strings"
)

// ShareLinks returns the browser share URL and the socket URL for roomID
// under baseURL (e.g. "https://maps.example").
func ShareLinks(baseURL, roomID string) (shareURL, wsURL string) {
	base := strings.TrimRight(baseURL, "/")
	shareURL = base + "/share/" + roomID + "/"

	wsBase := base
	switch {
	case strings.HasPrefix(base, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(base, "http://")
	}
	wsURL = wsBase + "/ws/location/" + url.PathEscape(roomID) + "/"
	return shareURL, wsURL
}

// requestBaseURL derives scheme://host from an incoming request.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
