package livereload

import "time"

// ProtocolV7 is the LiveReload protocol spoken by the embedded client and
// the browser extensions.
const ProtocolV7 = "http://livereload.com/protocols/official-7"

// HelloMessage is exchanged by both sides right after the socket opens.
type HelloMessage struct {
	Command    string   `json:"command"`
	Protocols  []string `json:"protocols"`
	ServerName string   `json:"serverName,omitempty"`
}

// ReloadMessage asks clients to refresh. Path "/" with LiveCSS off means a
// full page reload; an asset path with LiveCSS on lets stylesheets and
// images be swapped in place.
type ReloadMessage struct {
	Command string `json:"command"`
	Path    string `json:"path"`
	LiveCSS bool   `json:"liveCSS"`
	LiveImg bool   `json:"liveImg"`
}

func fullReload() ReloadMessage {
	return ReloadMessage{Command: "reload", Path: "/"}
}

func assetChanged(path string) ReloadMessage {
	return ReloadMessage{Command: "reload", Path: path, LiveCSS: true, LiveImg: true}
}

// StatusResponse describes a running server.
type StatusResponse struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Host       string    `json:"host"`
	Root       string    `json:"root"`
	LiveReload bool      `json:"livereload"`
	Clients    int       `json:"clients"`
}
