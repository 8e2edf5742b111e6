// Package camera resolves the network camera endpoint and its RTSP URL.
package camera

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint describes the network camera to pull video from.
type Endpoint struct {
	Host string // resolved IPv4 address
	User string
	Pass string
	Path string // stream path on the camera, e.g. "axis-media/media.amp"
}

// ResolveHost turns user input into a camera address. Input is either a full
// dotted-quad IPv4 address, used verbatim, or 1-3 digits (0-255) appended to
// the configured prefix ("90" -> "192.168.0.90").
func ResolveHost(input, prefix string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("empty camera address")
	}

	if isDigits(input) {
		if len(input) > 3 {
			return "", fmt.Errorf("invalid host suffix %q: must be 1-3 digits", input)
		}
		n, err := strconv.Atoi(input)
		if err != nil || n > 255 {
			return "", fmt.Errorf("invalid host suffix %q: must be 0-255", input)
		}
		host := prefix + input
		if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
			return "", fmt.Errorf("invalid camera address %q (prefix %q)", host, prefix)
		}
		return host, nil
	}

	ip := net.ParseIP(input)
	if ip == nil || ip.To4() == nil || !strings.Contains(input, ".") {
		return "", fmt.Errorf("invalid camera address %q: expected IPv4 dotted quad or 1-3 digit suffix", input)
	}
	return input, nil
}

// URL builds the RTSP source URL for the endpoint. Credentials are omitted
// when empty.
func (e Endpoint) URL() string {
	u := url.URL{
		Scheme: "rtsp",
		Host:   e.Host,
		Path:   "/" + strings.TrimPrefix(e.Path, "/"),
	}
	if e.User != "" {
		if e.Pass != "" {
			u.User = url.UserPassword(e.User, e.Pass)
		} else {
			u.User = url.User(e.User)
		}
	}
	return u.String()
}

// Redacted returns the URL with the password masked, for logging.
func (e Endpoint) Redacted() string {
	masked := e
	if masked.Pass != "" {
		masked.Pass = "xxxxx"
	}
	return masked.URL()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
