// Package ffmpeg constructs and inspects the external streaming pipeline
// invocation. The tool never touches video data itself.
package ffmpeg

import (
	"strings"
)

// Binary is the pipeline executable expected on PATH.
const Binary = "ffmpeg"

// Base returns the common invocation prefix. The level+info loglevel makes
// ffmpeg prefix each line with its level so ParseLogLevel can route output.
func Base() string {
	return Binary + " -hide_banner -loglevel level+info -nostdin"
}

// BuildCommand builds the streaming pipeline command from structured
// parameters: RTSP source in, rawvideo out to the virtual device.
func BuildCommand(p *Params) string {
	var cmd strings.Builder

	cmd.WriteString(Base())

	if p.Transport != "" {
		cmd.WriteString(" -rtsp_transport " + p.Transport)
	}
	cmd.WriteString(" -i " + p.SourceURL)

	// No re-encode target: the loopback device takes raw frames.
	cmd.WriteString(" -f v4l2 -vcodec rawvideo")

	if p.PixelFormat != "" {
		cmd.WriteString(" -pix_fmt " + p.PixelFormat)
	}
	if p.Resolution != "" {
		cmd.WriteString(" -video_size " + p.Resolution)
	}
	if p.FPS != "" {
		cmd.WriteString(" -r " + p.FPS)
	}

	for _, arg := range p.ExtraArgs {
		cmd.WriteString(" " + arg)
	}

	cmd.WriteString(" " + p.DevicePath)

	return cmd.String()
}
