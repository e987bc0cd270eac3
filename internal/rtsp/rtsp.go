// Package rtsp is the RTSP decoder (C4): opens a stream URL and yields
// decoded frames, reporting codec failures distinctly from transport
// failures so the engine can apply spec.md §4.2's differing retry policy.
package rtsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrDecoderFailure marks a frame that arrived but could not be
	// decoded — spec.md §7 DecoderFailure, never retried.
	ErrDecoderFailure = errors.New("rtsp: decoder failure")
	// ErrTransient marks connect/read failures eligible for the engine's
	// transport retry policy (spec.md §7 TransientTransport).
	ErrTransient = errors.New("rtsp: transient transport failure")
)

// Frame is one decoded image plus its pixel dimensions.
type Frame struct {
	Width, Height int
	JPEG          []byte
}

// Stream yields decoded frames from one opened RTSP connection.
type Stream interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Decoder opens an RTSP URL and returns a Stream.
type Decoder interface {
	Open(ctx context.Context, url string) (Stream, error)
}

var channelCodeRe = regexp.MustCompile(`(?i)^c\d+$`)
var urlGrammarRe = regexp.MustCompile(`^rtsp://([^:@/]*):([^:@/]*)@([^:/]+):(\d+)/([^/]+)/b(\d+)/e(\d+)/(.+)$`)

// ParsedURL holds the components of the grammar in spec.md §6:
// rtsp://<user>:<pass>@<host>:<port>/<channel>/b<digits>/e<digits>/<suffix>
// Credentials are kept literal — never percent-encoded or decoded — per
// spec.md §9's "credentials in RTSP URLs are literal" design note.
type ParsedURL struct {
	User, Pass string
	Host       string
	Port       int
	Channel    string
	Start, End int64
	Suffix     string
	IP         string
}

// ParseURL parses the RTSP URL grammar the core must understand to extract
// ip/channel/window bounds for Task bookkeeping (spec.md §6).
func ParseURL(raw string) (*ParsedURL, error) {
	m := urlGrammarRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("%w: %q does not match rtsp URL grammar", errInvalidURL, raw)
	}
	port, err := strconv.Atoi(m[4])
	if err != nil {
		return nil, fmt.Errorf("%w: bad port in %q", errInvalidURL, raw)
	}
	start, err := strconv.ParseInt(m[6], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad start ts in %q", errInvalidURL, raw)
	}
	end, err := strconv.ParseInt(m[7], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad end ts in %q", errInvalidURL, raw)
	}
	if !channelCodeRe.MatchString(m[5]) {
		return nil, fmt.Errorf("%w: channel %q must match c<digits>", errInvalidURL, m[5])
	}
	return &ParsedURL{
		User: m[1], Pass: m[2], Host: m[3], Port: port,
		Channel: strings.ToLower(m[5]), Start: start, End: end, Suffix: m[8],
		IP: m[3],
	}, nil
}

var errInvalidURL = errors.New("rtsp: invalid url")

// ErrInvalidURL is returned (wrapped) by ParseURL and BuildURL on malformed
// input, mapping to spec.md §7's InvalidInput.
var ErrInvalidURL = errInvalidURL

// BuildURL composes a window-scoped rtsp URL per spec.md §4.1:
// "{base_rtsp}/{channel}/b{start}/e{end}/replay/s1".
func BuildURL(baseRTSP, channel string, start, end int64) string {
	return fmt.Sprintf("%s/%s/b%d/e%d/replay/s1", baseRTSP, channel, start, end)
}

// HostOf extracts the host (ip) from a base_rtsp authority, e.g.
// "rtsp://u:p@10.0.0.1:554" -> "10.0.0.1".
func HostOf(baseRTSP string) (string, error) {
	const prefix = "rtsp://"
	if !strings.HasPrefix(baseRTSP, prefix) {
		return "", fmt.Errorf("%w: %q missing rtsp:// prefix", errInvalidURL, baseRTSP)
	}
	authority := baseRTSP[len(prefix):]
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		authority = authority[at+1:]
	}
	host := authority
	if slash := strings.Index(host, "/"); slash >= 0 {
		host = host[:slash]
	}
	if colon := strings.LastIndex(host, ":"); colon >= 0 {
		host = host[:colon]
	}
	if host == "" {
		return "", fmt.Errorf("%w: %q has empty host", errInvalidURL, baseRTSP)
	}
	return host, nil
}

// discard drains and closes the reader. Nothing in this package calls it;
// the ffmpeg decoder captures output into buffers instead of pipes.
func discard(r io.ReadCloser) {
	if r == nil {
		return
	}
	io.Copy(io.Discard, r)
	r.Close()
}
