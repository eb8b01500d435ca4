// Package player drives external media engines (mpv, VLC) for one playback
// session. Engines are launched with exec.Command and explicit argument
// slices, and report their state back over their IPC channel as Events.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"cinepro/internal/httputil"
	cplog "cinepro/internal/log"
	"cinepro/internal/media"
)

// ErrAlreadyLoaded is returned when Load is called twice on one engine.
// Each source gets a fresh engine.
var ErrAlreadyLoaded = errors.New("engine already has a source")

// ErrDestroyed is returned by operations on a destroyed engine.
var ErrDestroyed = errors.New("engine destroyed")

// ErrUnsupportedHeaders is returned by Load when the source needs request
// headers the engine has no way to send.
var ErrUnsupportedHeaders = errors.New("unsupported request headers")

// EventType identifies what an engine reported.
type EventType int

const (
	// Ready fires once, when the media timeline is decodable and seeking is safe.
	Ready EventType = iota
	TimeUpdate
	Seeked
	Ended
	Error
)

func (t EventType) String() string {
	switch t {
	case Ready:
		return "ready"
	case TimeUpdate:
		return "timeupdate"
	case Seeked:
		return "seeked"
	case Ended:
		return "ended"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one notification from an engine.
type Event struct {
	Type     EventType
	Time     float64 // current position in seconds
	Duration float64 // 0 while unknown
	Fatal    bool    // only for Error: the source cannot recover
	Err      error
}

// Source is what an engine is asked to play.
type Source struct {
	URL      string
	MIMEType string
	Headers  map[string]string // sent with every request the engine makes
}

// SourceFrom converts a resolved media source into an engine source.
func SourceFrom(s media.MediaSource) Source {
	return Source{
		URL:      s.URL,
		MIMEType: s.DeliveryType.MIMEType(),
		Headers:  s.RequestHeaders,
	}
}

// Engine is a single-use media engine bound to one source.
type Engine interface {
	Name() string
	// Available reports whether the engine binary is installed.
	Available() bool
	// AttachSubtitleTracks registers tracks; they are applied when the media
	// becomes ready. The default track is selected.
	AttachSubtitleTracks(tracks []media.SubtitleTrack)
	Load(ctx context.Context, src Source) error
	CurrentTime() float64
	// SetCurrentTime seeks, clamping to [0, duration].
	SetCurrentTime(seconds float64) error
	Duration() float64
	// Events is closed after Destroy returns.
	Events() <-chan Event
	// Destroy stops the engine process and releases its resources. It is
	// synchronous and safe to call more than once.
	Destroy()
}

// Options configures an engine.
type Options struct {
	Title            string
	Theme            string // hex without '#'
	SubtitleColor    string // hex without '#'
	SubtitleFontSize int
	Autoplay         bool
	Client           *http.Client // for engines that need subtitle files on disk
	Logger           *zerolog.Logger
}

func (o Options) logger(component string) zerolog.Logger {
	if o.Logger != nil {
		return o.Logger.With().Str("engine", component).Logger()
	}
	return cplog.WithComponent("player").With().Str("engine", component).Logger()
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return httputil.NewClient()
}

// New creates an engine by name. Unknown names get mpv.
func New(name string, opts Options) Engine {
	switch strings.ToLower(name) {
	case "vlc":
		return NewVLC(opts)
	default:
		return NewMPV(opts)
	}
}

// Clamp bounds a seek target to [0, duration]. An unknown duration only
// bounds from below.
func Clamp(seconds, duration float64) float64 {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0
	}
	if duration > 0 && !math.IsInf(duration, 0) && seconds > duration {
		return duration
	}
	return seconds
}

func lookPath(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

// sanitizeMediaTarget validates that a URL is safe to hand to an engine
// binary as a positional argument.
func sanitizeMediaTarget(link string) (string, error) {
	l := strings.TrimSpace(link)
	if l == "" {
		return "", fmt.Errorf("empty URL")
	}
	if strings.ContainsAny(l, "\x00\n\r") {
		return "", fmt.Errorf("invalid control characters in URL")
	}
	if strings.HasPrefix(l, "-") {
		return "", fmt.Errorf("url must not start with '-'")
	}
	if err := httputil.ValidateURL(l); err != nil {
		return "", err
	}
	return l, nil
}

// sanitizeTitle strips characters that break window titles and IPC lines.
func sanitizeTitle(title string) string {
	t := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ", "\x00", "").Replace(title)
	return strings.TrimSpace(t)
}

// headerValue returns a header from a source map, matched case-insensitively.
func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
