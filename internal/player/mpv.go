package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cinepro/internal/httputil"
	"cinepro/internal/media"
)

// MPV drives mpv over its JSON IPC socket at a randomized temp path.
type MPV struct {
	lifecycle
	opts  Options
	start starter

	ipc      *ipcConn // guarded by lifecycle.mu
	readDone chan struct{}
}

// NewMPV creates an mpv engine. Nothing is started until Load.
func NewMPV(opts Options) *MPV {
	m := &MPV{
		opts:     opts,
		start:    startExec,
		readDone: make(chan struct{}),
	}
	m.init("mpv", opts.logger("mpv"))
	return m
}

func (m *MPV) Name() string { return "mpv" }

func (m *MPV) Available() bool { return lookPath("mpv") }

// Load launches mpv for src and subscribes to position updates. Playback
// state is reported on Events.
func (m *MPV) Load(ctx context.Context, src Source) error {
	target, err := sanitizeMediaTarget(src.URL)
	if err != nil {
		return fmt.Errorf("invalid media target: %w", err)
	}
	if err := m.claim(); err != nil {
		return err
	}

	dir, err := m.makeDir()
	if err != nil {
		return err
	}
	socketPath := filepath.Join(dir, "socket")

	proc, err := m.start("mpv", m.args(src, target, socketPath))
	if err != nil {
		return err
	}
	if err := m.attachProcess(proc); err != nil {
		return err
	}

	conn, err := dialIPC(ctx, socketPath, m.exited)
	if err != nil {
		return fmt.Errorf("connecting to mpv: %w", err)
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		conn.Close()
		return ErrDestroyed
	}
	m.ipc = conn
	m.mu.Unlock()

	m.spawn(func() {
		defer close(m.readDone)
		conn.readLoop(m.handle)
	})
	m.spawn(func() { m.watchExit(m.readDone) })

	for i, prop := range []string{"time-pos", "duration"} {
		if err := conn.send("observe_property", i+1, prop); err != nil {
			return fmt.Errorf("observing %s: %w", prop, err)
		}
	}

	m.log.Debug().Str("mime", src.MIMEType).Msg("mpv started")
	return nil
}

// args builds the mpv argument list. Each argument is a separate element;
// nothing passes through a shell.
func (m *MPV) args(src Source, target, socketPath string) []string {
	args := []string{
		"--no-terminal",
		"--input-ipc-server=" + socketPath,
		"--force-window=yes",
		"--keep-open=no",
	}

	if title := sanitizeTitle(m.opts.Title); title != "" {
		args = append(args, "--force-media-title="+title)
	}

	ua := httputil.UserAgent
	if v, ok := headerValue(src.Headers, "User-Agent"); ok {
		ua = v
	}
	args = append(args, "--user-agent="+ua)
	if ref, ok := headerValue(src.Headers, "Referer"); ok {
		args = append(args, "--referrer="+ref)
	}
	for _, field := range headerFields(src.Headers) {
		args = append(args, "--http-header-fields-append="+field)
	}

	if m.opts.Theme != "" {
		args = append(args, "--osd-color=#"+m.opts.Theme)
	}
	if m.opts.SubtitleColor != "" {
		args = append(args, "--sub-color=#"+m.opts.SubtitleColor)
	}
	if m.opts.SubtitleFontSize > 0 {
		args = append(args, "--sub-font-size="+strconv.Itoa(m.opts.SubtitleFontSize))
	}
	if !m.opts.Autoplay {
		args = append(args, "--pause")
	}

	return append(args, "--", target)
}

// headerFields renders every header except Referer and User-Agent (which
// have their own flags) as sorted "Name: value" fields, one per option so
// values may contain commas.
func headerFields(headers map[string]string) []string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		if strings.EqualFold(k, "Referer") || strings.EqualFold(k, "User-Agent") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, k+": "+headers[k])
	}
	return fields
}

// handle translates one IPC message into engine state and events.
func (m *MPV) handle(msg ipcMessage) {
	switch msg.Event {
	case "property-change":
		// data is null while the property is unavailable
		if len(msg.Data) == 0 || string(msg.Data) == "null" {
			return
		}
		var v float64
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		m.mu.Lock()
		switch msg.Name {
		case "time-pos":
			m.timePos = v
		case "duration":
			m.duration = v
		}
		ready, t, d := m.ready, m.timePos, m.duration
		m.mu.Unlock()

		if msg.Name != "time-pos" {
			return
		}
		if ready {
			m.emit(Event{Type: TimeUpdate, Time: t, Duration: d})
			return
		}
		// playback-restart may have fired before the IPC connection was up.
		m.becomeReady()

	case "playback-restart":
		if !m.becomeReady() {
			_, t, d := m.snapshot()
			m.emit(Event{Type: Seeked, Time: t, Duration: d})
		}

	case "end-file":
		_, t, d := m.snapshot()
		switch msg.Reason {
		case "eof":
			m.finish(Event{Type: Ended, Time: t, Duration: d})
		case "error":
			reason := msg.FileError
			if reason == "" {
				reason = "playback error"
			}
			m.finish(Event{Type: Error, Time: t, Duration: d, Fatal: true, Err: errors.New("mpv: " + reason)})
		}

	case "":
		if msg.Error != "" && msg.Error != "success" {
			m.log.Debug().Int("request_id", msg.RequestID).Str("error", msg.Error).Msg("mpv command failed")
		}
	}
}

// becomeReady marks the engine ready, attaches pending subtitles and emits
// Ready the first time it is called. It reports whether this call did so.
func (m *MPV) becomeReady() bool {
	first, t, d, tracks := m.markReady()
	if !first {
		return false
	}
	m.addSubtitles(tracks)
	m.emit(Event{Type: Ready, Time: t, Duration: d})
	return true
}

// AttachSubtitleTracks adds tracks with sub-add once the media is ready.
func (m *MPV) AttachSubtitleTracks(tracks []media.SubtitleTrack) {
	if m.storeSubtitles(tracks) {
		m.addSubtitles(tracks)
	}
}

func (m *MPV) addSubtitles(tracks []media.SubtitleTrack) {
	m.mu.Lock()
	conn := m.ipc
	m.mu.Unlock()
	if conn == nil {
		return
	}

	for _, t := range tracks {
		flag := "auxiliary"
		if t.IsDefault {
			flag = "select"
		}
		if err := conn.send("sub-add", t.URL, flag, t.Label, t.LanguageCode); err != nil {
			m.log.Warn().Err(err).Str("lang", t.LanguageCode).Msg("adding subtitle track")
		}
	}
}

// SetCurrentTime seeks to an absolute position, clamped to the media.
func (m *MPV) SetCurrentTime(seconds float64) error {
	target, err := m.seekTarget(seconds)
	if err != nil {
		return err
	}
	m.mu.Lock()
	conn := m.ipc
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("mpv: not connected")
	}
	return conn.send("seek", target, "absolute")
}

// Destroy quits mpv and waits for it to exit.
func (m *MPV) Destroy() {
	m.shutdown(func() bool {
		m.mu.Lock()
		conn := m.ipc
		m.mu.Unlock()
		return conn != nil && conn.send("quit") == nil
	}, func() {
		m.mu.Lock()
		conn := m.ipc
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}
