package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"cinepro/internal/httputil"
	"cinepro/internal/media"
	"cinepro/internal/subtitle"
)

const (
	vlcPollInterval = 500 * time.Millisecond
	vlcReplyTimeout = 2 * time.Second
	// vlcMaxReplyLines bounds how many status lines are skipped while
	// waiting for a numeric reply.
	vlcMaxReplyLines = 16
)

// VLC drives VLC through its remote-control interface on a loopback port.
// VLC cannot add subtitle tracks at runtime, so the default track is
// downloaded and passed on the command line.
type VLC struct {
	lifecycle
	opts  Options
	start starter

	rcMu        sync.Mutex // serialises request/reply pairs on rc
	rc          net.Conn   // guarded by lifecycle.mu for assignment
	reader      *bufio.Reader
	seekPending bool // guarded by lifecycle.mu
}

// NewVLC creates a VLC engine. Nothing is started until Load.
func NewVLC(opts Options) *VLC {
	v := &VLC{opts: opts, start: startExec}
	v.init("vlc", opts.logger("vlc"))
	return v
}

func (v *VLC) Name() string { return "vlc" }

func (v *VLC) Available() bool { return lookPath("vlc") }

// AttachSubtitleTracks must be called before Load to take effect.
func (v *VLC) AttachSubtitleTracks(tracks []media.SubtitleTrack) {
	if v.storeSubtitles(tracks) {
		v.log.Debug().Msg("vlc cannot add subtitle tracks after start")
	}
}

// Load launches VLC for src with the rc interface enabled.
func (v *VLC) Load(ctx context.Context, src Source) error {
	target, err := sanitizeMediaTarget(src.URL)
	if err != nil {
		return fmt.Errorf("invalid media target: %w", err)
	}
	if extra := unsupportedHeaders(src.Headers); len(extra) > 0 {
		return fmt.Errorf("%w: vlc cannot send %s", ErrUnsupportedHeaders, strings.Join(extra, ", "))
	}
	if err := v.claim(); err != nil {
		return err
	}

	dir, err := v.makeDir()
	if err != nil {
		return err
	}
	subFile := v.downloadDefaultSubtitle(ctx, dir)

	addr, err := freeLoopbackAddr()
	if err != nil {
		return err
	}

	proc, err := v.start("vlc", v.args(src, target, addr, subFile))
	if err != nil {
		return err
	}
	if err := v.attachProcess(proc); err != nil {
		return err
	}

	conn, err := dialRC(ctx, addr, v.exited)
	if err != nil {
		return fmt.Errorf("connecting to vlc: %w", err)
	}

	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		conn.Close()
		return ErrDestroyed
	}
	v.rc = conn
	v.reader = bufio.NewReader(conn)
	v.mu.Unlock()

	pollDone := make(chan struct{})
	v.spawn(func() {
		defer close(pollDone)
		v.poll()
	})
	v.spawn(func() { v.watchExit(pollDone) })

	v.log.Debug().Str("rc", addr).Msg("vlc started")
	return nil
}

// args builds the VLC argument list.
func (v *VLC) args(src Source, target, rcAddr, subFile string) []string {
	args := []string{
		"--extraintf=rc",
		"--rc-host=" + rcAddr,
		"--play-and-exit",
		"--no-video-title-show",
	}

	if title := sanitizeTitle(v.opts.Title); title != "" {
		args = append(args, "--meta-title="+title)
	}

	ua := httputil.UserAgent
	if val, ok := headerValue(src.Headers, "User-Agent"); ok {
		ua = val
	}
	args = append(args, "--http-user-agent="+ua)
	if ref, ok := headerValue(src.Headers, "Referer"); ok {
		args = append(args, "--http-referrer="+ref)
	}

	if subFile != "" {
		args = append(args, "--sub-file="+subFile)
	}
	if rgb, ok := hexToRGB(v.opts.SubtitleColor); ok {
		args = append(args, "--freetype-color="+strconv.Itoa(rgb))
	}
	if v.opts.SubtitleFontSize > 0 {
		args = append(args, "--freetype-fontsize="+strconv.Itoa(v.opts.SubtitleFontSize))
	}
	if !v.opts.Autoplay {
		args = append(args, "--start-paused")
	}

	return append(args, "--", target)
}

func (v *VLC) downloadDefaultSubtitle(ctx context.Context, dir string) string {
	v.mu.Lock()
	track := subtitle.Default(v.subtitles)
	v.mu.Unlock()
	if track == nil {
		return ""
	}

	path, err := subtitle.DirAt(dir).Download(ctx, v.opts.client(), *track)
	if err != nil {
		v.log.Warn().Err(err).Str("lang", track.LanguageCode).Msg("downloading subtitle for vlc")
		return ""
	}
	return path
}

// poll asks VLC for length and position until the connection closes.
// Ready fires once the length is known.
func (v *VLC) poll() {
	ticker := time.NewTicker(vlcPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return
		case <-v.exited:
			return
		case <-ticker.C:
		}

		length, err := v.query("get_length")
		if err != nil {
			if isClosed(err) {
				return
			}
			continue
		}
		pos, err := v.query("get_time")
		if err != nil {
			if isClosed(err) {
				return
			}
			continue
		}

		v.mu.Lock()
		v.timePos = float64(pos)
		if length > 0 {
			v.duration = float64(length)
		}
		seeked := v.seekPending
		v.seekPending = false
		v.mu.Unlock()

		if length <= 0 {
			continue
		}
		first, t, d, _ := v.markReady()
		switch {
		case first:
			v.emit(Event{Type: Ready, Time: t, Duration: d})
		case seeked:
			v.emit(Event{Type: Seeked, Time: t, Duration: d})
		default:
			v.emit(Event{Type: TimeUpdate, Time: t, Duration: d})
		}
	}
}

// query sends an rc command and returns the first integer reply.
func (v *VLC) query(cmd string) (int, error) {
	v.rcMu.Lock()
	defer v.rcMu.Unlock()

	v.mu.Lock()
	conn, reader := v.rc, v.reader
	v.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("vlc: not connected")
	}

	if err := conn.SetDeadline(time.Now().Add(vlcReplyTimeout)); err != nil {
		return 0, err
	}
	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return 0, err
	}
	for i := 0; i < vlcMaxReplyLines; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, err
		}
		if n, ok := parseRCNumber(line); ok {
			return n, nil
		}
	}
	return 0, fmt.Errorf("vlc: no reply to %s", cmd)
}

// send writes an rc command that has no reply.
func (v *VLC) send(cmd string) error {
	v.rcMu.Lock()
	defer v.rcMu.Unlock()

	v.mu.Lock()
	conn := v.rc
	v.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("vlc: not connected")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(vlcReplyTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(cmd + "\n"))
	return err
}

// SetCurrentTime seeks to an absolute position. VLC seeks in whole seconds.
func (v *VLC) SetCurrentTime(seconds float64) error {
	target, err := v.seekTarget(seconds)
	if err != nil {
		return err
	}
	if err := v.send("seek " + strconv.Itoa(int(target))); err != nil {
		return fmt.Errorf("vlc seek: %w", err)
	}
	v.mu.Lock()
	v.seekPending = true
	v.mu.Unlock()
	return nil
}

// Destroy quits VLC and waits for it to exit.
func (v *VLC) Destroy() {
	v.shutdown(func() bool {
		return v.send("quit") == nil
	}, func() {
		v.mu.Lock()
		conn := v.rc
		v.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

// parseRCNumber reads an integer reply, tolerating the "> " prompt prefix.
func parseRCNumber(line string) (int, bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimSpace(strings.TrimLeft(s, ">"))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// hexToRGB converts "ffffff" or "fff" to VLC's integer colour.
func hexToRGB(hex string) (int, bool) {
	if httputil.ValidateHexColor(hex) != nil {
		return 0, false
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	n, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

func freeLoopbackAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("reserving rc port: %w", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr, nil
}

func dialRC(ctx context.Context, addr string, exited <-chan struct{}) (net.Conn, error) {
	var d net.Dialer
	var lastErr error
	for i := 0; i < socketWaitRetries; i++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-exited:
			return nil, fmt.Errorf("engine exited before rc was ready")
		case <-time.After(socketWaitDelay):
		}
	}
	return nil, fmt.Errorf("rc %s not ready after %d attempts: %w", addr, socketWaitRetries, lastErr)
}

// vlcHeaders are the request headers VLC has command-line options for.
var vlcHeaders = []string{"User-Agent", "Referer"}

// unsupportedHeaders returns the sorted names in headers VLC cannot send.
func unsupportedHeaders(headers map[string]string) []string {
	var extra []string
	for k := range headers {
		supported := false
		for _, h := range vlcHeaders {
			if strings.EqualFold(k, h) {
				supported = true
				break
			}
		}
		if !supported {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

// isClosed reports whether err means the rc connection is gone for good.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
