package player

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cinepro/internal/media"
)

const (
	eventBuffer = 64
	quitTimeout = 3 * time.Second
	// exitDrainTimeout bounds how long process exit waits for the IPC reader
	// to deliver the engine's last messages.
	exitDrainTimeout = time.Second
)

// lifecycle is the state every engine shares: the process, its position,
// the event channel and the single-use destroy sequence.
type lifecycle struct {
	name   string
	log    zerolog.Logger
	events chan Event
	done   chan struct{} // closed by Destroy
	exited chan struct{} // closed when the process exits

	mu        sync.Mutex
	destroyed bool
	loaded    bool
	ready     bool
	finished  bool
	timePos   float64
	duration  float64
	proc      process
	dir       string
	subtitles []media.SubtitleTrack

	wg   sync.WaitGroup
	once sync.Once
}

func (l *lifecycle) init(name string, log zerolog.Logger) {
	l.name = name
	l.log = log
	l.events = make(chan Event, eventBuffer)
	l.done = make(chan struct{})
	l.exited = make(chan struct{})
}

// Events returns the engine's event stream.
func (l *lifecycle) Events() <-chan Event { return l.events }

// CurrentTime returns the last reported position.
func (l *lifecycle) CurrentTime() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timePos
}

// Duration returns the media duration, 0 while unknown.
func (l *lifecycle) Duration() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.duration
}

// storeSubtitles keeps tracks for the engine to apply once ready and reports
// whether the media is ready already.
func (l *lifecycle) storeSubtitles(tracks []media.SubtitleTrack) (ready bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subtitles = slices.Clone(tracks)
	return l.ready
}

// claim marks the engine as loaded. An engine plays exactly one source.
func (l *lifecycle) claim() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return ErrDestroyed
	}
	if l.loaded {
		return ErrAlreadyLoaded
	}
	l.loaded = true
	return nil
}

// makeDir creates the engine's private temp directory.
func (l *lifecycle) makeDir() (string, error) {
	dir, err := os.MkdirTemp("", "cinepro-"+l.name+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir for %s: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		_ = os.RemoveAll(dir)
		return "", ErrDestroyed
	}
	l.dir = dir
	return dir, nil
}

// spawn runs f as a tracked goroutine unless the engine is destroyed.
func (l *lifecycle) spawn(f func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return false
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		f()
	}()
	return true
}

// attachProcess records a started process and reaps it in the background.
// A process started after Destroy is killed immediately.
func (l *lifecycle) attachProcess(p process) error {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		_ = p.Kill()
		_ = p.Wait()
		return ErrDestroyed
	}
	l.proc = p
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		_ = p.Wait()
		close(l.exited)
	}()
	return nil
}

func (l *lifecycle) emit(ev Event) {
	if ev.Type == TimeUpdate {
		// Position updates are superseded by the next one; never block on them.
		select {
		case l.events <- ev:
		default:
		}
		return
	}
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// finish emits the engine's single terminal event.
func (l *lifecycle) finish(ev Event) {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.finished = true
	l.mu.Unlock()
	l.emit(ev)
}

// markReady flips the ready flag and reports whether this was the first time.
func (l *lifecycle) markReady() (first bool, t, d float64, tracks []media.SubtitleTrack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	first = !l.ready
	l.ready = true
	return first, l.timePos, l.duration, l.subtitles
}

func (l *lifecycle) snapshot() (ready bool, t, d float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready, l.timePos, l.duration
}

// seekTarget clamps a seek and records it as the current position.
func (l *lifecycle) seekTarget(seconds float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return 0, ErrDestroyed
	}
	if l.proc == nil {
		return 0, fmt.Errorf("%s: no media loaded", l.name)
	}
	target := Clamp(seconds, l.duration)
	l.timePos = target
	return target, nil
}

// watchExit turns a process exit into the terminal event: Ended after
// playback started, a fatal Error before.
func (l *lifecycle) watchExit(readDone <-chan struct{}) {
	select {
	case <-l.exited:
	case <-l.done:
		return
	}
	select {
	case <-readDone:
	case <-time.After(exitDrainTimeout):
	case <-l.done:
		return
	}

	ready, t, d := l.snapshot()
	if ready {
		l.finish(Event{Type: Ended, Time: t, Duration: d})
		return
	}
	l.finish(Event{
		Type:  Error,
		Fatal: true,
		Err:   fmt.Errorf("%s exited before playback started", l.name),
	})
}

// shutdown is the body of Destroy: ask the engine to quit, kill it if it
// does not, wait for every goroutine, then remove temp files and close
// the event stream. quit reports whether the request reached the engine.
func (l *lifecycle) shutdown(quit func() bool, closeConn func()) {
	l.once.Do(func() {
		l.mu.Lock()
		l.destroyed = true
		close(l.done)
		proc, dir := l.proc, l.dir
		l.mu.Unlock()

		if proc != nil {
			wait := time.Duration(0)
			if quit != nil && quit() {
				wait = quitTimeout
			}
			select {
			case <-l.exited:
			case <-time.After(wait):
				l.log.Debug().Msg("engine did not quit, killing")
				_ = proc.Kill()
				<-l.exited
			}
		}
		if closeConn != nil {
			closeConn()
		}
		l.wg.Wait()

		if dir != "" {
			_ = os.RemoveAll(dir)
		}
		close(l.events)
		l.log.Debug().Msg("engine destroyed")
	})
}
