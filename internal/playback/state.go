// Package playback runs playback sessions: it resolves a content key, picks
// and fails over between sources, restores and records watched progress, and
// handles episode navigation.
package playback

import (
	"errors"
	"fmt"

	"cinepro/internal/media"
)

var (
	// ErrNoSourcesAvailable means the backend returned an empty source list.
	ErrNoSourcesAvailable = errors.New("no sources available")
	// ErrAllSourcesFailed means every candidate source failed to play.
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrResolutionFailed means the source list could not be fetched.
	ErrResolutionFailed = errors.New("resolution failed")
	// ErrNoNextEpisode is returned when there is no episode after the current one.
	ErrNoNextEpisode = errors.New("no next episode")
	// ErrNoPreviousEpisode is returned on the first episode of a season.
	ErrNoPreviousEpisode = errors.New("no previous episode")
	// ErrNoSession is returned by controls used while nothing is playing.
	ErrNoSession = errors.New("no active playback session")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// State is a session's position in the playback state machine.
type State int

const (
	Idle State = iota
	Resolving
	SourceSelected
	Playing
	Seeking
	Failed
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case SourceSelected:
		return "source-selected"
	case Playing:
		return "playing"
	case Seeking:
		return "seeking"
	case Failed:
		return "failed"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the session is finished.
func (s State) Terminal() bool {
	return s == Failed || s == Ended
}

// Reason explains a Failed state.
type Reason int

const (
	NoReason Reason = iota
	NoSourcesAvailable
	ResolutionFailed
	AllSourcesFailed
)

func (r Reason) String() string {
	switch r {
	case NoSourcesAvailable:
		return "no-sources-available"
	case ResolutionFailed:
		return "resolution-failed"
	case AllSourcesFailed:
		return "all-sources-failed"
	default:
		return ""
	}
}

// Err returns the sentinel error for r, or nil.
func (r Reason) Err() error {
	switch r {
	case NoSourcesAvailable:
		return ErrNoSourcesAvailable
	case ResolutionFailed:
		return ErrResolutionFailed
	case AllSourcesFailed:
		return ErrAllSourcesFailed
	default:
		return nil
	}
}

// Message is the user-visible text for a failed session.
func (r Reason) Message() string {
	switch r {
	case NoSourcesAvailable:
		return "No playable sources were found for this title. Try again later."
	case ResolutionFailed:
		return "This title could not be found."
	case AllSourcesFailed:
		return "None of the available sources could be played. Try another source or come back later."
	default:
		return ""
	}
}

// Snapshot is a read-only copy of the current session.
type Snapshot struct {
	SessionID   string
	Key         media.ContentKey
	State       State
	Reason      Reason
	Message     string
	Err         error // sentinel for Reason wrapping the cause, nil unless Failed
	Sources     []media.MediaSource
	SourceIndex int // -1 before a source is selected
	Attempts    int // sources tried in the current attempt chain
	Subtitles   []media.SubtitleTrack
	Metadata    *media.Metadata // nil until metadata resolves, or if it failed
	Engine      string
	Time        float64
	Duration    float64
	HasNext     bool
	HasPrevious bool
}

// Title returns the metadata title, or "" while unknown.
func (s Snapshot) Title() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata.Title
}
