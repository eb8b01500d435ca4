package media

import (
	"strconv"
	"strings"
)

// DeliveryType is the container or streaming protocol of a source.
type DeliveryType int

const (
	HLS DeliveryType = iota
	MP4
	WebM
	Ogg
	Embed
)

func (d DeliveryType) String() string {
	switch d {
	case HLS:
		return "hls"
	case MP4:
		return "mp4"
	case WebM:
		return "webm"
	case Ogg:
		return "ogg"
	case Embed:
		return "embed"
	default:
		return "unknown"
	}
}

// ParseDeliveryType maps a backend type string onto a DeliveryType.
// Unknown or empty values are treated as HLS, which is what the backend
// serves when it does not say.
func ParseDeliveryType(s string) DeliveryType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mp4":
		return MP4
	case "webm":
		return WebM
	case "ogg", "ogv":
		return Ogg
	case "embed", "iframe":
		return Embed
	default:
		return HLS
	}
}

// MarshalText writes the delivery type by name.
func (d DeliveryType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MIMEType returns the hint handed to the engine for this delivery type.
func (d DeliveryType) MIMEType() string {
	switch d {
	case MP4, Embed:
		return "video/mp4"
	case WebM:
		return "video/webm"
	case Ogg:
		return "video/ogg"
	default:
		return "application/x-mpegurl"
	}
}

// MediaSource is one playable candidate for a content key.
type MediaSource struct {
	URL            string
	DeliveryType   DeliveryType
	Language       string
	RequestHeaders map[string]string
	IsDefault      bool
}

// Label names a source for menus, e.g. "Source 2 (mp4)".
func (s MediaSource) Label(index int) string {
	if s.Language != "" {
		return s.Language + " (" + s.DeliveryType.String() + ")"
	}
	return "Source " + strconv.Itoa(index+1) + " (" + s.DeliveryType.String() + ")"
}

// DefaultSourceIndex picks where playback starts in a candidate list: the first
// source marked default, else the first HLS source, else the last source.
// It returns -1 for an empty list.
func DefaultSourceIndex(sources []MediaSource) int {
	if len(sources) == 0 {
		return -1
	}
	for i, s := range sources {
		if s.IsDefault {
			return i
		}
	}
	for i, s := range sources {
		if s.DeliveryType == HLS {
			return i
		}
	}
	return len(sources) - 1
}
