// Package resolver turns a content key into playable sources, subtitle
// tracks and display metadata by calling the media backend and the
// metadata API.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cinepro/internal/httputil"
	"cinepro/internal/media"
)

// Backend is the media API client: GET /movie/{id} and GET /tv/{id}?s=&e=.
type Backend struct {
	base   string // e.g. "https://backend.example.com"
	client *http.Client
}

// NewBackend creates a backend client for the given base URL.
func NewBackend(base string, client *http.Client) *Backend {
	if client == nil {
		client = httputil.NewClient()
	}
	return &Backend{
		base:   strings.TrimRight(base, "/"),
		client: client,
	}
}

// backendResponse is the JSON returned by the media backend.
type backendResponse struct {
	Files     []backendFile     `json:"files"`
	Subtitles []backendSubtitle `json:"subtitles"`
}

type backendFile struct {
	File    string            `json:"file"`
	Type    string            `json:"type"`
	Lang    string            `json:"lang"`
	Headers map[string]string `json:"headers"`
	Default bool              `json:"default"`
}

type backendSubtitle struct {
	URL     string `json:"url"`
	Lang    string `json:"lang"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

// URL returns the backend endpoint for key. The key must already be valid.
func (b *Backend) URL(key media.ContentKey) string {
	if !key.Kind.Episodic() {
		return httputil.BuildURL(b.base, "movie", key.ID)
	}
	q := url.Values{}
	q.Set("s", strconv.Itoa(key.Season))
	q.Set("e", strconv.Itoa(key.Episode))
	return httputil.BuildURL(b.base, "tv", key.ID) + "?" + q.Encode()
}

// Sources fetches the candidate list and subtitle tracks for key.
func (b *Backend) Sources(ctx context.Context, key media.ContentKey) (*media.Catalog, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var resp backendResponse
	if err := httputil.GetJSON(ctx, b.client, b.URL(key), &resp); err != nil {
		return nil, fmt.Errorf("fetching sources for %s: %w", key, err)
	}

	catalog := &media.Catalog{}
	for _, f := range resp.Files {
		if f.File == "" {
			continue
		}
		catalog.Sources = append(catalog.Sources, media.MediaSource{
			URL:            f.File,
			DeliveryType:   media.ParseDeliveryType(f.Type),
			Language:       f.Lang,
			RequestHeaders: f.Headers,
			IsDefault:      f.Default,
		})
	}
	for _, s := range resp.Subtitles {
		catalog.Subtitles = append(catalog.Subtitles, media.SubtitleTrack{
			URL:          s.URL,
			LanguageCode: s.Lang,
			Label:        s.Label,
			IsDefault:    s.Default,
		})
	}
	return catalog, nil
}
