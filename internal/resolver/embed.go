package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cinepro/internal/httputil"
	"cinepro/internal/media"
)

// ErrNoPlayableMedia is returned when an embed page has no video to extract.
var ErrNoPlayableMedia = errors.New("no playable media in embed page")

// maxEmbedHops bounds how many nested iframes are followed.
const maxEmbedHops = 1

// ExtractEmbed fetches an embed page and turns it into a directly playable
// source. The result keeps the original request headers and adds the embed
// page as Referer.
func (r *Resolver) ExtractEmbed(ctx context.Context, src media.MediaSource) (media.MediaSource, error) {
	return extractEmbed(ctx, r.client, src.URL, src, 0)
}

func extractEmbed(ctx context.Context, client *http.Client, pageURL string, src media.MediaSource, hop int) (media.MediaSource, error) {
	doc, err := fetchDocument(ctx, client, pageURL, src.RequestHeaders)
	if err != nil {
		return media.MediaSource{}, err
	}

	if raw := findVideo(doc); raw != "" {
		abs, err := resolveRef(pageURL, raw)
		if err != nil {
			return media.MediaSource{}, err
		}
		headers := maps.Clone(src.RequestHeaders)
		if headers == nil {
			headers = map[string]string{}
		}
		headers["Referer"] = pageURL
		return media.MediaSource{
			URL:            abs,
			DeliveryType:   guessDelivery(abs),
			Language:       src.Language,
			RequestHeaders: headers,
			IsDefault:      src.IsDefault,
		}, nil
	}

	frame, ok := doc.Find("iframe[src]").First().Attr("src")
	if !ok || hop >= maxEmbedHops {
		return media.MediaSource{}, fmt.Errorf("%s: %w", pageURL, ErrNoPlayableMedia)
	}
	next, err := resolveRef(pageURL, frame)
	if err != nil {
		return media.MediaSource{}, err
	}
	return extractEmbed(ctx, client, next, src, hop+1)
}

// fetchDocument fetches a URL and parses it into a goquery Document.
func fetchDocument(ctx context.Context, client *http.Client, pageURL string, headers map[string]string) (*goquery.Document, error) {
	resp, err := httputil.Get(ctx, client, pageURL, headers)
	if err != nil {
		return nil, fmt.Errorf("fetching embed page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httputil.StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("parsing embed page: %w", err)
	}
	return doc, nil
}

// findVideo returns the first <video src> or <video><source src>.
func findVideo(doc *goquery.Document) string {
	if src, ok := doc.Find("video[src]").First().Attr("src"); ok && strings.TrimSpace(src) != "" {
		return strings.TrimSpace(src)
	}
	if src, ok := doc.Find("video source[src]").First().Attr("src"); ok && strings.TrimSpace(src) != "" {
		return strings.TrimSpace(src)
	}
	return ""
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing embed URL: %w", err)
	}
	u, err := b.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing media reference %q: %w", ref, err)
	}
	abs := u.String()
	if err := httputil.ValidateURL(abs); err != nil {
		return "", fmt.Errorf("extracted media URL: %w", err)
	}
	return abs, nil
}

// guessDelivery maps a media URL onto a delivery type by extension.
func guessDelivery(rawURL string) media.DeliveryType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return media.HLS
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".mp4", ".m4v":
		return media.MP4
	case ".webm":
		return media.WebM
	case ".ogg", ".ogv":
		return media.Ogg
	default:
		return media.HLS
	}
}
