package media

import (
	"errors"
	"testing"
)

func TestContentKeyEqual(t *testing.T) {
	a := ContentKey{ID: "7", Kind: Series, Season: 1, Episode: 2}
	if !a.Equal(ContentKey{ID: "7", Kind: Series, Season: 1, Episode: 2}) {
		t.Error("identical keys should be equal")
	}
	for _, b := range []ContentKey{
		{ID: "8", Kind: Series, Season: 1, Episode: 2},
		{ID: "7", Kind: Anime, Season: 1, Episode: 2},
		{ID: "7", Kind: Series, Season: 2, Episode: 2},
		{ID: "7", Kind: Series, Season: 1, Episode: 3},
	} {
		if a.Equal(b) {
			t.Errorf("%v should not equal %v", a, b)
		}
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		id        string
		season    string
		episode   string
		wantField string
	}{
		{"movie", Movie, "550", "", "", ""},
		{"series", Series, "1396", "1", "2", ""},
		{"anime", Anime, "30", "1", "12", ""},
		{"movie non-digit", Movie, "55a", "", "", "id"},
		{"movie injection", Movie, "1/../2", "", "", "id"},
		{"series bad season", Series, "1396", "one", "2", "season"},
		{"series bad episode", Series, "1396", "1", "2&x=1", "episode"},
		{"series empty episode", Series, "1396", "1", "", "episode"},
		{"series zero season", Series, "1396", "0", "1", "season"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.kind, tt.id, tt.season, tt.episode)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ParseKey() error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestNextAndPreviousEpisode(t *testing.T) {
	key := ContentKey{ID: "7", Kind: Series, Season: 1, Episode: 9}

	next := NextEpisode(key, 10)
	if next == nil || next.Episode != 10 || next.Season != 1 {
		t.Fatalf("NextEpisode = %+v, want episode 10", next)
	}
	if NextEpisode(*next, 10) != nil {
		t.Error("NextEpisode past the last episode should be nil")
	}
	if NextEpisode(ContentKey{ID: "1", Kind: Movie}, 10) != nil {
		t.Error("movies have no next episode")
	}

	prev := PreviousEpisode(key)
	if prev == nil || prev.Episode != 8 {
		t.Fatalf("PreviousEpisode = %+v, want episode 8", prev)
	}
	if PreviousEpisode(ContentKey{ID: "7", Kind: Series, Season: 1, Episode: 1}) != nil {
		t.Error("episode 1 has no previous episode")
	}
	if key.Episode != 9 {
		t.Error("navigation mutated the input key")
	}
}

func TestRoutes(t *testing.T) {
	key := ContentKey{ID: "1396", Kind: Series, Season: 1, Episode: 2}
	route := BuildRoute("Breaking Bad", key)
	if route != "/stream/breaking-bad/1396/1/2" {
		t.Errorf("BuildRoute = %q", route)
	}

	r, err := ParseRoute(route+"?player=vlc&autoplay=false", Movie)
	if err != nil {
		t.Fatalf("ParseRoute() error: %v", err)
	}
	if !r.Key.Equal(key) {
		t.Errorf("parsed key = %+v, want %+v", r.Key, key)
	}
	if r.Title != "breaking-bad" || r.Query.Get("player") != "vlc" {
		t.Errorf("parsed route = %+v", r)
	}

	r, err = ParseRoute("/stream/heat/949", Movie)
	if err != nil {
		t.Fatalf("ParseRoute(movie) error: %v", err)
	}
	if r.Key.Kind != Movie || r.Key.ID != "949" {
		t.Errorf("movie route key = %+v", r.Key)
	}

	r, err = ParseRoute("/stream/frieren/209867/1/3", Anime)
	if err != nil || r.Key.Kind != Anime {
		t.Errorf("anime route = %+v, %v", r, err)
	}

	for _, bad := range []string{"/watch/heat/949", "/stream/heat", "/stream/heat/949/1", "/stream/heat/abc"} {
		if _, err := ParseRoute(bad, Movie); err == nil {
			t.Errorf("ParseRoute(%q) should fail", bad)
		}
	}
}

func TestDeliveryType(t *testing.T) {
	tests := []struct {
		in   string
		want DeliveryType
		mime string
	}{
		{"hls", HLS, "application/x-mpegurl"},
		{"mp4", MP4, "video/mp4"},
		{"WEBM", WebM, "video/webm"},
		{"ogg", Ogg, "video/ogg"},
		{"embed", Embed, "video/mp4"},
		{"", HLS, "application/x-mpegurl"},
		{"dash", HLS, "application/x-mpegurl"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseDeliveryType(tt.in)
			if got != tt.want {
				t.Errorf("ParseDeliveryType(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got.MIMEType() != tt.mime {
				t.Errorf("MIMEType = %q, want %q", got.MIMEType(), tt.mime)
			}
		})
	}
}

func TestDefaultSourceIndex(t *testing.T) {
	tests := []struct {
		name    string
		sources []MediaSource
		want    int
	}{
		{"empty", nil, -1},
		{"marked default", []MediaSource{{DeliveryType: HLS}, {DeliveryType: MP4, IsDefault: true}}, 1},
		{"first of several defaults", []MediaSource{{DeliveryType: MP4, IsDefault: true}, {DeliveryType: HLS, IsDefault: true}}, 0},
		{"first hls", []MediaSource{{DeliveryType: MP4}, {DeliveryType: HLS}, {DeliveryType: HLS}}, 1},
		{"last entry", []MediaSource{{DeliveryType: MP4}, {DeliveryType: WebM}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultSourceIndex(tt.sources); got != tt.want {
				t.Errorf("DefaultSourceIndex = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEpisodeCount(t *testing.T) {
	m := &Metadata{Seasons: []Season{{Number: 0, EpisodeCount: 3}, {Number: 1, EpisodeCount: 10}}}
	if got := m.EpisodeCount(1); got != 10 {
		t.Errorf("EpisodeCount(1) = %d, want 10", got)
	}
	if got := m.EpisodeCount(4); got != 0 {
		t.Errorf("EpisodeCount(4) = %d, want 0", got)
	}
	var nilMeta *Metadata
	if nilMeta.EpisodeCount(1) != 0 {
		t.Error("nil metadata should report 0 episodes")
	}
}
