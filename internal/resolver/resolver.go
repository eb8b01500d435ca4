package resolver

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cinepro/internal/httputil"
	cplog "cinepro/internal/log"
	"cinepro/internal/media"
	"cinepro/internal/subtitle"
)

// Config holds the endpoints and preferences a Resolver needs.
type Config struct {
	BackendURL     string
	MetadataURL    string
	MetadataAPIKey string
	SubsLanguage   string       // preferred subtitle language; empty keeps the backend default
	Client         *http.Client // optional; a hardened client is created when nil
	Logger         *zerolog.Logger
}

// Resolver resolves content keys into source catalogs and metadata.
type Resolver struct {
	backend  *Backend
	tmdb     *TMDB
	client   *http.Client
	subsLang string
	log      zerolog.Logger
}

// Result is the outcome of ResolveAll. Either half may fail on its own.
type Result struct {
	Catalog     *media.Catalog
	Metadata    *media.Metadata
	SourcesErr  error
	MetadataErr error
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	client := cfg.Client
	if client == nil {
		client = httputil.NewClient()
	}
	logger := cplog.WithComponent("resolver")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Resolver{
		backend:  NewBackend(cfg.BackendURL, client),
		tmdb:     NewTMDB(cfg.MetadataURL, cfg.MetadataAPIKey, client),
		client:   client,
		subsLang: cfg.SubsLanguage,
		log:      logger,
	}
}

// Resolve fetches the candidate sources and normalised subtitle tracks for key.
// Invalid keys fail with *media.ValidationError before any request is made.
func (r *Resolver) Resolve(ctx context.Context, key media.ContentKey) (*media.Catalog, error) {
	catalog, err := r.backend.Sources(ctx, key)
	if err != nil {
		return nil, err
	}

	catalog.Subtitles = subtitle.Normalize(catalog.Subtitles)
	if r.subsLang != "" {
		catalog.Subtitles = subtitle.PreferLanguage(catalog.Subtitles, r.subsLang)
	}

	r.log.Debug().
		Str("key", key.String()).
		Int("sources", len(catalog.Sources)).
		Int("subtitles", len(catalog.Subtitles)).
		Msg("resolved sources")
	return catalog, nil
}

// ResolveMetadata fetches display metadata for key. For episodic keys the
// current season's episode list is included when available.
func (r *Resolver) ResolveMetadata(ctx context.Context, key media.ContentKey) (*media.Metadata, error) {
	meta, err := r.tmdb.Details(ctx, key)
	if err != nil {
		return nil, err
	}
	if !key.Kind.Episodic() {
		return meta, nil
	}

	episodes, err := r.tmdb.Episodes(ctx, key.ID, key.Season)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key.String()).Msg("season listing unavailable")
		return meta, nil
	}
	meta.Episodes = episodes
	return meta, nil
}

// ResolveAll runs Resolve and ResolveMetadata concurrently. A failure of one
// does not cancel the other.
func (r *Resolver) ResolveAll(ctx context.Context, key media.ContentKey) Result {
	if err := key.Validate(); err != nil {
		return Result{SourcesErr: err, MetadataErr: err}
	}

	var (
		g   errgroup.Group
		res Result
	)
	g.Go(func() error {
		res.Catalog, res.SourcesErr = r.Resolve(ctx, key)
		return nil
	})
	g.Go(func() error {
		res.Metadata, res.MetadataErr = r.ResolveMetadata(ctx, key)
		return nil
	})
	_ = g.Wait()
	return res
}
