package pagination

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/embersky/xrpc-client/pkg/bsky/actor"
	"github.com/embersky/xrpc-client/pkg/dispatch"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int `yaml:"max_concurrency"`
	// Timeout per request
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns safe default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
		Timeout:        15 * time.Second,
	}
}

// BatchFetcher dispatches many descriptors in parallel
type BatchFetcher struct {
	disp   dispatch.Dispatcher
	config Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(disp dispatch.Dispatcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &BatchFetcher{
		disp:   disp,
		config: config,
	}
}

// FetchAll dispatches every descriptor with at most MaxConcurrency in flight.
// Responses are returned in input order. When some requests fail the
// successful responses are still returned, nil at the failed positions, along
// with the first failure.
func (bf *BatchFetcher) FetchAll(ctx context.Context, descs []xrpc.Descriptor) ([]*xrpc.Response, error) {
	start := time.Now()
	results := make([]*xrpc.Response, len(descs))
	if len(descs) == 0 {
		return results, nil
	}

	var (
		g       errgroup.Group
		fetched atomic.Int32
	)
	g.SetLimit(bf.config.MaxConcurrency)

	for i, d := range descs {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
			defer cancel()

			resp, err := bf.disp.Dispatch(reqCtx, d)
			if err != nil {
				log.Warn().
					Err(err).
					Int("index", i).
					Str("operation", d.Operation()).
					Msg("Batch request failed")
				return err
			}
			results[i] = resp

			if n := fetched.Add(1); n%50 == 0 {
				log.Info().
					Int32("fetched", n).
					Int("total", len(descs)).
					Msg("Fetch progress")
			}
			return nil
		})
	}

	err := g.Wait()
	n := int(fetched.Load())
	if err != nil {
		log.Warn().
			Err(err).
			Int("fetched", n).
			Int("total", len(descs)).
			Msg("Batch incomplete - returning partial results")
		return results, fmt.Errorf("batch fetch (partial data: %d/%d): %w", n, len(descs), err)
	}

	log.Info().
		Int("requests", len(descs)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results, nil
}

// FetchProfiles resolves any number of actors through getProfiles, split
// into requests of at most actor.MaxProfilesPerRequest.
func (bf *BatchFetcher) FetchProfiles(ctx context.Context, actors []string) ([]actor.ProfileViewDetailed, error) {
	descs, err := actor.ChunkProfiles(actors)
	if err != nil {
		return nil, err
	}

	responses, fetchErr := bf.FetchAll(ctx, descs)

	profiles := make([]actor.ProfileViewDetailed, 0, len(actors))
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		out, err := xrpc.DecodeAs[actor.ProfilesOutput](resp)
		if err != nil {
			return profiles, err
		}
		profiles = append(profiles, out.Profiles...)
	}
	return profiles, fetchErr
}
