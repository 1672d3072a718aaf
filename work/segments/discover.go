// Package segments discovers which transport stream segments the upstream
// actually serves for a title.
package segments

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/panjf2000/ants/v2"

	"iptv-gateway/work/config"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/metrics"
	"iptv-gateway/work/probe"
	"iptv-gateway/work/types"
	"iptv-gateway/work/utils"
)

// Discoverer probes {root}/{index}.ts for index 0, 1, 2... with a small
// window of probes in flight and commits results strictly in index order.
// Probes run on a pool shared by every Discover call; the window bounds how
// many of them a single call holds at once.
type Discoverer struct {
	prober          probe.Prober
	pool            *ants.Pool
	window          int
	maxSegments     int
	segmentDuration float64
	config          *config.Config
}

type probeResult struct {
	index   int
	verdict probe.Verdict
}

// NewDiscoverer builds a Discoverer from the discovery settings in cfg.
//
// The window is clamped to [1, MaxDiscoveryWindow]; a non-positive segment
// ceiling or segment duration falls back to the package defaults. pool runs
// the individual probes and is owned by the caller, which releases it on
// shutdown.
func NewDiscoverer(cfg *config.Config, prober probe.Prober, pool *ants.Pool) *Discoverer {
	window := cfg.DiscoveryWindow
	if window < 1 {
		window = 1
	}
	if window > config.MaxDiscoveryWindow {
		window = config.MaxDiscoveryWindow
	}
	maxSegments := cfg.MaxSegments
	if maxSegments <= 0 {
		maxSegments = config.DefaultMaxSegments
	}
	duration := cfg.SegmentDuration.Seconds()
	if duration <= 0 {
		duration = config.DefaultSegmentDuration.Seconds()
	}

	return &Discoverer{
		prober:          prober,
		pool:            pool,
		window:          window,
		maxSegments:     maxSegments,
		segmentDuration: duration,
		config:          cfg,
	}
}

// IndexURL returns the URL of segment index under root.
func IndexURL(root string, index int) string {
	return strings.TrimRight(root, "/") + "/" + strconv.Itoa(index) + ".ts"
}

// IndexRequest is the probe for segment index under root: a GET for the
// first transport stream packet, checked for the sync byte.
func IndexRequest(root string, index int) probe.Request {
	return probe.Request{
		URL:             IndexURL(root, index),
		Method:          http.MethodGet,
		Range:           probe.TSPacketRange,
		TransportStream: true,
	}
}

// Discover walks the segment namespace under root. It stops at the first
// index that is not confirmed media, or after maxSegments confirmed
// segments (maxSegments <= 0 uses the configured ceiling). A failure at
// index 0 returns an empty, complete set.
//
// When ctx is done no further probes are scheduled and the set found so far
// is returned incomplete; probes already in flight finish and are dropped.
func (d *Discoverer) Discover(ctx context.Context, streamID, root string, maxSegments int) types.SegmentSet {
	if maxSegments <= 0 {
		maxSegments = d.maxSegments
	}

	set := types.SegmentSet{
		StreamID:              streamID,
		Segments:              make([]bool, 0, min(maxSegments, 64)),
		TargetDurationSeconds: d.segmentDuration,
	}

	// Buffered to the window so probes finishing after an early return never block.
	results := make(chan probeResult, d.window)
	pending := make(map[int]probe.Verdict, d.window)

	next := 0
	inFlight := 0
	stopped := false
	// Lowest index known not to be a segment; nothing at or past it is probed.
	firstMiss := maxSegments

	for {
		for !stopped && next < len(set.Segments)+d.window && next < firstMiss && ctx.Err() == nil {
			index := next
			// Blocks while the shared pool is saturated by other discoveries.
			err := d.pool.Submit(func() {
				results <- probeResult{index: index, verdict: d.prober.Probe(ctx, IndexRequest(root, index))}
			})
			if err != nil {
				logger.Error("{segments/discover - Discover} Failed to schedule probe %d: %v", index, err)
				stopped = true
				break
			}
			next++
			inFlight++
		}

		if inFlight == 0 {
			break
		}

		var r probeResult
		select {
		case r = <-results:
		case <-ctx.Done():
			logger.Debug("{segments/discover - Discover} Caller gone for stream %s after %d segments", streamID, len(set.Segments))
			d.observe(set)
			return set
		}
		inFlight--
		pending[r.index] = r.verdict
		if !r.verdict.Confirmed() {
			firstMiss = min(firstMiss, r.index)
		}

		// Commit the contiguous prefix; later indices wait for earlier ones.
		for !stopped {
			verdict, ok := pending[len(set.Segments)]
			if !ok {
				break
			}
			delete(pending, len(set.Segments))

			if !verdict.Confirmed() {
				stopped = true
				// A network failure leaves the true end unknown.
				set.DiscoveryComplete = !verdict.Failed()
				logger.Debug("{segments/discover - Discover} Stream %s ends at index %d (%s)",
					streamID, len(set.Segments), verdict.Kind)
				break
			}
			set.Segments = append(set.Segments, true)
		}

		if stopped {
			break
		}
	}

	if !stopped && len(set.Segments) >= maxSegments {
		metrics.DiscoveryCeilings.Inc()
		logger.Warn("{segments/discover - Discover} Stream %s hit the %d segment ceiling at %s",
			streamID, maxSegments, utils.LogURL(d.config, root))
	}

	d.observe(set)
	return set
}

func (d *Discoverer) observe(set types.SegmentSet) {
	metrics.DiscoveredSegments.Observe(float64(set.Len()))
}
