// Package resolver decides which delivery mechanisms for a title actually
// work against the upstream and ranks them.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"iptv-gateway/work/config"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/metrics"
	"iptv-gateway/work/playlist"
	"iptv-gateway/work/probe"
	"iptv-gateway/work/segments"
	"iptv-gateway/work/token"
	"iptv-gateway/work/types"
	"iptv-gateway/work/utils"
	"iptv-gateway/work/xtream"
)

var (
	ErrInvalidTarget = errors.New("invalid stream target")
	// ErrNoCandidates means every tier was tried and none is known to work.
	ErrNoCandidates = errors.New("no working candidates")
)

// Resolution is the ranked answer for one target. Recommended is always
// All[0].
type Resolution struct {
	Recommended types.Candidate
	All         []types.Candidate
}

// Working reports whether at least one candidate is backed by evidence.
func (r Resolution) Working() bool {
	return anyVerified(r.All)
}

// Err returns ErrNoCandidates when no candidate is backed by evidence.
func (r Resolution) Err() error {
	if r.Working() {
		return nil
	}
	return ErrNoCandidates
}

// Policy applies the fixed tier order. It holds no per-request state and is
// safe for concurrent use.
type Policy struct {
	tokens *token.Resolver
	prober probe.Prober
	config *config.Config
}

// New builds a Policy that checks every tier through prober.
//
// The segment tier only confirms that index 0 exists; the relay walks the
// full segment range when a player asks for the manifest.
func New(cfg *config.Config, prober probe.Prober) *Policy {
	return &Policy{
		tokens: token.NewResolver(cfg, prober),
		prober: prober,
		config: cfg,
	}
}

// Resolve computes the ranked candidate list for target. Network failures
// only demote tiers; the returned error is limited to ErrInvalidTarget.
// Callers check Resolution.Err for the no-working-candidates outcome.
func (p *Policy) Resolve(ctx context.Context, target types.StreamTarget, creds types.Credentials) (Resolution, error) {
	if target.ID == "" || !target.Kind.Valid() {
		return Resolution{}, fmt.Errorf("%w: kind %q id %q", ErrInvalidTarget, target.Kind, target.ID)
	}

	var res Resolution
	if target.Kind == types.KindLive {
		res.All = p.liveCandidates(ctx, target, creds)
	} else {
		res.All = p.vodCandidates(ctx, target, creds)
	}

	for i := range res.All {
		res.All[i].Rank = i + 1
	}
	if len(res.All) > 0 {
		res.Recommended = res.All[0]
		metrics.Resolutions.WithLabelValues(string(target.Kind), string(res.Recommended.Format)).Inc()
	}

	logger.Info("{resolver - Resolve} %s %s: %d candidates, recommended %s (token=%v, working=%v)",
		target.Kind, target.ID, len(res.All), res.Recommended.Format, res.Recommended.HasToken, res.Working())

	return res, nil
}

// vodCandidates applies the movie/episode order: direct source, container,
// synthesized segments, direct manifest, raw transport stream.
func (p *Policy) vodCandidates(ctx context.Context, target types.StreamTarget, creds types.Credentials) []types.Candidate {
	var all []types.Candidate
	resume := token.ResumeParams(target.ResumeQuery)

	if target.DirectSourceURL != "" {
		all = append(all, types.Candidate{
			URL:      target.DirectSourceURL,
			Format:   types.FormatForExtension(target.DirectSourceURL),
			HasToken: hasTokenParam(target.DirectSourceURL),
			Verified: true,
		})
	}

	if hint := strings.ToLower(strings.TrimPrefix(target.ContainerHint, ".")); hint != "" && hint != "m3u8" && hint != "ts" {
		if c, ok := p.containerCandidate(ctx, xtream.StreamURL(creds, target.Kind, target.ID, hint), resume); ok {
			all = append(all, c)
		}
	}

	// Segments are only worth checking when nothing above is known to play.
	if !anyVerified(all) && p.hasSegments(ctx, xtream.SegmentRoot(creds, target.ID)) {
		all = append(all, types.Candidate{
			URL:      playlist.ManifestURL(p.config.PublicBaseURL, creds.PlaylistID, target.ID),
			Format:   types.FormatM3U8Segment,
			Verified: true,
		})
	}

	all = append(all,
		types.Candidate{
			URL:    token.WithQuery(xtream.StreamURL(creds, target.Kind, target.ID, "m3u8"), resume),
			Format: types.FormatM3U8Direct,
		},
		types.Candidate{
			URL:    token.WithQuery(xtream.StreamURL(creds, target.Kind, target.ID, "ts"), resume),
			Format: types.FormatTS,
		},
	)

	return all
}

// hasSegments reports whether the upstream serves index 0 under root as
// transport stream media.
func (p *Policy) hasSegments(ctx context.Context, root string) bool {
	verdict := p.prober.Probe(ctx, segments.IndexRequest(root, 0))
	if !verdict.Confirmed() {
		logger.Debug("{resolver - hasSegments} No segment 0 at %s (%s)", utils.LogURL(p.config, root), verdict.Kind)
		return false
	}
	return true
}

// containerCandidate resolves a token for the progressive container. A
// container the upstream reports as absent is dropped; one that could not be
// reached is still offered without a token.
func (p *Policy) containerCandidate(ctx context.Context, containerURL, resume string) (types.Candidate, bool) {
	format := types.FormatForExtension(containerURL)
	res := p.tokens.Resolve(ctx, containerURL, resume)

	switch {
	case res.HasToken:
		return types.Candidate{URL: res.URL, Format: format, HasToken: true, Verified: true}, true
	case res.Verdict.Confirmed():
		return types.Candidate{URL: res.URL, Format: format, Verified: true}, true
	case res.Verdict.Kind == probe.KindNotFound, res.Verdict.Deceptive():
		logger.Debug("{resolver - containerCandidate} Container absent upstream: %s", utils.LogURL(p.config, containerURL))
		return types.Candidate{}, false
	default:
		return types.Candidate{URL: res.URL, Format: format}, true
	}
}

// liveCandidates offers the tokened manifest then the tokened transport
// stream; a tier without a token is demoted behind every tokened one.
func (p *Policy) liveCandidates(ctx context.Context, target types.StreamTarget, creds types.Credentials) []types.Candidate {
	resume := token.ResumeParams(target.ResumeQuery)

	var tokened, plain []types.Candidate
	for _, ext := range []string{"m3u8", "ts"} {
		streamURL := xtream.StreamURL(creds, types.KindLive, target.ID, ext)
		res := p.tokens.Resolve(ctx, streamURL, resume)
		c := types.Candidate{URL: res.URL, Format: types.FormatForExtension(ext)}
		switch {
		case res.HasToken:
			c.HasToken = true
			c.Verified = true
			tokened = append(tokened, c)
		case res.Verdict.Confirmed():
			c.Verified = true
			plain = append(plain, c)
		default:
			plain = append(plain, c)
		}
	}

	return append(tokened, plain...)
}

func anyVerified(cs []types.Candidate) bool {
	for _, c := range cs {
		if c.Verified {
			return true
		}
	}
	return false
}

func hasTokenParam(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Query().Has("token")
}
