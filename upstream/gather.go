// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package upstream

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nekazari/datahub-bff/arrowframe"
	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/datatypes"
	"github.com/nekazari/datahub-bff/observability"
)

// Coordinator runs the scatter-gather: it groups series by source, launches
// one fetch per group concurrently, and composes the collected Arrow
// buffers into the alignment engine.
type Coordinator struct {
	cfg      *config.Config
	registry *Registry
	resolver *Resolver
	metrics  *observability.Metrics
}

// NewCoordinator wires the coordinator over the shared registry/resolver.
func NewCoordinator(cfg *config.Config, registry *Registry, resolver *Resolver, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{cfg: cfg, registry: registry, resolver: resolver, metrics: metrics}
}

// Resolver exposes the URN resolver for the proxy routes.
func (c *Coordinator) Resolver() *Resolver { return c.resolver }

// RouteA reports whether the request can be forwarded as a transparent
// proxy: every series on timescale, and the platform configured.
func (c *Coordinator) RouteA(series []datatypes.SeriesDescriptor) bool {
	if c.cfg.PlatformAPIURL == "" {
		return false
	}
	sources := datatypes.Sources(series)
	_, onlyTimescale := sources[config.SourceTimescale]
	return len(sources) == 1 && onlyTimescale
}

// sourceGroup is the unit of one outbound scatter fetch: the descriptors of
// one source, with their original request indices.
type sourceGroup struct {
	source  string
	series  []datatypes.SeriesDescriptor
	indices []int
}

// groupBySource groups descriptors by source, preserving first-seen source
// order and in-group request order.
func groupBySource(series []datatypes.SeriesDescriptor) []*sourceGroup {
	byName := map[string]*sourceGroup{}
	var groups []*sourceGroup
	for i, d := range series {
		g, ok := byName[d.Source]
		if !ok {
			g = &sourceGroup{source: d.Source}
			byName[d.Source] = g
			groups = append(groups, g)
		}
		g.series = append(g.series, d)
		g.indices = append(g.indices, i)
	}
	return groups
}

// GatherAlign runs Route B for the align endpoint: pre-resolve timescale
// URNs, fetch one Arrow buffer per source group concurrently, outer-join
// the buffers on the timestamp union, and reorder the value columns back
// into request order. Any group failure fails the whole request with a
// SourceError; partial results are never returned.
func (c *Coordinator) GatherAlign(ctx context.Context, series []datatypes.SeriesDescriptor, w Window, tc datatypes.TenantContext) (*arrowframe.Frame, error) {
	resolved, err := c.resolver.ResolveSeries(ctx, series, tc)
	if err != nil {
		return nil, err
	}

	groups := groupBySource(resolved)
	bodies := make([][]byte, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			start := time.Now()
			body, err := c.fetchGroup(gctx, grp, w, tc)
			c.metrics.RecordFetch(grp.source, time.Since(start).Seconds())
			if err != nil {
				c.metrics.RecordFetchError(grp.source)
				return &SourceError{Source: grp.source, Err: err}
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := arrowframe.MergeOuter(bodies)
	if err != nil {
		if errors.Is(err, arrowframe.ErrNoData) {
			return nil, errors.New("No se obtuvieron datos de ningún origen")
		}
		return nil, err
	}

	var order []int
	for _, grp := range groups {
		order = append(order, grp.indices...)
	}
	return arrowframe.ReorderColumns(merged, order), nil
}

func (c *Coordinator) fetchGroup(ctx context.Context, grp *sourceGroup, w Window, tc datatypes.TenantContext) ([]byte, error) {
	if grp.source == config.SourceTimescale {
		return fetchTimescaleGroup(ctx, c.cfg, grp.series, w, tc)
	}
	return fetchAdapterGroup(ctx, c.registry.BaseURL(grp.source), grp.source, grp.series, w, tc)
}

// GatherExport runs Route B for the export endpoint: one per-descriptor GET
// against each series' adapter, concurrently, results reassembled in
// request order. URNs must already be resolved by the caller.
func (c *Coordinator) GatherExport(ctx context.Context, series []datatypes.SeriesDescriptor, w Window, tc datatypes.TenantContext) ([][]byte, error) {
	bodies := make([][]byte, len(series))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range series {
		i, d := i, d
		g.Go(func() error {
			base := c.registry.BaseURL(d.Source)
			if base == "" {
				c.metrics.RecordFetchError(d.Source)
				return &SourceError{Source: d.Source, Err: errNoAdapterURL(d.Source)}
			}
			start := time.Now()
			body, err := FetchEntityData(gctx, base, d, w, tc)
			c.metrics.RecordFetch(d.Source, time.Since(start).Seconds())
			if err != nil {
				c.metrics.RecordFetchError(d.Source)
				return &SourceError{Source: d.Source, Err: err}
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}
