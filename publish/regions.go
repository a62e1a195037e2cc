// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/flatcar/amiupload/platform/api/aws"
)

// AllRegions selects every region EC2 is offered in.
const AllRegions = "all"

var (
	ErrNoRegionsSpecified = errors.New("must specify one or more regions")
	ErrRegionDiscovery    = errors.New("could not discover regions")
)

// InvalidRegionError names a region token that is not a known region.
type InvalidRegionError struct {
	Region string
}

func (e *InvalidRegionError) Error() string {
	return fmt.Sprintf("could not parse region %q", e.Region)
}

// RegionSelector is either All or an explicit list of regions, the first
// of which is the home region.
type RegionSelector struct {
	All     bool
	Regions []string
}

// ParseRegionSelector splits a comma separated list of regions, dropping
// blanks and repeats while keeping the first occurrence's position. The
// single word "all" selects every region. Regions are not validated
// here; see Resolve.
func ParseRegionSelector(s string) RegionSelector {
	s = strings.TrimSpace(s)
	if s == AllRegions {
		return RegionSelector{All: true}
	}

	var sel RegionSelector
	seen := make(map[string]bool)
	for _, r := range strings.Split(s, ",") {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		sel.Regions = append(sel.Regions, r)
	}
	return sel
}

func (s RegionSelector) String() string {
	if s.All {
		return AllRegions
	}
	return strings.Join(s.Regions, ",")
}

// ResolvedRegions is where an image gets published: uploaded and
// registered in Home, then copied to each of Replicas.
type ResolvedRegions struct {
	Home     string
	Replicas []string
}

// RegionLister lists every region the image could be published to.
type RegionLister interface {
	ListRegions(ctx context.Context) ([]string, error)
}

// CheckRegions validates sel without calling out: an explicit list must
// be non-empty and hold only known regions, and with All the default
// region becomes the home region so it has to be known too.
func CheckRegions(sel RegionSelector, defaultRegion string) error {
	if sel.All {
		if defaultRegion == "" {
			return fmt.Errorf("%w: no default region is configured to upload to", ErrNoRegionsSpecified)
		}
		if !aws.IsKnownRegion(defaultRegion) {
			return &InvalidRegionError{Region: defaultRegion}
		}
		return nil
	}

	if len(sel.Regions) == 0 {
		return ErrNoRegionsSpecified
	}
	for _, r := range sel.Regions {
		if !aws.IsKnownRegion(r) {
			return &InvalidRegionError{Region: r}
		}
	}
	return nil
}

// Resolve turns sel into a home region and a sorted, duplicate free set of
// replica regions that never contains the home region. For an explicit
// list the home region is its first entry; for All it is defaultRegion
// and the rest come from lister, which is only called in that case.
func Resolve(ctx context.Context, sel RegionSelector, defaultRegion string, lister RegionLister) (*ResolvedRegions, error) {
	if err := CheckRegions(sel, defaultRegion); err != nil {
		return nil, err
	}

	var (
		home       string
		candidates []string
	)
	if sel.All {
		listed, err := lister.ListRegions(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRegionDiscovery, err)
		}
		home, candidates = defaultRegion, listed
	} else {
		home, candidates = sel.Regions[0], sel.Regions[1:]
	}

	seen := map[string]bool{home: true}
	resolved := &ResolvedRegions{Home: home}
	for _, r := range candidates {
		if seen[r] {
			continue
		}
		seen[r] = true
		resolved.Replicas = append(resolved.Replicas, r)
	}
	sort.Strings(resolved.Replicas)
	return resolved, nil
}
