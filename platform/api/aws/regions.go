// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
)

// RegionsParameterPath is the public SSM parameter tree listing every
// region EC2 is available in.
const RegionsParameterPath = "/aws/service/global-infrastructure/services/ec2/regions"

// IsKnownRegion reports whether region is listed in the endpoint tables
// of any partition the SDK knows about.
func IsKnownRegion(region string) bool {
	// endpoints.PartitionForRegion also matches by name pattern, which
	// lets typos like "us-east-9" through; require an explicit entry.
	for _, p := range endpoints.DefaultPartitions() {
		if _, ok := p.Regions()[region]; ok {
			return true
		}
	}
	return false
}

// ListRegions returns every region EC2 is offered in, as published in
// the SSM global infrastructure parameters.
func (a *API) ListRegions(ctx context.Context) ([]string, error) {
	return listRegions(ctx, a.ssmFor(a.defaultRegion))
}

// listRegions follows NextToken until the last page. It returns nothing
// unless every page was fetched.
func listRegions(ctx context.Context, client ssmiface.SSMAPI) ([]string, error) {
	var (
		regions []string
		token   *string
		pages   int
	)
	for {
		out, err := client.GetParametersByPathWithContext(ctx, &ssm.GetParametersByPathInput{
			Path:      aws.String(RegionsParameterPath),
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("listing regions under %v (page %d): %w", RegionsParameterPath, pages+1, err)
		}
		pages++

		for _, p := range out.Parameters {
			if r := aws.StringValue(p.Value); r != "" {
				regions = append(regions, r)
			}
		}

		if aws.StringValue(out.NextToken) == "" {
			plog.Debugf("found %d regions in %d pages", len(regions), pages)
			return regions, nil
		}
		token = out.NextToken
	}
}
