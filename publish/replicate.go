// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"

	"github.com/flatcar/amiupload/lang/worker"
	"github.com/flatcar/amiupload/util"
)

// DefaultParallel is how many copies are requested at once.
const DefaultParallel = 4

type replicaResult struct {
	record ImageRecord
	err    error
}

// Replicate copies the home image to every replica region under name,
// tagging each copy. A region that fails does not stop the others; its
// error is returned in failures, keyed by region, and it has no record.
func Replicate(ctx context.Context, p Provider, home ImageRecord, name, description string, tags map[string]string, replicas []string, opts *Options) ([]ImageRecord, map[string]error) {
	if len(replicas) == 0 {
		return nil, nil
	}

	progress := util.OrNoProgress(opts.CopyProgress)
	progress.Start(int64(len(replicas)))
	defer progress.Finish()

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	// each worker owns one slot, merged once all are done
	results := make([]replicaResult, len(replicas))
	workers := make([]worker.Worker, len(replicas))
	for i, region := range replicas {
		i, region := i, region
		results[i].record.Region = region
		workers[i] = func(ctx context.Context) error {
			results[i] = replicateTo(ctx, p, home, region, name, description, tags)
			progress.Add(1)
			return nil
		}
	}
	// workers never fail, so an error here means some were not started
	if err := worker.Parallel(ctx, parallel, workers...); err != nil {
		for i := range results {
			if results[i].record.ImageID == "" && results[i].err == nil {
				results[i].err = err
			}
		}
	}

	var (
		records  []ImageRecord
		failures map[string]error
	)
	for _, r := range results {
		if r.err != nil {
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[r.record.Region] = r.err
			plog.Errorf("could not copy AMI to %v: %v", r.record.Region, r.err)
			continue
		}
		records = append(records, r.record)
	}
	plog.Noticef("copied AMI to %d of %d regions", len(records), len(replicas))
	return records, failures
}

func replicateTo(ctx context.Context, p Provider, home ImageRecord, region, name, description string, tags map[string]string) replicaResult {
	imageID, err := p.CopyImage(ctx, home.Region, home.ImageID, region, name, description)
	if err != nil {
		return replicaResult{record: ImageRecord{Region: region}, err: err}
	}
	plog.Debugf("created AMI: %v, %v", region, imageID)

	// an untagged copy is still usable, keep it
	if err := p.CreateTags(ctx, region, []string{imageID}, tags); err != nil {
		plog.Warningf("could not tag %v in %v: %v", imageID, region, err)
	}
	return replicaResult{record: ImageRecord{Region: region, ImageID: imageID}}
}
