// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish turns a raw disk image into AMIs in a set of regions:
// upload and register in a home region, then copy everywhere else.
package publish

import (
	"context"

	"github.com/coreos/pkg/capnslog"

	"github.com/flatcar/amiupload/image"
	"github.com/flatcar/amiupload/platform/api/aws"
	"github.com/flatcar/amiupload/util"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/amiupload", "publish")

// Provider is the cloud the images are published to. Every call names the
// region it acts in.
type Provider interface {
	RegionLister

	DefaultRegion() string
	UploadSnapshot(ctx context.Context, region, path, description string, progress util.Progress) (string, error)
	WaitForSnapshot(ctx context.Context, region, snapshotID string) error
	RegisterImage(ctx context.Context, region string, spec *aws.ImageSpec) (string, error)
	WaitForImage(ctx context.Context, region, imageID string) error
	CopyImage(ctx context.Context, srcRegion, srcImageID, dstRegion, name, description string) (string, error)
	CreateTags(ctx context.Context, region string, resources []string, tags map[string]string) error
}

var _ Provider = (*aws.API)(nil)

type Options struct {
	// Name overrides the derived image name.
	Name string
	// RootSizeGiB overrides the root volume size; 0 derives it from the
	// image's logical size.
	RootSizeGiB uint64
	// Parallel bounds concurrent copies, DefaultParallel if unset.
	Parallel int

	UploadProgress util.Progress
	CopyProgress   util.Progress
}

// Check runs every local check on the image: its metadata, its system
// and the partition table of the disk itself.
func Check(info *image.Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if _, err := aws.AmiArchForSystem(info.System); err != nil {
		return err
	}
	if _, err := image.ValidateDisk(info.File); err != nil {
		return err
	}
	return nil
}

// Run publishes the image described by info to the regions sel resolves
// to. All local checks happen before the first remote call. The returned
// report always has the home region; replica failures do not fail Run.
func Run(ctx context.Context, p Provider, info *image.Info, sel RegionSelector, opts *Options) (*Report, error) {
	if opts == nil {
		opts = &Options{}
	}

	if err := Check(info); err != nil {
		return nil, err
	}

	regions, err := Resolve(ctx, sel, p.DefaultRegion(), p)
	if err != nil {
		return nil, err
	}
	plog.Infof("uploading to %v, copying to %v", regions.Home, regions.Replicas)

	home, err := PublishHome(ctx, p, info, regions.Home, opts)
	if err != nil {
		return nil, err
	}

	replicas, failures := Replicate(ctx, p, home, imageName(info, opts), Description(info), nameTags(info), regions.Replicas, opts)

	report := Aggregate(home, replicas)
	report.Failed = failures
	return report, nil
}
