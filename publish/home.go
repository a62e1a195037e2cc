// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"
	"fmt"
	"regexp"

	"github.com/dustin/go-humanize"

	"github.com/flatcar/amiupload/image"
	"github.com/flatcar/amiupload/platform/api/aws"
	"github.com/flatcar/amiupload/util"
)

const (
	// NameTag carries the derived image name on every published image,
	// even when the image itself was given another name.
	NameTag = "NixOSName"

	bytesPerGiB = 1 << 30
)

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9()\\./_-]`)

// RootSizeGiB returns the root volume size for an image: override if it
// is set, else the logical size rounded up to whole GiB.
func RootSizeGiB(logicalBytes, override uint64) uint64 {
	if override > 0 {
		return override
	}
	size := logicalBytes / bytesPerGiB
	if logicalBytes%bytesPerGiB != 0 {
		size++
	}
	return size
}

// DerivedName is the deterministic image name for info.
func DerivedName(info *image.Info) string {
	name := fmt.Sprintf("NixOS-%s-%s", info.Label, info.System)
	return invalidNameChars.ReplaceAllLiteralString(name, "_")
}

// Description is the image description for info.
func Description(info *image.Info) string {
	return fmt.Sprintf("NixOS %s %s", info.Label, info.System)
}

// imageName is the name used for the home image and all copies.
func imageName(info *image.Info, opts *Options) string {
	if opts.Name != "" {
		return opts.Name
	}
	return DerivedName(info)
}

func nameTags(info *image.Info) map[string]string {
	return map[string]string{NameTag: DerivedName(info)}
}

// PublishHome uploads the image to home, waits for the snapshot, registers
// and tags the image, and waits for it to become available for copying.
//
// Nothing created here is cleaned up when a later step fails: a failed run
// can leave a snapshot, or a snapshot and an image, behind in home.
func PublishHome(ctx context.Context, p Provider, info *image.Info, home string, opts *Options) (ImageRecord, error) {
	arch, err := aws.AmiArchForSystem(info.System)
	if err != nil {
		return ImageRecord{}, err
	}

	plog.Noticef("uploading snapshot of %v (%v) to region %v",
		info.File, humanize.IBytes(info.LogicalBytes), home)
	snapshotID, err := p.UploadSnapshot(ctx, home, info.File, info.Label, util.OrNoProgress(opts.UploadProgress))
	if err != nil {
		return ImageRecord{}, fmt.Errorf("uploading snapshot to %v: %w", home, err)
	}

	plog.Notice("waiting for snapshot upload to finalize")
	if err := p.WaitForSnapshot(ctx, home, snapshotID); err != nil {
		plog.Warningf("snapshot %v in %v is left in place", snapshotID, home)
		return ImageRecord{}, fmt.Errorf("waiting for snapshot %v: %w", snapshotID, err)
	}

	spec := &aws.ImageSpec{
		Name:         imageName(info, opts),
		Description:  Description(info),
		Architecture: arch,
		SnapshotID:   snapshotID,
		RootSizeGiB:  int64(RootSizeGiB(info.LogicalBytes, opts.RootSizeGiB)),
	}
	plog.Noticef("registering AMI %q in %v with a %d GiB root volume", spec.Name, home, spec.RootSizeGiB)
	imageID, err := p.RegisterImage(ctx, home, spec)
	if err != nil {
		plog.Warningf("snapshot %v in %v is left in place", snapshotID, home)
		return ImageRecord{}, err
	}

	if err := p.CreateTags(ctx, home, []string{imageID, snapshotID}, nameTags(info)); err != nil {
		plog.Warningf("image %v and snapshot %v in %v are left in place", imageID, snapshotID, home)
		return ImageRecord{}, err
	}
	plog.Noticef("registered ami: region=%v,id=%v", home, imageID)

	if err := p.WaitForImage(ctx, home, imageID); err != nil {
		plog.Warningf("image %v and snapshot %v in %v are left in place", imageID, snapshotID, home)
		return ImageRecord{}, fmt.Errorf("waiting for image %v: %w", imageID, err)
	}

	return ImageRecord{Region: home, ImageID: imageID}, nil
}
