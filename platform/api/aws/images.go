// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pborman/uuid"

	"github.com/flatcar/amiupload/lang/maps"
	"github.com/flatcar/amiupload/util"
)

const (
	RootDeviceName = "/dev/xvda"
	RootVolumeType = ec2.VolumeTypeGp3
)

// ephemeralDevices are mapped on every image whether or not the
// instance type has that many instance store volumes.
var ephemeralDevices = []struct {
	device      string
	virtualName string
}{
	{"/dev/sdb", "ephemeral0"},
	{"/dev/sdc", "ephemeral1"},
	{"/dev/sdd", "ephemeral2"},
	{"/dev/sde", "ephemeral3"},
}

var amiArches = map[string]string{
	"x86_64-linux": ec2.ArchitectureValuesX8664,
}

// AmiArchForSystem maps an image's system tag to an EC2 architecture.
func AmiArchForSystem(system string) (string, error) {
	arch, ok := amiArches[system]
	if !ok {
		return "", fmt.Errorf("no AMI architecture for system %q", system)
	}
	return arch, nil
}

// ImageSpec describes a machine image registered from a snapshot.
type ImageSpec struct {
	Name         string
	Description  string
	Architecture string
	SnapshotID   string
	RootSizeGiB  int64
}

// ImageNotReadyError reports an image that failed instead of becoming
// available.
type ImageNotReadyError struct {
	ImageID string
	State   string
	Reason  string
}

func (e *ImageNotReadyError) Error() string {
	return fmt.Sprintf("image %v is %v: %v", e.ImageID, e.State, e.Reason)
}

func blockDeviceMappings(spec *ImageSpec) []*ec2.BlockDeviceMapping {
	mappings := []*ec2.BlockDeviceMapping{
		{
			DeviceName: aws.String(RootDeviceName),
			Ebs: &ec2.EbsBlockDevice{
				DeleteOnTermination: aws.Bool(true),
				SnapshotId:          aws.String(spec.SnapshotID),
				VolumeSize:          aws.Int64(spec.RootSizeGiB),
				VolumeType:          aws.String(RootVolumeType),
			},
		},
	}
	for _, d := range ephemeralDevices {
		mappings = append(mappings, &ec2.BlockDeviceMapping{
			DeviceName:  aws.String(d.device),
			VirtualName: aws.String(d.virtualName),
		})
	}
	return mappings
}

// RegisterImage registers an HVM image booting from spec.SnapshotID in
// region and returns the new image id.
func (a *API) RegisterImage(ctx context.Context, region string, spec *ImageSpec) (string, error) {
	input := &ec2.RegisterImageInput{
		Name:                aws.String(spec.Name),
		Architecture:        aws.String(spec.Architecture),
		EnaSupport:          aws.Bool(true),
		VirtualizationType:  aws.String(ec2.VirtualizationTypeHvm),
		RootDeviceName:      aws.String(RootDeviceName),
		BlockDeviceMappings: blockDeviceMappings(spec),
	}
	if spec.Description != "" {
		input.Description = aws.String(spec.Description)
	}

	out, err := a.ec2For(region).RegisterImageWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("registering image %q in %v: %w", spec.Name, region, err)
	}
	return aws.StringValue(out.ImageId), nil
}

// WaitForImage polls imageID in region until it is available.
func (a *API) WaitForImage(ctx context.Context, region, imageID string) error {
	client := a.ec2For(region)
	err := util.WaitUntilReady(ctx, a.opts.ImageTimeout, a.opts.PollInterval, func(ctx context.Context) (bool, error) {
		out, err := client.DescribeImagesWithContext(ctx, &ec2.DescribeImagesInput{
			ImageIds: aws.StringSlice([]string{imageID}),
		})
		if err != nil {
			if isNotFound(err) || isRetryable(err) {
				plog.Debugf("describing image %v: %v", imageID, err)
				return false, nil
			}
			return false, fmt.Errorf("describing image %v in %v: %w", imageID, region, err)
		}
		if len(out.Images) == 0 {
			return false, nil
		}

		image := out.Images[0]
		switch state := aws.StringValue(image.State); state {
		case ec2.ImageStateAvailable:
			return true, nil
		case ec2.ImageStateFailed, ec2.ImageStateInvalid, ec2.ImageStateDeregistered, ec2.ImageStateError:
			reason := ""
			if image.StateReason != nil {
				reason = aws.StringValue(image.StateReason.Message)
			}
			return false, &ImageNotReadyError{ImageID: imageID, State: state, Reason: reason}
		default:
			plog.Debugf("image %v in %v is %v", imageID, region, state)
			return false, nil
		}
	})
	if errors.Is(err, util.ErrTimeout) {
		return &ImageNotReadyError{
			ImageID: imageID,
			State:   "pending",
			Reason:  fmt.Sprintf("not available after %v", a.opts.ImageTimeout),
		}
	}
	return err
}

// CopyImage copies srcImageID from srcRegion into dstRegion and returns
// the id of the copy. The copy is usually still pending on return.
func (a *API) CopyImage(ctx context.Context, srcRegion, srcImageID, dstRegion, name, description string) (string, error) {
	input := &ec2.CopyImageInput{
		Name:          aws.String(name),
		SourceImageId: aws.String(srcImageID),
		SourceRegion:  aws.String(srcRegion),
		ClientToken:   aws.String(uuid.New()),
	}
	if description != "" {
		input.Description = aws.String(description)
	}

	start := time.Now()
	out, err := a.ec2For(dstRegion).CopyImageWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("copying image %v from %v to %v: %w", srcImageID, srcRegion, dstRegion, err)
	}
	plog.Debugf("CopyImage to %v took %v", dstRegion, time.Since(start))
	return aws.StringValue(out.ImageId), nil
}

// CreateTags applies tags to resources in region. Tagging is idempotent;
// reapplying the same tags changes nothing.
func (a *API) CreateTags(ctx context.Context, region string, resources []string, tags map[string]string) error {
	input := &ec2.CreateTagsInput{
		Resources: aws.StringSlice(resources),
	}
	for _, k := range maps.SortedKeys(tags) {
		input.Tags = append(input.Tags, &ec2.Tag{
			Key:   aws.String(k),
			Value: aws.String(tags[k]),
		})
	}
	if _, err := a.ec2For(region).CreateTagsWithContext(ctx, input); err != nil {
		return fmt.Errorf("tagging %v in %v: %w", resources, region, err)
	}
	return nil
}
