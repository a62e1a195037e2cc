// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ebs"
	"github.com/aws/aws-sdk-go/service/ebs/ebsiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
)

// fakeSSM serves a fixed list of pages, each linked to the next by a
// continuation token.
type fakeSSM struct {
	ssmiface.SSMAPI

	pages  [][]string
	failAt int // 1-based page number that errors, 0 for none
	calls  []*ssm.GetParametersByPathInput
}

func (f *fakeSSM) GetParametersByPathWithContext(_ aws.Context, in *ssm.GetParametersByPathInput, _ ...request.Option) (*ssm.GetParametersByPathOutput, error) {
	f.calls = append(f.calls, in)
	page := len(f.calls)
	if page == f.failAt {
		return nil, fmt.Errorf("AccessDeniedException: page %d", page)
	}
	if page > len(f.pages) {
		return nil, fmt.Errorf("page %d requested but only %d exist", page, len(f.pages))
	}

	out := &ssm.GetParametersByPathOutput{}
	for _, r := range f.pages[page-1] {
		out.Parameters = append(out.Parameters, &ssm.Parameter{
			Name:  aws.String(RegionsParameterPath + "/" + r),
			Value: aws.String(r),
		})
	}
	if page < len(f.pages) {
		out.NextToken = aws.String(fmt.Sprintf("token-%d", page))
	}
	return out, nil
}

type putCall struct {
	index    int64
	data     []byte
	checksum string
}

// fakeEBS accepts snapshot blocks, optionally failing some of them.
type fakeEBS struct {
	ebsiface.EBSAPI

	mu       sync.Mutex
	start    *ebs.StartSnapshotInput
	puts     []putCall
	complete *ebs.CompleteSnapshotInput
	// errors returned, in order, for puts of a block index
	putErrs map[int64][]error
}

func (f *fakeEBS) StartSnapshotWithContext(_ aws.Context, in *ebs.StartSnapshotInput, _ ...request.Option) (*ebs.StartSnapshotOutput, error) {
	f.start = in
	return &ebs.StartSnapshotOutput{
		SnapshotId: aws.String("snap-0123"),
		BlockSize:  aws.Int64(snapshotBlockSize),
		Status:     aws.String(ebs.StatusPending),
	}, nil
}

func (f *fakeEBS) PutSnapshotBlockWithContext(_ aws.Context, in *ebs.PutSnapshotBlockInput, _ ...request.Option) (*ebs.PutSnapshotBlockOutput, error) {
	index := aws.Int64Value(in.BlockIndex)

	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.putErrs[index]; len(errs) > 0 {
		f.putErrs[index] = errs[1:]
		return nil, errs[0]
	}
	data, err := io.ReadAll(in.BlockData)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, putCall{index: index, data: data, checksum: aws.StringValue(in.Checksum)})
	return &ebs.PutSnapshotBlockOutput{Checksum: in.Checksum}, nil
}

func (f *fakeEBS) CompleteSnapshotWithContext(_ aws.Context, in *ebs.CompleteSnapshotInput, _ ...request.Option) (*ebs.CompleteSnapshotOutput, error) {
	f.complete = in
	return &ebs.CompleteSnapshotOutput{Status: aws.String(ebs.StatusCompleted)}, nil
}

type describeResult struct {
	state   string
	message string
	err     error
}

// fakeEC2 replays describe results and records mutating calls.
type fakeEC2 struct {
	ec2iface.EC2API

	snapshots []describeResult
	images    []describeResult

	register *ec2.RegisterImageInput
	copies   []*ec2.CopyImageInput
	copyErr  error
	tags     []*ec2.CreateTagsInput
}

func (f *fakeEC2) DescribeSnapshotsWithContext(_ aws.Context, in *ec2.DescribeSnapshotsInput, _ ...request.Option) (*ec2.DescribeSnapshotsOutput, error) {
	if len(f.snapshots) == 0 {
		return &ec2.DescribeSnapshotsOutput{}, nil
	}
	r := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &ec2.DescribeSnapshotsOutput{
		Snapshots: []*ec2.Snapshot{{
			SnapshotId:   in.SnapshotIds[0],
			State:        aws.String(r.state),
			StateMessage: aws.String(r.message),
			Progress:     aws.String("50%"),
		}},
	}, nil
}

func (f *fakeEC2) DescribeImagesWithContext(_ aws.Context, in *ec2.DescribeImagesInput, _ ...request.Option) (*ec2.DescribeImagesOutput, error) {
	if len(f.images) == 0 {
		return &ec2.DescribeImagesOutput{}, nil
	}
	r := f.images[0]
	if len(f.images) > 1 {
		f.images = f.images[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &ec2.DescribeImagesOutput{
		Images: []*ec2.Image{{
			ImageId:     in.ImageIds[0],
			State:       aws.String(r.state),
			StateReason: &ec2.StateReason{Message: aws.String(r.message)},
		}},
	}, nil
}

func (f *fakeEC2) RegisterImageWithContext(_ aws.Context, in *ec2.RegisterImageInput, _ ...request.Option) (*ec2.RegisterImageOutput, error) {
	f.register = in
	return &ec2.RegisterImageOutput{ImageId: aws.String("ami-home")}, nil
}

func (f *fakeEC2) CopyImageWithContext(_ aws.Context, in *ec2.CopyImageInput, _ ...request.Option) (*ec2.CopyImageOutput, error) {
	f.copies = append(f.copies, in)
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	return &ec2.CopyImageOutput{ImageId: aws.String("ami-copy")}, nil
}

func (f *fakeEC2) CreateTagsWithContext(_ aws.Context, in *ec2.CreateTagsInput, _ ...request.Option) (*ec2.CreateTagsOutput, error) {
	f.tags = append(f.tags, in)
	return &ec2.CreateTagsOutput{}, nil
}

type fakeSTS struct {
	stsiface.STSAPI
	errs  []error // returned by successive calls
	calls int
}

func (f *fakeSTS) GetCallerIdentityWithContext(aws.Context, *sts.GetCallerIdentityInput, ...request.Option) (*sts.GetCallerIdentityOutput, error) {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws:iam::123456789012:user/builder"),
	}, nil
}

type fakes struct {
	ec2 map[string]*fakeEC2
	ebs *fakeEBS
	ssm *fakeSSM
	sts *fakeSTS

	regions []string // regions clients were requested for, in order
}

func newTestAPI(f *fakes) *API {
	if f.ec2 == nil {
		f.ec2 = map[string]*fakeEC2{}
	}
	ec2For := func(region string) *fakeEC2 {
		c, ok := f.ec2[region]
		if !ok {
			c = &fakeEC2{}
			f.ec2[region] = c
		}
		return c
	}
	return &API{
		opts: withDefaults(&Options{
			PollInterval:    time.Millisecond,
			SnapshotTimeout: time.Second,
			ImageTimeout:    time.Second,
			UploadWorkers:   4,
		}),
		defaultRegion: "us-east-1",
		ec2For: func(region string) ec2iface.EC2API {
			f.regions = append(f.regions, region)
			return ec2For(region)
		},
		ebsFor: func(region string) ebsiface.EBSAPI {
			f.regions = append(f.regions, region)
			return f.ebs
		},
		ssmFor: func(region string) ssmiface.SSMAPI {
			f.regions = append(f.regions, region)
			return f.ssm
		},
		stsFor: func(region string) stsiface.STSAPI {
			f.regions = append(f.regions, region)
			return f.sts
		},
	}
}
