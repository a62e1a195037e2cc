// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ebs"
	"github.com/aws/aws-sdk-go/service/ebs/ebsiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
	"github.com/coreos/pkg/capnslog"

	"github.com/flatcar/amiupload/util"
)

var (
	plog = capnslog.NewPackageLogger("github.com/flatcar/amiupload", "platform/api/aws")
)

const (
	// globalRegion is the default region when none is configured.
	globalRegion = "us-east-1"

	DefaultPollInterval    = 5 * time.Second
	DefaultSnapshotTimeout = time.Hour
	DefaultImageTimeout    = 30 * time.Minute
	DefaultUploadWorkers   = 32

	preflightAttempts = 3
)

type Options struct {
	// Region overrides the default region from the shared config and
	// the environment.
	Region          string
	Profile         string
	CredentialsFile string

	PollInterval    time.Duration
	SnapshotTimeout time.Duration
	ImageTimeout    time.Duration
	UploadWorkers   int
}

// API talks to EC2 and friends. Every region scoped call builds a client
// for that region from the shared session.
type API struct {
	opts          *Options
	defaultRegion string

	ec2For func(region string) ec2iface.EC2API
	ebsFor func(region string) ebsiface.EBSAPI
	ssmFor func(region string) ssmiface.SSMAPI
	stsFor func(region string) stsiface.STSAPI
}

// New creates a new AWS API wrapper. It uses credentials from any of the
// standard credentials sources, including the environment and the
// profile configured in ~/.aws. No region is required up front; calls
// name the region they act on.
func New(opts *Options) (*API, error) {
	var awsCfg aws.Config
	if opts.Region != "" {
		awsCfg.Region = aws.String(opts.Region)
	}
	if opts.CredentialsFile != "" {
		awsCfg.Credentials = credentials.NewSharedCredentials(opts.CredentialsFile, opts.Profile)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Profile:           opts.Profile,
		Config:            awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	regional := func(region string) *aws.Config {
		return aws.NewConfig().WithRegion(region)
	}
	api := &API{
		opts:          withDefaults(opts),
		defaultRegion: DefaultRegion(opts.Region, sess.Config),
		ec2For: func(region string) ec2iface.EC2API {
			return ec2.New(sess, regional(region))
		},
		ebsFor: func(region string) ebsiface.EBSAPI {
			return ebs.New(sess, regional(region))
		},
		ssmFor: func(region string) ssmiface.SSMAPI {
			return ssm.New(sess, regional(region))
		},
		stsFor: func(region string) stsiface.STSAPI {
			return sts.New(sess, regional(region))
		},
	}
	return api, nil
}

// DefaultRegion picks the region to use when none is named explicitly:
// the override if set, else whatever the SDK loaded from AWS_REGION or
// the shared config profile, else us-east-1.
func DefaultRegion(override string, cfg *aws.Config) string {
	if override != "" {
		return override
	}
	if cfg != nil {
		if region := aws.StringValue(cfg.Region); region != "" {
			return region
		}
	}
	plog.Noticef("no AWS region configured, defaulting to %v", globalRegion)
	return globalRegion
}

func withDefaults(opts *Options) *Options {
	o := *opts
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.SnapshotTimeout <= 0 {
		o.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if o.ImageTimeout <= 0 {
		o.ImageTimeout = DefaultImageTimeout
	}
	if o.UploadWorkers <= 0 {
		o.UploadWorkers = DefaultUploadWorkers
	}
	return &o
}

// DefaultRegion returns the region resolved from the options and the
// environment. It is never empty.
func (a *API) DefaultRegion() string {
	return a.defaultRegion
}

// PreflightCheck validates that the credentials work before any real
// work is attempted.
func (a *API) PreflightCheck(ctx context.Context) error {
	client := a.stsFor(a.defaultRegion)

	var out *sts.GetCallerIdentityOutput
	err := util.RetryConditional(ctx, preflightAttempts, a.opts.PollInterval, isRetryable, func() error {
		var err error
		out, err = client.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
		return err
	})
	if err != nil {
		return fmt.Errorf("checking AWS credentials: %w", err)
	}
	plog.Debugf("authenticated as %v in account %v", aws.StringValue(out.Arn), aws.StringValue(out.Account))
	return nil
}
