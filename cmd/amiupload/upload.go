// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flatcar/amiupload/image"
	"github.com/flatcar/amiupload/platform/api/aws"
	"github.com/flatcar/amiupload/publish"
	"github.com/flatcar/amiupload/util"
)

var (
	imageName       string
	showProgress    bool
	regions         string
	region          string
	rootSize        uint64
	outputFormat    string
	profileName     string
	credentialsFile string
	parallel        int
	uploadWorkers   int
	snapshotTimeout time.Duration
	pollInterval    time.Duration
	strict          bool

	envErr error
)

func init() {
	sv := root.Flags().StringVar

	sv(&imageName, "name", "", "AMI name (default: derived from the image label and system)")
	sv(&regions, "regions", publish.AllRegions, "comma separated regions to publish to, the first is the home region; or 'all'")
	sv(&region, "region", "", "default AWS region, used as the home region for 'all'")
	sv(&outputFormat, "output-format", publish.FormatJSON, "output format")
	sv(&profileName, "profile", "", "AWS profile name")
	sv(&credentialsFile, "credentials-file", "", "AWS credentials file")
	root.Flags().BoolVar(&showProgress, "progress", false, "draw progress bars on stderr")
	root.Flags().Uint64Var(&rootSize, "root-size", 0, "root volume size in GiB; 0 sizes it to the image, rounded up to whole GiB")
	root.Flags().IntVar(&parallel, "parallel", publish.DefaultParallel, "number of regions to copy to at once")
	root.Flags().IntVar(&uploadWorkers, "upload-workers", aws.DefaultUploadWorkers, "number of snapshot blocks to upload at once")
	root.Flags().DurationVar(&snapshotTimeout, "snapshot-timeout", aws.DefaultSnapshotTimeout, "how long to wait for the snapshot to complete")
	root.Flags().DurationVar(&pollInterval, "poll-interval", aws.DefaultPollInterval, "how often to check snapshot and AMI state")
	root.Flags().BoolVar(&strict, "strict", false, "exit with an error if the AMI could not be copied to every region")

	// the log flags live on root too, so this runs after parsing and
	// before cli starts logging
	cobra.OnInitialize(func() {
		envErr = applyEnv(newEnv(), root.Flags())
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	if envErr != nil {
		return envErr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, err := image.Load(args[0])
	if err != nil {
		return err
	}
	if err := publish.CheckFormat(outputFormat); err != nil {
		return err
	}
	sel := publish.ParseRegionSelector(regions)

	api, err := aws.New(&aws.Options{
		Region:          region,
		Profile:         profileName,
		CredentialsFile: credentialsFile,
		PollInterval:    pollInterval,
		SnapshotTimeout: snapshotTimeout,
		UploadWorkers:   uploadWorkers,
	})
	if err != nil {
		return fmt.Errorf("could not create AWS client: %w", err)
	}

	report, err := publishImage(ctx, api, info, sel)
	if err != nil {
		return err
	}
	if err := report.Render(cmd.OutOrStdout(), outputFormat); err != nil {
		return err
	}

	if strict && len(report.Failed) > 0 {
		return fmt.Errorf("could not copy the AMI to %d of the requested regions", len(report.Failed))
	}
	return nil
}

type provider interface {
	publish.Provider
	PreflightCheck(ctx context.Context) error
}

func publishImage(ctx context.Context, p provider, info *image.Info, sel publish.RegionSelector) (*publish.Report, error) {
	if err := publish.Check(info); err != nil {
		return nil, err
	}
	if err := publish.CheckRegions(sel, p.DefaultRegion()); err != nil {
		return nil, err
	}

	plog.Debugf("running AWS preflight check, default region: %q", p.DefaultRegion())
	if err := p.PreflightCheck(ctx); err != nil {
		return nil, fmt.Errorf("could not complete AWS preflight check: %w", err)
	}

	opts := &publish.Options{
		Name:        imageName,
		RootSizeGiB: rootSize,
		Parallel:    parallel,
	}
	if showProgress {
		opts.UploadProgress = util.NewBar(os.Stderr, "snapshot upload", true)
		opts.CopyProgress = util.NewBar(os.Stderr, "copying ami", false)
	}

	return publish.Run(ctx, p, info, sel, opts)
}
