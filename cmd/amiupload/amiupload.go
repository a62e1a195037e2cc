// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/coreos/pkg/capnslog"
	"github.com/spf13/cobra"

	"github.com/flatcar/amiupload/cli"
)

var (
	plog = capnslog.NewPackageLogger("github.com/flatcar/amiupload", "amiupload")

	root = &cobra.Command{
		Use:   "amiupload [flags] <image-dir>",
		Short: "Upload a raw disk image as an AMI in one or more EC2 regions",
		Long: `Upload the raw disk image described by <image-dir>/nix-support/image-info.json
as an EBS snapshot, register it as an AMI in the home region and copy it to the
other requested regions. The resulting AMI ids are printed on stdout.

Every flag can also be set with an AMIUPLOAD_<FLAG> environment variable,
e.g. AMIUPLOAD_REGIONS=us-east-1,eu-west-1.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runUpload,
	}
)

func main() {
	cli.Execute(root)
}
