// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coreos/pkg/capnslog"
)

const (
	// SupportDir and InfoFile locate the metadata written next to a
	// built image: <dir>/nix-support/image-info.json.
	SupportDir = "nix-support"
	InfoFile   = "image-info.json"

	SystemX86_64Linux = "x86_64-linux"
)

var (
	plog = capnslog.NewPackageLogger("github.com/flatcar/amiupload", "image")

	// ErrUnsupportedSystem is returned for images built for a system
	// that cannot be published.
	ErrUnsupportedSystem = errors.New("unsupported system")

	supportedSystems = map[string]bool{
		SystemX86_64Linux: true,
	}
)

// Info is the metadata the image build writes alongside the raw disk.
type Info struct {
	Label        string `json:"label"`
	System       string `json:"system"`
	LogicalBytes uint64 `json:"logical_bytes,string"`
	File         string `json:"file"`
}

// InfoPath returns the metadata path for an image directory.
func InfoPath(dir string) string {
	return filepath.Join(dir, SupportDir, InfoFile)
}

// Load reads and validates the metadata of the image in dir. A relative
// image file is resolved against the directory holding the metadata.
func Load(dir string) (*Info, error) {
	path := InfoPath(dir)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("malformed image directory, could not open %q: %w", path, err)
	}
	defer f.Close()

	var info Info
	if err := json.NewDecoder(f).Decode(&info); err != nil {
		return nil, fmt.Errorf("error parsing %v: %w", path, err)
	}

	if info.File != "" && !filepath.IsAbs(info.File) {
		info.File = filepath.Join(filepath.Dir(path), info.File)
	}
	plog.Debugf("read image info: %+v", info)

	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &info, nil
}

// Validate checks the fields needed to publish the image.
func (i *Info) Validate() error {
	if !supportedSystems[i.System] {
		return fmt.Errorf("%w '%s'; only %s is supported", ErrUnsupportedSystem, i.System, SystemX86_64Linux)
	}
	if i.Label == "" {
		return fmt.Errorf("image info is missing a label")
	}
	if i.File == "" {
		return fmt.Errorf("image info is missing the image file")
	}
	return nil
}
