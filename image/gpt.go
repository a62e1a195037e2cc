// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rekby/gpt"
)

// SectorSize is the logical sector size raw images are built with.
const SectorSize = 512

// ErrNotGPT is returned for files without a valid primary GPT.
var ErrNotGPT = errors.New("not a GPT partitioned disk image")

// ValidateDisk reads the primary GPT of the raw disk image at path.
func ValidateDisk(path string) (*gpt.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not read disk header for disk '%s': %w", path, err)
	}
	defer f.Close()

	table, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("could not read disk header for disk '%s'. Image must be a valid raw disk image: %w", path, err)
	}
	hdr := table.Header
	plog.Debugf("%s: GPT revision %#x, %d partition entries, usable LBAs %d-%d",
		path, hdr.Revision, hdr.PartitionsArrLen, hdr.FirstUsableLBA, hdr.LastUsableLBA)
	return &table, nil
}

// ReadTable reads and checksums the primary GPT header at LBA 1 of r and
// the partition entries it points to.
func ReadTable(r io.ReadSeeker) (gpt.Table, error) {
	table, err := gpt.ReadTable(r, SectorSize)
	if err != nil {
		return gpt.Table{}, fmt.Errorf("%w: %v", ErrNotGPT, err)
	}

	hdr := table.Header
	if hdr.HeaderStartLBA != 1 {
		return gpt.Table{}, fmt.Errorf("%w: primary header claims to be at LBA %d", ErrNotGPT, hdr.HeaderStartLBA)
	}
	if hdr.FirstUsableLBA > hdr.LastUsableLBA {
		return gpt.Table{}, fmt.Errorf("%w: first usable LBA %d is past last usable LBA %d",
			ErrNotGPT, hdr.FirstUsableLBA, hdr.LastUsableLBA)
	}
	return table, nil
}
