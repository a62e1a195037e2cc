// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flatcar/amiupload/image"
	"github.com/flatcar/amiupload/image/imagetest"
	"github.com/flatcar/amiupload/platform/api/aws"
	"github.com/flatcar/amiupload/util"
)

type tagCall struct {
	region    string
	resources []string
	tags      map[string]string
}

// fakeProvider records every call and fails on demand.
type fakeProvider struct {
	defaultRegion string
	regions       []string
	listErr       error

	uploadErr   error
	snapshotErr error
	registerErr error
	imageErr    error
	copyErrs    map[string]error
	copyDelays  map[string]time.Duration
	tagErrs     map[string]error

	mu         sync.Mutex
	calls      []string
	registered *aws.ImageSpec
	copies     map[string]string
	tagCalls   []tagCall
}

func (f *fakeProvider) record(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) DefaultRegion() string {
	return f.defaultRegion
}

func (f *fakeProvider) ListRegions(ctx context.Context) ([]string, error) {
	f.record("ListRegions")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.regions, nil
}

func (f *fakeProvider) UploadSnapshot(ctx context.Context, region, path, description string, progress util.Progress) (string, error) {
	f.record("UploadSnapshot %s %s", region, description)
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	progress.Start(1)
	progress.Add(1)
	progress.Finish()
	return "snap-home", nil
}

func (f *fakeProvider) WaitForSnapshot(ctx context.Context, region, snapshotID string) error {
	f.record("WaitForSnapshot %s %s", region, snapshotID)
	return f.snapshotErr
}

func (f *fakeProvider) RegisterImage(ctx context.Context, region string, spec *aws.ImageSpec) (string, error) {
	f.record("RegisterImage %s %s", region, spec.Name)
	if f.registerErr != nil {
		return "", f.registerErr
	}
	f.mu.Lock()
	f.registered = spec
	f.mu.Unlock()
	return "ami-" + region, nil
}

func (f *fakeProvider) WaitForImage(ctx context.Context, region, imageID string) error {
	f.record("WaitForImage %s %s", region, imageID)
	return f.imageErr
}

func (f *fakeProvider) CopyImage(ctx context.Context, srcRegion, srcImageID, dstRegion, name, description string) (string, error) {
	f.record("CopyImage %s %s %s %s", srcRegion, srcImageID, dstRegion, name)
	if d := f.copyDelays[dstRegion]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.copyErrs[dstRegion]; err != nil {
		return "", err
	}
	id := "ami-" + dstRegion
	f.mu.Lock()
	if f.copies == nil {
		f.copies = make(map[string]string)
	}
	f.copies[dstRegion] = id
	f.mu.Unlock()
	return id, nil
}

func (f *fakeProvider) CreateTags(ctx context.Context, region string, resources []string, tags map[string]string) error {
	f.record("CreateTags %s %v", region, resources)
	f.mu.Lock()
	f.tagCalls = append(f.tagCalls, tagCall{region: region, resources: resources, tags: tags})
	f.mu.Unlock()
	return f.tagErrs[region]
}

// testImage writes an image directory with a tiny GPT disk and returns
// its loaded metadata.
func testImage(t *testing.T, logicalBytes uint64) *image.Info {
	t.Helper()
	dir := t.TempDir()

	file := filepath.Join(dir, "disk.raw")
	require.NoError(t, os.WriteFile(file, imagetest.GPTDisk(128), 0644))

	return &image.Info{
		Label:        "beta",
		System:       image.SystemX86_64Linux,
		LogicalBytes: logicalBytes,
		File:         file,
	}
}
