// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ebs"
	"github.com/aws/aws-sdk-go/service/ebs/ebsiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/dustin/go-humanize"
	"github.com/pborman/uuid"

	"github.com/flatcar/amiupload/lang/worker"
	"github.com/flatcar/amiupload/util"
)

const (
	// EBS direct APIs only accept 512 KiB blocks.
	snapshotBlockSize = 512 * 1024
	gib               = 1 << 30

	blockAttempts = 5
	// minutes before EBS gives up on a snapshot that is never completed
	startSnapshotTimeout = 120
)

// SnapshotNotReadyError reports a snapshot that ended up in a state
// other than completed.
type SnapshotNotReadyError struct {
	SnapshotID string
	State      string
	Reason     string
}

func (e *SnapshotNotReadyError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("snapshot %v is %v", e.SnapshotID, e.State)
	}
	return fmt.Sprintf("snapshot %v is %v: %v", e.SnapshotID, e.State, e.Reason)
}

func isRetryable(err error) bool {
	return request.IsErrorRetryable(err) || request.IsErrorThrottle(err)
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "InvalidSnapshot.NotFound", "InvalidAMIID.NotFound":
			return true
		}
	}
	return false
}

// UploadSnapshot uploads the file at path to a new EBS snapshot in region
// and returns its id once every block is written. The snapshot may still
// be pending when this returns; see WaitForSnapshot.
func (a *API) UploadSnapshot(ctx context.Context, region, path, description string, progress util.Progress) (string, error) {
	u := &snapshotUploader{
		ebs:        a.ebsFor(region),
		workers:    a.opts.UploadWorkers,
		retryDelay: time.Second,
		progress:   util.OrNoProgress(progress),
	}
	return u.upload(ctx, path, description)
}

type snapshotUploader struct {
	ebs        ebsiface.EBSAPI
	workers    int
	retryDelay time.Duration
	progress   util.Progress
}

func (u *snapshotUploader) upload(ctx context.Context, path, description string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("opening image: %w", err)
	}
	size := st.Size()
	if size == 0 {
		return "", fmt.Errorf("image %v is empty", path)
	}
	volumeGiB := (size + gib - 1) / gib

	input := &ebs.StartSnapshotInput{
		VolumeSize:  aws.Int64(volumeGiB),
		ClientToken: aws.String(uuid.New()),
		Timeout:     aws.Int64(startSnapshotTimeout),
	}
	if description != "" {
		input.Description = aws.String(description)
	}
	start, err := u.ebs.StartSnapshotWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("starting snapshot: %w", err)
	}
	snapshotID := aws.StringValue(start.SnapshotId)
	blockSize := aws.Int64Value(start.BlockSize)
	if blockSize == 0 {
		blockSize = snapshotBlockSize
	}
	blocks := (size + blockSize - 1) / blockSize
	plog.Infof("uploading %v (%v GiB volume) to snapshot %v in %d blocks",
		humanize.IBytes(uint64(size)), volumeGiB, snapshotID, blocks)

	// one slot per block, nil for blocks that are all zeros and skipped
	digests := make([][]byte, blocks)

	u.progress.Start(size)
	defer u.progress.Finish()

	wg := worker.NewWorkerGroup(ctx, u.workers)
	for i := int64(0); i < blocks; i++ {
		i := i
		err := wg.Start(func(ctx context.Context) error {
			digest, err := u.uploadBlock(ctx, f, snapshotID, i, blockSize)
			if err != nil {
				return err
			}
			digests[i] = digest
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("uploading snapshot %v: %w", snapshotID, wg.WaitError(err))
		}
	}
	if err := wg.Wait(); err != nil {
		return "", fmt.Errorf("uploading snapshot %v: %w", snapshotID, err)
	}

	// EBS checks the SHA256 of the concatenated block digests in
	// block index order
	var changed int64
	full := sha256.New()
	for _, d := range digests {
		if d != nil {
			full.Write(d)
			changed++
		}
	}

	complete := &ebs.CompleteSnapshotInput{
		SnapshotId:         aws.String(snapshotID),
		ChangedBlocksCount: aws.Int64(changed),
	}
	if changed > 0 {
		complete.Checksum = aws.String(base64.StdEncoding.EncodeToString(full.Sum(nil)))
		complete.ChecksumAlgorithm = aws.String(ebs.ChecksumAlgorithmSha256)
		complete.ChecksumAggregationMethod = aws.String(ebs.ChecksumAggregationMethodLinear)
	}
	if _, err := u.ebs.CompleteSnapshotWithContext(ctx, complete); err != nil {
		return "", fmt.Errorf("completing snapshot %v: %w", snapshotID, err)
	}
	plog.Debugf("completed snapshot %v with %d of %d blocks written", snapshotID, changed, blocks)
	return snapshotID, nil
}

// uploadBlock writes block index of f and returns its raw SHA256, or nil
// if the block only holds zeros and was skipped. The last block is zero
// padded to the full block size.
func (u *snapshotUploader) uploadBlock(ctx context.Context, f io.ReaderAt, snapshotID string, index, blockSize int64) ([]byte, error) {
	buf := make([]byte, blockSize)
	n, err := f.ReadAt(buf, index*blockSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading block %d: %w", index, err)
	}
	defer u.progress.Add(int64(n))

	if isZero(buf) {
		return nil, nil
	}

	sum := sha256.Sum256(buf)
	checksum := base64.StdEncoding.EncodeToString(sum[:])
	err = util.RetryConditional(ctx, blockAttempts, u.retryDelay, isRetryable, func() error {
		_, err := u.ebs.PutSnapshotBlockWithContext(ctx, &ebs.PutSnapshotBlockInput{
			SnapshotId:        aws.String(snapshotID),
			BlockIndex:        aws.Int64(index),
			BlockData:         bytes.NewReader(buf),
			DataLength:        aws.Int64(blockSize),
			Checksum:          aws.String(checksum),
			ChecksumAlgorithm: aws.String(ebs.ChecksumAlgorithmSha256),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("writing block %d: %w", index, err)
	}
	return sum[:], nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// WaitForSnapshot polls snapshotID in region until it is completed. A
// snapshot in the error state yields a *SnapshotNotReadyError.
func (a *API) WaitForSnapshot(ctx context.Context, region, snapshotID string) error {
	return waitForSnapshot(ctx, a.ec2For(region), snapshotID, a.opts.SnapshotTimeout, a.opts.PollInterval)
}

func waitForSnapshot(ctx context.Context, client ec2iface.EC2API, snapshotID string, timeout, interval time.Duration) error {
	lastState := ""
	err := util.WaitUntilReady(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		out, err := client.DescribeSnapshotsWithContext(ctx, &ec2.DescribeSnapshotsInput{
			SnapshotIds: aws.StringSlice([]string{snapshotID}),
		})
		if err != nil {
			if isNotFound(err) || isRetryable(err) {
				plog.Debugf("describing snapshot %v: %v", snapshotID, err)
				return false, nil
			}
			return false, fmt.Errorf("describing snapshot %v: %w", snapshotID, err)
		}
		if len(out.Snapshots) == 0 {
			return false, nil
		}

		snap := out.Snapshots[0]
		lastState = aws.StringValue(snap.State)
		switch lastState {
		case ec2.SnapshotStateCompleted:
			return true, nil
		case ec2.SnapshotStateError:
			return false, &SnapshotNotReadyError{
				SnapshotID: snapshotID,
				State:      lastState,
				Reason:     aws.StringValue(snap.StateMessage),
			}
		default:
			plog.Debugf("snapshot %v is %v (%v)", snapshotID, lastState, aws.StringValue(snap.Progress))
			return false, nil
		}
	})
	if errors.Is(err, util.ErrTimeout) {
		if lastState == "" {
			lastState = "unknown"
		}
		return &SnapshotNotReadyError{
			SnapshotID: snapshotID,
			State:      lastState,
			Reason:     fmt.Sprintf("still not completed after %v", timeout),
		}
	}
	return err
}
