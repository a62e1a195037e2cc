// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// FormatJSON renders a report as {"amis": {"<region>": "<ami id>"}}.
const FormatJSON = "json"

var ErrUnknownFormat = errors.New("invalid output format")

// ImageRecord is one published image.
type ImageRecord struct {
	Region  string
	ImageID string
}

// Report maps each region that was published to successfully to its
// image id. Regions that failed replication are absent from AMIs and
// listed in Failed instead.
type Report struct {
	AMIs   map[string]string `json:"amis"`
	Failed map[string]error  `json:"-"`
}

// Aggregate merges the home image and the replicas into a Report.
func Aggregate(home ImageRecord, replicas []ImageRecord) *Report {
	r := &Report{AMIs: make(map[string]string, len(replicas)+1)}
	r.AMIs[home.Region] = home.ImageID
	for _, rec := range replicas {
		r.AMIs[rec.Region] = rec.ImageID
	}
	return r
}

// CheckFormat reports whether format can be rendered.
func CheckFormat(format string) error {
	switch format {
	case FormatJSON:
		return nil
	default:
		return fmt.Errorf("%w '%s'; must be '%s'", ErrUnknownFormat, format, FormatJSON)
	}
}

// Render writes the report to w in format. Regions are always written in
// sorted order.
func (r *Report) Render(w io.Writer, format string) error {
	if err := CheckFormat(format); err != nil {
		return err
	}
	// encoding/json sorts map keys
	if err := json.NewEncoder(w).Encode(r); err != nil {
		return fmt.Errorf("couldn't encode result: %w", err)
	}
	return nil
}
