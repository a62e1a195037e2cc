// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("regions", "all", "")
	flags.String("region", "", "")
	flags.Uint64("root-size", 0, "")
	flags.Bool("strict", false, "")
	flags.Duration("poll-interval", 5*time.Second, "")
	return flags
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AMIUPLOAD_REGIONS", "eu-west-1,us-east-1")
	t.Setenv("AMIUPLOAD_ROOT_SIZE", "20")
	t.Setenv("AMIUPLOAD_STRICT", "true")
	t.Setenv("AMIUPLOAD_REGION", "")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--regions", "us-west-2"}))
	require.NoError(t, applyEnv(newEnv(), flags))

	get := func(name string) string { return flags.Lookup(name).Value.String() }
	// the command line wins
	assert.Equal(t, "us-west-2", get("regions"))
	assert.Equal(t, "20", get("root-size"))
	assert.Equal(t, "true", get("strict"))
	// empty is unset
	assert.Equal(t, "", get("region"))
	assert.False(t, flags.Lookup("region").Changed)
	assert.Equal(t, "5s", get("poll-interval"))
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("AMIUPLOAD_ROOT_SIZE", "big")

	flags := testFlags()
	require.NoError(t, flags.Parse(nil))
	err := applyEnv(newEnv(), flags)
	assert.ErrorContains(t, err, "AMIUPLOAD_ROOT_SIZE")
}
