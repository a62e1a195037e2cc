// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "AMIUPLOAD"

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return v
}

// applyEnv sets every flag not given on the command line from its
// environment variable, if that is set and not empty.
func applyEnv(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		if berr := v.BindEnv(f.Name); berr != nil {
			err = berr
			return
		}
		val := v.GetString(f.Name)
		if !v.IsSet(f.Name) || val == "" {
			return
		}
		plog.Debugf("setting --%s from the environment", f.Name)
		if serr := flags.Set(f.Name, val); serr != nil {
			err = fmt.Errorf("invalid %s_%s: %w", envPrefix,
				strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), serr)
		}
	})
	return err
}
