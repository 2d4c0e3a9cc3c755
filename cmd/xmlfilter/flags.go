package main

import (
	"github.com/spf13/pflag"
)

func (c *cli) bindFlags(flags ...*pflag.Flag) {
	for _, f := range flags {
		if err := c.v.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	}
}
