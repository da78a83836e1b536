/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"github.com/spf13/cobra"

	"github.com/kestrelsoc/kestrel/cmd/kestrel-server/startcmd"
	"github.com/kestrelsoc/kestrel/internal/pkg/log"
)

var logger = log.New("kestrel-server")

func main() {
	rootCmd := &cobra.Command{
		Use: "kestrel-server",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to run kestrel-server", log.WithError(err))
	}
}
