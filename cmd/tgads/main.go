// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command tgads generates Telegram ad banners with a four-agent pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

type globalFlags struct {
	ConfigPath string
	Sets       []string
	JSON       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError(err, jsonErrors(os.Args[1:]))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "tgads",
		Short:         "Telegram ad banner generator",
		Long:          "tgads turns a product brief into an ad text and banner checked against the Telegram Ads rules.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.ConfigPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().StringArrayVar(&g.Sets, "set", nil, "override a config key, e.g. --set llm.provider=openai")
	root.PersistentFlags().BoolVar(&g.JSON, "json", false, "print errors as JSON")

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newRunCmd(g))
	root.AddCommand(newMCPCmd(g))
	root.AddCommand(newCheckCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

// cliArgs turns the global flags back into config.LoadWithCLI arguments.
func (g *globalFlags) cliArgs() []string {
	var args []string
	if g.ConfigPath != "" {
		args = append(args, "--config", g.ConfigPath)
	}
	for _, s := range g.Sets {
		args = append(args, "--set", s)
	}
	return args
}

func jsonErrors(args []string) bool {
	for _, a := range args {
		if a == "--json" || a == "--json=true" {
			return true
		}
	}
	return false
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("tgads %s\n", version)
		},
	}
}
