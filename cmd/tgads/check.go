// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/telemetry"
)

type checkFlags struct {
	Text string
	Link string
}

// newCheckCmd checks an ad text against the configured rules without
// running the pipeline.
func newCheckCmd(g *globalFlags) *cobra.Command {
	f := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check ad text against the Telegram Ads rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.Text == "" {
				return NewInvalidArgumentError("text", "text is required")
			}
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := telemetry.ConfigureSlog(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			checker, err := newChecker(cfg, logger)
			if err != nil {
				return err
			}
			verdict := checker.CheckAd(cmd.Context(), f.Text, f.Link)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if err := enc.Encode(map[string]any{
				"is_approved":   verdict.Approved,
				"issues":        verdict.Issues(),
				"rules_version": checker.Rules().Version,
			}); err != nil {
				return err
			}
			if !verdict.Approved {
				return NewCLIError(errors.Security("ad rejected"), "fix the listed issues")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Text, "text", "", "ad text")
	cmd.Flags().StringVar(&f.Link, "link", "", "landing link")
	return cmd
}
