// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

type runFlags struct {
	File    string
	Brief   core.Brief
	Offline bool
	Publish bool
}

type runResult struct {
	Success   bool           `json:"success"`
	Result    map[string]any `json:"result"`
	Metadata  map[string]any `json:"metadata"`
	MessageID int            `json:"message_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one brief through the pipeline and print the JSON result",
		Example: `  tgads run --product "Апельсиновый сок" --audience "семьи с детьми"
  tgads run --file brief.json --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), g, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.File, "file", "f", "", "JSON brief file ('-' for stdin)")
	cmd.Flags().StringVar(&f.Brief.Product, "product", "", "product name")
	cmd.Flags().StringVar(&f.Brief.ProductType, "product-type", "", "product type")
	cmd.Flags().StringVar(&f.Brief.Audience, "audience", "", "target audience")
	cmd.Flags().StringVar(&f.Brief.Goal, "goal", "", "campaign goal")
	cmd.Flags().StringVar(&f.Brief.Language, "language", "", "ad language")
	cmd.Flags().StringVar(&f.Brief.Style, "style", "", "professional, friendly, creative or urgent")
	cmd.Flags().BoolVar(&f.Offline, "offline", false, "use the mock text provider and placeholder images")
	cmd.Flags().BoolVar(&f.Publish, "publish", false, "post the ad to the telegram channel when approved")
	return cmd
}

func readBrief(f *runFlags, stdin io.Reader) (core.Brief, error) {
	brief := f.Brief
	if f.File != "" {
		var data []byte
		var err error
		if f.File == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(f.File)
		}
		if err != nil {
			return core.Brief{}, fmt.Errorf("read brief: %w", err)
		}
		var fromFile core.Brief
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return core.Brief{}, NewInvalidArgumentError("file", "brief is not valid JSON: "+err.Error())
		}
		brief = mergeBrief(fromFile, f.Brief)
	}
	if brief.Product == "" {
		return core.Brief{}, NewInvalidArgumentError("product", "product is required")
	}
	return brief.WithDefaults(), nil
}

// mergeBrief lets flags override fields read from a file.
func mergeBrief(base, flags core.Brief) core.Brief {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&base.Product, flags.Product)
	set(&base.ProductType, flags.ProductType)
	set(&base.Audience, flags.Audience)
	set(&base.Goal, flags.Goal)
	set(&base.Language, flags.Language)
	set(&base.Style, flags.Style)
	return base
}

func runOnce(ctx context.Context, g *globalFlags, f *runFlags, out io.Writer) error {
	brief, err := readBrief(f, os.Stdin)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{offline: f.Offline, publish: f.Publish})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	p, runErr := a.runner.Run(ctx, brief.Payload())
	res := runResult{Success: runErr == nil, Result: p.ToMap(), Metadata: p.Metadata()}
	if runErr != nil {
		res.Error = runErr.Error()
	} else if a.publisher != nil && p.String(core.KeyQAStatus) == "APPROVED" {
		if res.MessageID, err = a.publisher.PublishPayload(ctx, p); err != nil {
			a.logger.Warn("publish failed", "error", err)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return err
	}
	if runErr != nil {
		return WrapPipelineError(runErr)
	}
	return nil
}
