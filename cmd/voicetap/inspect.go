package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicetap/internal/app"
	"github.com/MrWong99/voicetap/internal/engine"
	"github.com/MrWong99/voicetap/internal/router"
	"github.com/MrWong99/voicetap/pkg/audio"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Log in to the engine and list its tier, version and input devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			eng, err := app.NewEngine(cfg.Engine)
			if err != nil {
				return err
			}

			status, err := eng.Login(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Logout() }()

			out := cmd.OutOrStdout()
			switch status {
			case engine.LoginNotRunning:
				fmt.Fprintln(out, "engine: not running")
			case engine.LoginOK:
				tier, err := eng.Tier()
				if err != nil {
					return err
				}
				version, err := eng.Version()
				if err != nil {
					return err
				}
				caps := tier.Capabilities()
				fmt.Fprintf(out, "engine: %s %s (%d inputs, %d outputs)\n", tier, version, caps.Inputs, caps.Outputs)
			default:
				return fmt.Errorf("%w: %s", engine.ErrLoginFailed, status)
			}

			devices, err := eng.InputDevices()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tID")
			for _, d := range devices {
				if !d.Kind.Known() {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Kind, d.Name, d.ID)
			}
			return tw.Flush()
		},
	}
}

func newLayoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layouts",
		Short: "List speaker layouts, or the route choices for a tier and stage",
		Long: `Without flags, layouts lists every speaker layout with its channel count.
With --tier, it lists the route values a consumer of --stage may select.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			tierName, _ := cmd.Flags().GetString("tier")
			if tierName == "" {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LAYOUT\tCHANNELS")
				for _, l := range audio.Layouts {
					fmt.Fprintf(tw, "%s\t%d\n", l, l.Channels())
				}
				return tw.Flush()
			}

			tier, err := engine.ParseTier(tierName)
			if err != nil {
				return err
			}
			stage, _ := cmd.Flags().GetInt("stage")
			cat := engine.Category(stage)
			if !cat.Valid() {
				return errors.New("--stage must be 0 (insert input), 1 (insert output) or 2 (main)")
			}
			for _, c := range router.Choices(tier, cat) {
				fmt.Fprintf(out, "%d\t%s\n", c.Value, c.Label)
			}
			return nil
		},
	}
	cmd.Flags().String("tier", "", "engine tier (basic, banana, potato)")
	cmd.Flags().Int("stage", 0, "stage: 0 insert input, 1 insert output, 2 main")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voicetap version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Git commit: %s\n", GitCommit)
		},
	}
}
