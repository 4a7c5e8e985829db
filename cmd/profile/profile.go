package profile

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/device"
)

// Command creates the profile command for inspecting and installing the
// device profile.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or import the device profile",
	}
	cmd.AddCommand(showCommand(ctx), importCommand(ctx))
	return cmd
}

func showCommand(ctx *conf.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configured device profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := device.NewStore(ctx.Settings.Device.ProfilePath)
			if err := store.Load(); err != nil {
				return err
			}
			p, err := store.Get()
			if err != nil {
				return fmt.Errorf("no device profile at %s: %w", ctx.Settings.Device.ProfilePath, err)
			}

			data, err := yaml.Marshal(p)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func importCommand(ctx *conf.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "import [profile.yaml]",
		Short: "Validate a captured profile and install it",
		Long:  `Validate a device profile produced by the capture app and store it at the configured profile path.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := device.LoadFile(args[0])
			if err != nil {
				return err
			}

			store := device.NewStore(ctx.Settings.Device.ProfilePath)
			if err := store.Set(*p); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported profile %s (%d px, %.1f-%.1f nm) to %s\n",
				p.DeviceHash,
				p.Width(),
				p.PixelToWavelength.Wavelength(0),
				p.PixelToWavelength.Wavelength(float64(p.Width()-1)),
				ctx.Settings.Device.ProfilePath)
			return nil
		},
	}
}
