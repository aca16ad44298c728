// Command scan-capture runs a camera scanner host: it drives a V4L2 camera
// through GStreamer, decodes barcodes and QR codes from the preview, and
// publishes decoded payloads over MQTT.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/config"
)

// Version information (set at build time)
var version = "dev"

const defaultConfigPath = "configs/scan-capture.yaml"

func main() {
	rootCmd := &cobra.Command{
		Use:          "scan-capture",
		Short:        "Camera barcode/QR scanner host",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().Bool("fake", false, "Use the synthetic camera instead of GStreamer")

	rootCmd.AddCommand(newRunCmd(), newDevicesCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scan-capture %s\n", version)
		},
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Open every configured device and print its capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, fake, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			setupLogger(cfg.Log)

			driver, err := newDriver(cfg, fake, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, d := range cfg.Camera.Devices {
				dev, err := driver.Open(deviceIndex(d.Index))
				if err != nil {
					fmt.Fprintf(out, "device %d (%s): %v\n", d.Index, d.Path, err)
					continue
				}
				caps := dev.Capabilities()
				fmt.Fprintf(out, "device %d (%s)\n", d.Index, d.Path)
				fmt.Fprintf(out, "  facing:        %s\n", caps.Facing)
				fmt.Fprintf(out, "  mount:         %d°\n", caps.MountDegrees)
				fmt.Fprintf(out, "  preview sizes: %s\n", joinSizes(caps.PreviewSizes))
				fmt.Fprintf(out, "  focus modes:   %s\n", strings.Join(caps.FocusModes, ", "))
				fmt.Fprintf(out, "  flash modes:   %s\n", strings.Join(caps.FlashModes, ", "))
				if err := dev.Release(); err != nil {
					slog.Warn("scan-capture: release failed", "device_index", d.Index, "error", err)
				}
			}
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, bool, error) {
	path, _ := cmd.Flags().GetString("config")
	fake, _ := cmd.Flags().GetBool("fake")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, fake, nil
}

// setupLogger installs the configured slog handler as the default logger.
func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
