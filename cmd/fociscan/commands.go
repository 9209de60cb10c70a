package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fociscan/internal/logging"
	"fociscan/pkg/config"
	"fociscan/pkg/pipeline"
)

// rootCommand creates the fociscan command tree.
func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fociscan",
		Short:         "Extract 3D foci coordinates from microscopy volumes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(scanCommand(), initConfigCommand())
	return root
}

func scanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find bright foci with a multistep threshold scan",
		Long: `Thresholds the image at increasing brightness levels, keeps the
brightest voxel of every connected region at each level and writes the
union of these points as coordinates in physical units.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	setupScanFlags(cmd)
	return cmd
}

// setupScanFlags declares the scan flags with the defaults of DefaultConfig.
// Values come from config.Load, which gives set flags precedence over the
// config file and environment.
func setupScanFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	f := cmd.Flags()

	f.String("config", "", "YAML configuration file")

	f.StringP("image", "i", d.Input.Image, "Image to analyze: .npy, .cmap, TIFF stack, 2D image or directory of slices")
	f.String("segments", d.Input.Segments, "Segmentation volume used to split points by segment")

	f.Float64("min-value", d.Scan.MinValue, "Minimal brightness (first threshold)")
	f.Float64("max-value", d.Scan.MaxValue, "Maximal brightness, 0 uses the brightest voxel")
	f.IntP("min-size", "m", d.Scan.MinSize, "Minimal connected component size in voxels")
	f.Float64P("step-size", "p", d.Scan.StepSize, "Brightness step between thresholds")
	f.Float64P("singlestep", "s", d.Scan.SingleStep, "Run a single threshold at this brightness")
	f.IntP("threads", "t", d.Scan.Threads, "Number of thresholds processed in parallel")
	f.BoolP("save-all", "a", d.Scan.SaveAll, "Save the points of every threshold (single thread only)")
	f.Int("connectivity", d.Scan.Connectivity, "Voxel neighbourhood: 6 or 26")

	f.StringP("outpath", "o", d.Output.Dir, "Output directory")
	f.String("format", d.Output.Format, "Coordinate format: pdb, xyz, idxyz, chimera, gro")
	f.String("molecule-name", d.Output.MoleculeName, "Molecule name in the chimera header")
	f.Bool("compress", d.Output.Compress, "Gzip coordinate files")
	f.Bool("connect", d.Output.Connect, "Chain consecutive points with CONECT records in PDB files")
	f.BoolP("save-stats", "b", d.Output.SaveStats, "Write the statistics file")
	f.String("stats-format", d.Output.StatsFormat, "Statistics format: text or yaml")
	f.StringSlice("spacing", nil, "Voxel spacing x,y,z")

	f.String("log-level", d.Logging.Level, "Log level: debug, info, warn, error")
	f.String("log-file", d.Logging.File, "Also write logs to this rotating file")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}

	params, err := pipeline.ParamsFromConfig(cfg)
	if err != nil {
		return err
	}

	log, closer, err := logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		MaxSize: cfg.Logging.MaxSize,
		MaxAge:  cfg.Logging.MaxAge,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	analyzer := pipeline.NewAnalyzer(params, log)
	if err := analyzer.Process(cmd.Context()); err != nil {
		return err
	}

	res := analyzer.Result()
	fmt.Fprintf(cmd.OutOrStdout(), "Found %d points\n", res.Points.Len())
	for _, path := range res.Files {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
	}
	return nil
}

func initConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write the default configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", args[0])
			return nil
		},
	}
}
