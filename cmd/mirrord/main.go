// Command mirrord mirrors key/value sources to disk and inspects mirror roots.
//
// Logging:
//   - Base logger is created once per invocation from --log-level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - --debug-component raises individual components to debug
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mirrord/internal/layout"
	"mirrord/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what subcommands share once flags are parsed.
type app struct {
	logger *slog.Logger
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{logger: logging.Discard()}

	rootCmd := &cobra.Command{
		Use:          "mirrord",
		Short:        "Mirror in-memory sources to disk with per-source history",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			levelFlag, _ := cmd.Flags().GetString("log-level")
			debug, _ := cmd.Flags().GetStringSlice("debug-component")
			logger, err := newLogger(stderr, levelFlag, debug)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.String("root", "", "mirror root directory (default: platform data dir)")
	pf.String("prefix", layout.DefaultPrefix, "mirror file name prefix")
	pf.String("suffix", layout.DefaultSuffix, "mirror file name suffix (must start with '.')")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.StringSlice("debug-component", nil, "log these components at debug level (mirror, mirror-watch, cli)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(
		newRunCmd(a),
		newIDCmd(),
		newLsCmd(),
		newHistoryCmd(),
		newPurgeCmd(a),
		versionCmd,
	)
	return rootCmd
}

// newLogger builds the process logger. The text handler lets everything
// through; the component filter decides.
func newLogger(w io.Writer, levelFlag string, debugComponents []string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelFlag)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", levelFlag, err)
	}
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	filter := logging.NewComponentFilterHandler(base, level)
	for _, c := range debugComponents {
		filter.SetLevel(c, slog.LevelDebug)
	}
	return slog.New(filter), nil
}

// resolveDir returns the layout from the persistent flags, falling back to
// the platform default root.
func resolveDir(cmd *cobra.Command) (layout.Dir, error) {
	root, _ := cmd.Flags().GetString("root")
	prefix, _ := cmd.Flags().GetString("prefix")
	suffix, _ := cmd.Flags().GetString("suffix")
	if root == "" {
		var err error
		if root, err = layout.DefaultRoot(); err != nil {
			return layout.Dir{}, err
		}
	}
	return layout.New(root, prefix, suffix)
}
