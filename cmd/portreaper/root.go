package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"portreaper/internal/config"
	"portreaper/internal/log"
	"portreaper/internal/portscan"
	"portreaper/internal/probe"
	"portreaper/internal/portspec"
	"portreaper/internal/proc"
	"portreaper/internal/reaper"
)

var version = "dev"

// deps carries the collaborators that tests replace.
type deps struct {
	stdout     io.Writer
	stderr     io.Writer
	resolver   reaper.Resolver
	terminator reaper.Terminator
}

func newRootCmd(d deps) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "portreaper [PORT|:PORT|FROM-TO ...]",
		Short: "Kill processes holding TCP ports",
		Long: `Terminate every process bound to a port in the configured range.

Without arguments the range [--from, --to) is used. Arguments replace the
range and accept single ports (8080, :8080), inclusive ranges (8000-8099)
and comma separated lists.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd.Flags(), cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if err := v.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("decoding configuration: %w", err)
			}
			return run(cmd, d, cfg, args)
		},
	}

	defaults := config.Defaults()
	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	flags.Int("from", defaults.From, "lowest port to reap (inclusive)")
	flags.Int("to", defaults.To, "highest port to reap (exclusive)")
	flags.Bool("force", defaults.Force, "send SIGKILL instead of SIGTERM")
	flags.BoolP("quiet", "q", defaults.Quiet, "do not report ports without a process")
	flags.Bool("dry-run", defaults.DryRun, "list the processes that would be terminated")
	flags.Int("concurrency", defaults.Concurrency, "ports handled in parallel")
	flags.Duration("grace", defaults.Grace, "with --force=false, SIGKILL processes still alive after this long")
	flags.Bool("udp", defaults.UDP, "also match UDP sockets")
	flags.Bool("listen-only", defaults.ListenOnly, "only match listening TCP sockets")
	flags.Duration("wait", defaults.Wait, "wait up to this long for killed ports to stop accepting connections")
	flags.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")

	cmd.SetOut(d.stdout)
	cmd.SetErr(d.stderr)

	return cmd
}

func initConfig(v *viper.Viper, flags *pflag.FlagSet, cfgFile string) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	v.SetEnvPrefix("PORTREAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}

	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", cfgFile, err)
	}
	return nil
}

func run(cmd *cobra.Command, d deps, cfg config.Config, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := log.New(d.stderr, cfg.LogLevel, isTerminal(d.stderr))
	if err != nil {
		return err
	}

	ports, err := selectPorts(cfg, args)
	if err != nil {
		return err
	}

	resolver := d.resolver
	if resolver == nil {
		resolver = portscan.Scanner{}
	}
	terminator := d.terminator
	if terminator == nil {
		terminator = &proc.Terminator{Grace: cfg.Grace}
	}

	r := reaper.New(resolver, terminator, reaper.Options{
		Force:       cfg.Force,
		Silent:      cfg.Quiet,
		DryRun:      cfg.DryRun,
		Concurrency: cfg.Concurrency,
		Filter:      cfg.Filter(),
	}, logger)

	logger.Debug().Int("ports", len(ports)).Bool("force", cfg.Force).Bool("dry_run", cfg.DryRun).Msg("reaping")

	report, err := r.Reap(cmd.Context(), ports)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		printDryRun(cmd, d.stdout, report)
	} else if cfg.Wait > 0 {
		waitReleased(cmd, cfg, report, logger)
	}

	logger.Debug().
		Int("killed", report.Count(reaper.StatusKilled)).
		Int("not_found", report.Count(reaper.StatusNotFound)).
		Int("failed", report.Count(reaper.StatusFailed)).
		Msg("done")

	return nil
}

// selectPorts returns the ports named by args, or the configured range.
func selectPorts(cfg config.Config, args []string) ([]int, error) {
	if len(args) > 0 {
		return portspec.Parse(args)
	}
	r, err := cfg.Range()
	if err != nil {
		return nil, err
	}
	return r.Ports(), nil
}

// waitReleased polls the ports whose owners were killed and warns about the
// ones that still accept connections.
func waitReleased(cmd *cobra.Command, cfg config.Config, report *reaper.Report, logger zerolog.Logger) {
	var ports []int
	for _, o := range report.Matching(reaper.StatusKilled) {
		ports = append(ports, o.Port)
	}
	if len(ports) == 0 {
		return
	}

	for _, port := range probe.WaitReleased(cmd.Context(), probe.DefaultHost, ports, cfg.Wait, 0) {
		logger.Warn().Int("port", port).Dur("waited", cfg.Wait).Msg("port still accepting connections")
	}
}

func printDryRun(cmd *cobra.Command, w io.Writer, report *reaper.Report) {
	outcomes := report.Matching(reaper.StatusDryRun)
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No processes found.")
		return
	}

	fmt.Fprintf(w, "%-7s %-8s %s\n", "PORT", "PID", "COMMAND")
	for _, o := range outcomes {
		for _, pid := range o.PIDs {
			fmt.Fprintf(w, "%-7d %-8d %s\n", o.Port, pid, proc.Name(cmd.Context(), pid))
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
