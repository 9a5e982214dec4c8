package coremain

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openmta/searchx/mlog"
	"github.com/openmta/searchx/pkg/filecheck"
	"github.com/openmta/searchx/pkg/search"
	"github.com/openmta/searchx/pkg/taint"
)

// newQueryCmd builds the one-shot lookup command:
//
//	searchx query lsearch /etc/aliases postmaster
//	searchx query partial2-lsearch /etc/relaydomains mail.sub.example.com
//	searchx query dnsdb "mx=example.org"
//
// Arguments given on the command line are operator input and enter
// the dispatcher untainted.
func newQueryCmd() *cobra.Command {
	var (
		cfgFile string
		verbose bool
	)
	c := &cobra.Command{
		Use:   "query TYPE ARG [KEY]",
		Short: "Run a single lookup and print the result.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				mlog.SetLevel(zapcore.DebugLevel)
			}
			if cfgFile != "" {
				cfg, _, err := loadConfig(cfgFile)
				if err != nil {
					return err
				}
				configureDrivers(&cfg.Driver)
			}

			typeStr, arg := args[0], args[1]
			key := ""
			if len(args) == 3 {
				key = args[2]
			}

			d := search.NewDispatcher(search.Options{Logger: mlog.L()})
			defer d.Tidy()

			spec, err := d.ParseType(typeStr)
			if err != nil {
				return err
			}
			fname, keyquery := d.SplitArgs(spec.Driver, key, arg, spec.Opts)

			h, err := d.Open(spec.Driver, taint.Clean(fname), filecheck.Constraints{})
			if err != nil {
				return err
			}

			sink := func(v taint.String, n int) {
				if n < 0 {
					n = 0
				}
				mlog.L().Debug("expansion variable",
					zap.String("value", v.Value()[:n]), zap.Bool("tainted", v.Tainted()))
			}

			start := time.Now()
			res, found, err := d.Find(h, fname, taint.Clean(keyquery),
				spec.Partial, spec.Affix, spec.Stars, sink, spec.Opts)
			if err != nil {
				if d.Deferred() {
					return fmt.Errorf("deferred: %s", d.LastError())
				}
				return err
			}
			mlog.L().Debug("lookup finished", zap.Duration("elapsed", time.Since(start)))

			if !found {
				return errors.New("no data found")
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Value())
			return nil
		},
		SilenceUsage: true,
	}
	c.Flags().StringVarP(&cfgFile, "config", "c", "", "config file")
	c.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return c
}
