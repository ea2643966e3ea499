// Command fsck is a thin driver around the recovery pass: parse flags,
// call fsck.Run, print the report, map the outcome to an exit code. It
// does no engineering of its own beyond argument and exit-code handling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jawnsy/Alien-Libjio/fsck"
	"github.com/jawnsy/Alien-Libjio/journal"
)

const (
	exitClean   = 0
	exitBroken  = 1
	exitUsageIO = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var cleanup bool

	cmd := &cobra.Command{
		Use:   "fsck <datafile>",
		Short: "Scan a libjio journal directory and roll committed transactions forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			dataPath := cmdArgs[0]

			v := viper.New()
			v.SetEnvPrefix("LIBJIO")
			v.AutomaticEnv()
			v.BindPFlag("cleanup", cmd.Flags().Lookup("cleanup"))
			cleanup = v.GetBool("cleanup")

			report, err := fsck.Run(journal.DirFor(dataPath), dataPath, fsck.Options{Cleanup: cleanup})
			if err == fsck.ErrNoJournal {
				fmt.Fprintf(cmd.OutOrStdout(), "no journal directory for %s; nothing to do\n", dataPath)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "total=%d applied=%d broken=%d reapplied=%d cleaned=%d\n",
				report.Total, report.Applied, report.Broken, report.Reapplied, report.Cleaned)

			if report.Broken > report.Cleaned {
				return errBrokenRemain
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove broken journal records instead of leaving them in place")
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		if err == errBrokenRemain {
			return exitBroken
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUsageIO
	}
	return exitClean
}

var errBrokenRemain = fmt.Errorf("broken journal records remain")
