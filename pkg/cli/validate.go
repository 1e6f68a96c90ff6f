package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apipulse/pulsed/pkg/config"
	"github.com/apipulse/pulsed/pkg/pulseerr"
	"github.com/apipulse/pulsed/pkg/sim"
)

type validateFlags struct {
	dir string
}

var validateFlagVals validateFlags

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every definition in a directory without starting servers",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateFlagVals.dir, "dir", "d", ".", "Directory containing service definition files")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(_ *cobra.Command, _ []string) error {
	m := sim.NewManager(sim.WithLogger(newLogger()))
	summary, err := m.ValidateConfigurations(validateFlagVals.dir)
	if err != nil {
		return err
	}

	for _, fr := range summary.FileResults {
		switch fr.Status {
		case config.StatusValid:
			fmt.Printf("ok       %s\n", fr.Path)
		default:
			fmt.Printf("invalid  %s: %s\n", fr.Path, fr.Error)
			if s := pulseerr.SuggestionOf(fr.Err); s != "" {
				fmt.Printf("         hint: %s\n", s)
			}
		}
	}
	fmt.Printf("%d files, %d valid, %d invalid\n", summary.TotalFiles, summary.ValidCount, summary.InvalidCount)

	if summary.InvalidCount > 0 {
		return fmt.Errorf("%d invalid definition file(s)", summary.InvalidCount)
	}
	return nil
}
