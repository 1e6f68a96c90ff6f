package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/apipulse/pulsed/pkg/sim"
)

type recordFlags struct {
	target    string
	name      string
	outputDir string
	portStart int
	portEnd   int
}

var recordFlagVals recordFlags

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Proxy live traffic to an upstream API and capture it as a definition",
	Long: `Record starts a local proxy in front of a real API. Every exchange that
passes through is captured; on Ctrl-C the captures are folded into a new
service definition file ready to serve.`,
	Example: `  pulsed record --target https://api.example.com --name example --out ./definitions`,
	RunE:    runRecord,
}

func init() {
	f := &recordFlagVals
	recordCmd.Flags().StringVarP(&f.target, "target", "t", "", "Upstream base URL to record [required]")
	recordCmd.Flags().StringVarP(&f.name, "name", "n", "recorded", "Name of the generated service")
	recordCmd.Flags().StringVarP(&f.outputDir, "out", "o", ".", "Directory the definition is written to")
	recordCmd.Flags().IntVar(&f.portStart, "port-start", 4000, "First port of the allocation range")
	recordCmd.Flags().IntVar(&f.portEnd, "port-end", 4999, "Last port of the allocation range")
	_ = recordCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(_ *cobra.Command, _ []string) error {
	f := &recordFlagVals

	m := sim.NewManager(
		sim.WithLogger(newLogger()),
		sim.WithPortRange(f.portStart, f.portEnd),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := m.Record(ctx, f.target, f.name, f.outputDir)
	if err != nil {
		return err
	}
	fmt.Printf("definition written to %s\n", path)
	return nil
}
