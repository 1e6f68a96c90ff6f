package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/apipulse/pulsed/pkg/sim"
	"github.com/apipulse/pulsed/pkg/storage"
)

type serveFlags struct {
	dir       string
	portStart int
	portEnd   int
	scenario  string
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load definitions from a directory and serve every service",
	Example: `  # Serve everything under ./definitions
  pulsed serve --dir ./definitions

  # Force every endpoint to answer with its error response
  pulsed serve --dir ./definitions --scenario force-error`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals
	serveCmd.Flags().StringVarP(&f.dir, "dir", "d", ".", "Directory containing service definition files")
	serveCmd.Flags().IntVar(&f.portStart, "port-start", 4000, "First port of the allocation range")
	serveCmd.Flags().IntVar(&f.portEnd, "port-end", 4999, "Last port of the allocation range")
	serveCmd.Flags().StringVar(&f.scenario, "scenario", "", "Manager-wide scenario override (force-error, random, or a scenario name)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	f := &serveFlagVals
	log := newLogger()

	m := sim.NewManager(
		sim.WithLogger(log),
		sim.WithPortRange(f.portStart, f.portEnd),
		sim.WithStorage(storage.NewMemoryStore()),
		sim.WithBaseDir(f.dir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := m.LoadDir(ctx, f.dir)
	if err != nil {
		return err
	}
	log.Info("definitions loaded", "total", summary.TotalFiles, "valid", summary.ValidCount, "invalid", summary.InvalidCount)

	if f.scenario != "" {
		m.SetScenario(f.scenario)
	}

	if err := m.Start(ctx); err != nil {
		m.Stop()
		return err
	}
	defer m.Stop()

	for _, info := range m.Status().ActiveServices {
		fmt.Printf("%-24s http://127.0.0.1:%d%s (%d endpoints)\n", info.Name, info.Port, info.BasePath, info.EndpointCount)
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
