package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/apipulse/pulsed/pkg/config"
	"github.com/apipulse/pulsed/pkg/importer"
)

type importFlags struct {
	file      string
	name      string
	outputDir string
}

var importFlagVals importFlags

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Convert an OpenAPI document into a service definition",
	Long: `Import reads an OpenAPI 3.x document (JSON or YAML) and converts every
declared operation into a simulated endpoint, using the document's examples
as response bodies. The resulting definition file is ready to serve.`,
	Example: `  pulsed import --file petstore.yaml --out ./definitions`,
	RunE:    runImport,
}

func init() {
	f := &importFlagVals
	importCmd.Flags().StringVarP(&f.file, "file", "f", "", "OpenAPI document to convert [required]")
	importCmd.Flags().StringVarP(&f.name, "name", "n", "", "Override the generated service name")
	importCmd.Flags().StringVarP(&f.outputDir, "out", "o", ".", "Directory the definition is written to")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

func runImport(_ *cobra.Command, _ []string) error {
	f := &importFlagVals

	def, err := importer.FromOpenAPIFile(f.file)
	if err != nil {
		return err
	}
	if f.name != "" {
		def.Name = f.name
	}

	repo, err := config.NewRepository(f.outputDir)
	if err != nil {
		return err
	}
	if err := repo.Save(def); err != nil {
		return err
	}

	path := filepath.Join(f.outputDir, def.Name+".yaml")
	fmt.Printf("imported %d endpoints into %s\n", len(def.Endpoints), path)
	return nil
}
