package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/convoy/internal/app/convoy"
	"github.com/tutu-network/convoy/internal/daemon"
)

func init() {
	createCmd.Flags().StringVarP(&createFile, "file", "f", "convoy.yaml", "Path to the convoy manifest")
	createCmd.Flags().StringVar(&createName, "name", "", "Convoy name (overrides the manifest)")
	rootCmd.AddCommand(createCmd)
}

var (
	createFile string
	createName string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a convoy from a component manifest",
	Long: `Create a convoy with one translate task per component.

Example manifest:
  name: landing
  framework: react
  components:
    - id: "1:1"
      name: Header
    - id: "1:2"
      name: Page
  dependencies:
    - from: "1:1"
      to: "1:2"`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	opts, err := convoy.LoadManifest(createFile)
	if err != nil {
		return err
	}
	if createName != "" {
		opts.Name = createName
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	c, err := d.Convoy.CreateConvoyFromFigma(opts)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), c)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created convoy %s (%s) with %d tasks\n", c.ID, c.Name, len(c.TaskIDs))
	return nil
}
