package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to chai.yaml",
	Long: `Write the configuration chai is running with (defaults, an existing config
file and CHAI_* environment overrides) as YAML, so it can be edited.

The file goes to --config when given, otherwise to chai.yaml in the project
directory. An existing file is kept unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// configPath is where init writes the configuration.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(rootDir, "chai.yaml")
}
