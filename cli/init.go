package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/indexsync/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file with the marqo backend and no sources.

Add watched trees under the sources section afterwards, for example:

  sources:
    codebases:
      - name: myproject
        path: /home/me/src/myproject
    conversations:
      - type: chatgpt
        path: /home/me/exports/chatgpt`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}

	if config.Exists(path) && !initForce {
		fmt.Println("indexsync is already initialized.")
		fmt.Printf("Configuration: %s\n", path)
		return nil
	}

	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Edit the sources section, then run 'indexsync serve'.")
	return nil
}
