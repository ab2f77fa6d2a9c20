package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veilchat/relay/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.GetDefaultConfigPath()
		}

		if err := config.InitConfig(path, initForce); err != nil {
			return err
		}

		fmt.Printf("Configuration file created at: %s\n", path)
		fmt.Println("\nNext steps:")
		fmt.Println("  1. Edit the configuration file (database, jwt_secret, blob store)")
		fmt.Println("  2. Start the server with: relay start")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}
