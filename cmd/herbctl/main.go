// Command herbctl is the operator CLI for herbledger: it issues org
// credentials for gateways and drives the gateway HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmerrifield20/herbledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	gatewayURL string
	cfgFile    string
	outFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "herbctl",
	Short: "herbledger operator CLI",
	Long: `herbctl records herb supply-chain events through a herbledger gateway
and issues the org credentials gateways present to the ledger.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".herbctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("herbctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if gatewayURL == "" {
			gatewayURL = viper.GetString("gateway_url")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:5000"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.herbctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (default http://localhost:5000)")
	rootCmd.PersistentFlags().StringVarP(&outFormat, "output", "o", "text", "output format: text or json")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(qualityCmd)
	rootCmd.AddCommand(packageCmd)
	rootCmd.AddCommand(provenanceCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(gatewayURL)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the herbctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("herbctl %s\n", version)
	},
}
