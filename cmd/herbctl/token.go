package main

import (
	"fmt"
	"time"

	"github.com/jmerrifield20/herbledger/internal/identity"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage org credentials",
}

var (
	tokenKeyDir string
	tokenOrg    string
	tokenClient string
	tokenIssuer string
	tokenTTL    time.Duration
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign an org credential with the ledger's key",
	Long: `issue signs a credential binding a client to an organisation. It reads the
ledger signing key from --key-dir (the ledgerd ledger.key_dir), creating one
if none exists, and prints the token to stdout:

  herbctl token issue --org OrgA --client appUser > certs/orgA.jwt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := identity.NewKeyManager(tokenKeyDir)
		if err := keys.LoadOrCreate(); err != nil {
			return fmt.Errorf("load signing key: %w", err)
		}
		token, err := identity.NewTokenIssuer(keys.Key(), tokenIssuer, tokenTTL).Issue(tokenClient, tokenOrg)
		if err != nil {
			return fmt.Errorf("issue credential: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenKeyDir, "key-dir", "certs", "Directory holding ledger.key")
	tokenIssueCmd.Flags().StringVar(&tokenOrg, "org", "", "Organisation the credential acts for (e.g. OrgA)")
	tokenIssueCmd.Flags().StringVar(&tokenClient, "client", "appUser", "Client identity recorded in the credential subject")
	tokenIssueCmd.Flags().StringVar(&tokenIssuer, "issuer", "herbledger", "Issuer; must match ledgerd's ledger.issuer")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 365*24*time.Hour, "Credential lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("org")

	tokenCmd.AddCommand(tokenIssueCmd)
}
