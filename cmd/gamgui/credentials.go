package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage your GAM credential bundle",
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded credential files",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := client().ListCredentials(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No credentials uploaded.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var credentialsPutCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Upload a credential file (oauth2.txt, oauth2service.json or client_secrets.json)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		name := filepath.Base(args[0])
		if err := client().PutCredential(cmd.Context(), name, data); err != nil {
			return err
		}
		fmt.Printf("Uploaded %s (%d bytes)\n", name, len(data))
		return nil
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an uploaded credential file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().DeleteCredential(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	credentialsCmd.AddCommand(credentialsListCmd, credentialsPutCmd, credentialsDeleteCmd)
	rootCmd.AddCommand(credentialsCmd)
}
