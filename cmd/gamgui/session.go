package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage GAM sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := client().ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tBACKEND\tCREATED\tLAST ACTIVE")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Name, s.Status, s.Handle.Kind,
				s.CreatedAt.Local().Format(time.RFC3339),
				s.LastActiveAt.Local().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "gam-session"
		if len(args) == 1 {
			name = args[0]
		}
		s, err := client().CreateSession(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Printf("Session %s created (%s on %s)\n", s.ID, s.Status, s.Handle.Kind)
		fmt.Printf("Attach with: gamgui attach %s\n", s.ID)
		return nil
	},
}

var deleteYes bool

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !deleteYes {
			confirmed := false
			prompt := &survey.Confirm{
				Message: fmt.Sprintf("Delete session %s? The sandbox and anything in it will be gone.", id),
			}
			if err := survey.AskOne(prompt, &confirmed); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return nil
			}
		}
		if err := client().DeleteSession(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Session %s deleted.\n", id)
		return nil
	},
}

var sessionExecCmd = &cobra.Command{
	Use:   "exec <id> -- <command...>",
	Short: "Run a one-shot command in the session sandbox",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().Exec(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if res.Stdout != "" {
			fmt.Print(res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("command exited %d", res.ExitCode)
		}
		return nil
	},
}

func init() {
	sessionDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
	sessionCmd.AddCommand(sessionListCmd, sessionCreateCmd, sessionDeleteCmd, sessionExecCmd)
	rootCmd.AddCommand(sessionCmd)
}
