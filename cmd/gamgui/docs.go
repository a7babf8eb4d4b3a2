package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

const usageDoc = `# gamgui

Ephemeral sandboxes for the GAM CLI with a live, shareable terminal.

## Getting started

1. Start the server:

    gamgui serve

2. Upload your GAM credentials (once per operator):

    gamgui credentials put oauth2.txt
    gamgui credentials put oauth2service.json

3. Create a session and attach:

    gamgui session create admin-work
    gamgui attach sess_xxxxxxxx

Every session runs in its own sandbox with your credentials injected; the
sandbox disappears when the session is deleted or idles out.

## One-shot commands

    gamgui session exec sess_xxxxxxxx -- gam info domain

Commands run inside the sandbox with a timeout. Destructive shell commands
(recursive root deletion, fork bombs, raw device writes, filesystem
formatting, power control) are rejected before they reach the sandbox.

## Multiple viewers

Any number of clients can attach to the same session; all of them see the
same terminal. Input is accepted from everyone, terminal size follows the
client that typed last.

## Backends

| Backend    | Substrate            | When                         |
|------------|----------------------|------------------------------|
| kubernetes | one pod per session  | in-cluster deployments       |
| docker     | local engine         | single-host installs         |
| simulated  | in-memory            | tests and demos (test mode)  |
`

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Show the rendered usage guide",
	RunE: func(cmd *cobra.Command, args []string) error {
		style := "light"
		if termenv.HasDarkBackground() {
			style = "dark"
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			return err
		}
		out, err := r.Render(usageDoc)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
}
