package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bskygrab/pkg/auth"
	"bskygrab/pkg/ui"
)

// authCmd groups credential management subcommands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored Bluesky credentials",
	Long: `Manage Bluesky app passwords in secure storage.

Credentials are stored in the system keyring when available, falling
back to an encrypted file under ~/.config/bskygrab. The
BSKYGRAB_IDENTIFIER and BSKYGRAB_APP_PASSWORD environment variables
take precedence over stored accounts.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials for an account",
	Long:  `Prompt for a handle and app password and store them securely.`,
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout <identifier>",
	Short: "Remove stored credentials for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogout,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	RunE:  runAuthList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authListCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	fmt.Println(auth.AppPasswordInstructions)
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Handle or email: ")
	identifier, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read identifier: %w", err)
	}
	identifier = strings.TrimSpace(identifier)

	password, err := readPassword("App password: ")
	if err != nil {
		return err
	}

	account := &auth.Account{
		Identifier:  identifier,
		AppPassword: password,
	}

	manager := auth.NewManager()
	if err := manager.Save(account); err != nil {
		ui.PrintError("Failed to store credentials", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Credentials stored")
	ui.PrintInfo("Account", identifier)
	ui.PrintInfo("Storage", manager.StoreName())
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	manager := auth.NewManager()
	if err := manager.Delete(args[0]); err != nil {
		ui.PrintError("Failed to remove credentials", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Credentials removed for " + args[0])
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager := auth.NewManager()
	ids, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list accounts", err.Error())
		os.Exit(1)
	}
	if len(ids) == 0 {
		ui.PrintWarning("No stored accounts", "run 'bskygrab auth login'")
		return nil
	}

	ui.PrintHighlight("Stored accounts")
	for _, id := range ids {
		fmt.Printf("  %s\n", id)
	}
	ui.PrintInfo("Storage", manager.StoreName())
	return nil
}

// readPassword reads a password without echoing it. When stdin is not
// a terminal (tests, pipes) it falls back to a plain line read.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	if term.IsTerminal(int(syscall.Stdin)) {
		data, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
