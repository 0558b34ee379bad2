package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/smart-mcp-proxy/mcpgateway/internal/secret"
)

// keyringStore is the subset of the keyring provider the secrets commands use
type keyringStore interface {
	Store(name, value string) error
	Delete(name string) error
}

var newKeyringStore = func() keyringStore { return secret.NewKeyringProvider() }

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage connector secrets stored in the OS keyring",
		Long: "Store and delete secrets in the operating system keyring. Reference them from connector config " +
			"as ${keyring:NAME}.",
	}
	cmd.AddCommand(newSecretsSetCommand(), newSecretsDeleteCommand())
	return cmd
}

func newSecretsSetCommand() *cobra.Command {
	var fromEnv string

	cmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret in the keyring",
		Long:  "Store a secret in the OS keyring. Without a value or --from-env the value is read from the terminal without echo, or from piped stdin.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var (
				value string
				err   error
			)
			switch {
			case len(args) == 2:
				value = args[1]
			case fromEnv != "":
				value = os.Getenv(fromEnv)
				if value == "" {
					return fmt.Errorf("environment variable %s is not set or empty", fromEnv)
				}
			default:
				value, err = readSecretValue(cmd)
				if err != nil {
					return fmt.Errorf("failed to read secret value: %w", err)
				}
			}
			if value == "" {
				return errors.New("secret value cannot be empty")
			}

			if err := newKeyringStore().Store(name, value); err != nil {
				return fmt.Errorf("failed to store secret: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Secret '%s' stored in keyring (%s)\n", name, secret.MaskValue(value))
			fmt.Fprintf(out, "Use in connector config: ${%s:%s}\n", secret.TypeKeyring, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "Read the value from this environment variable")
	return cmd
}

func newSecretsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newKeyringStore().Delete(args[0]); err != nil {
				return fmt.Errorf("failed to delete secret %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret '%s' deleted\n", args[0])
			return nil
		},
	}
}

// readSecretValue prompts on a terminal without echo, otherwise reads all of stdin
func readSecretValue(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter secret value: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
