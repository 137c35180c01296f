// Package main is the entry point for the keygen binary.
// It generates token keys and offers an interactive encrypt/decrypt console.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/reqguard/internal/cipher"
)

const defaultKeySize = 16

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for keygen
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Token key tooling for reqguard",
		Long: `Generate AES keys for token.key and test them interactively.

Example:
  keygen generate --size 32
  keygen console --key "$REQGUARD_TOKEN__KEY"`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newGenerateCmd(), newConsoleCmd())
	return rootCmd
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a new random base64 key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := cmd.Flags().GetInt("size")
			if err != nil {
				return fmt.Errorf("failed to get size flag: %w", err)
			}
			key, err := cipher.GenerateKey(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().IntP("size", "s", defaultKeySize, "Key size in bytes (16, 24 or 32)")
	return cmd
}

func newConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Encrypt and decrypt lines read from stdin",
		Long: `Reads one line at a time. Every line is encrypted and printed; lines that
are valid ciphertext under the key are also decrypted. Enter "exit" to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cmd.Flags().GetString("key")
			if err != nil {
				return fmt.Errorf("failed to get key flag: %w", err)
			}
			c, err := cipher.New(key)
			if err != nil {
				return err
			}
			return runConsole(c, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringP("key", "k", "", "Base64 key (defaults to $REQGUARD_TOKEN__KEY)")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("key") {
			if env := os.Getenv("REQGUARD_TOKEN__KEY"); env != "" {
				return cmd.Flags().Set("key", env)
			}
			return fmt.Errorf("--key is required")
		}
		return nil
	}
	return cmd
}

// runConsole processes lines from in until EOF or "exit".
func runConsole(c *cipher.Codec, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "exit" {
			return nil
		}
		if line != "" {
			fmt.Fprintf(out, "encrypt: %s\n", c.EncryptToString([]byte(line)))
			if plain, err := c.DecryptString(line); err == nil {
				fmt.Fprintf(out, "decrypt: %s\n", plain)
			}
		}
		fmt.Fprint(out, "> ")
	}
	return sc.Err()
}
