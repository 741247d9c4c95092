package cmd

import (
	"fmt"

	"filippo.io/age"
	"github.com/spf13/cobra"

	"github.com/sekia-ai/kodiview/internal/secrets"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted config values",
	}

	cmd.AddCommand(newSecretsKeygenCmd())
	cmd.AddCommand(newSecretsEncryptCmd())
	cmd.AddCommand(newSecretsDecryptCmd())

	return cmd
}

func newSecretsKeygenCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an age identity for config encryption",
		Long: `Generates a new X25519 age identity and writes it to a file readable only
by you. The public key is printed for use with 'kodiview secrets encrypt
--recipient'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = secrets.DefaultKeyPath()
				if output == "" {
					return fmt.Errorf("cannot find home directory; use --output")
				}
			}

			id, err := secrets.WriteKeyFile(output)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key file written to: %s\n", output)
			fmt.Fprintf(out, "Public key: %s\n", id.Recipient())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: ~/.config/kodiview/age.key)")
	return cmd
}

func newSecretsEncryptCmd() *cobra.Command {
	var recipientKeys []string

	cmd := &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value for use in the config file",
		Long: `Encrypts a plaintext value (for example kodi.password) and prints the
ENC[...] string to paste into kodiview.toml. Without --recipient the public
key of the local identity is used. Repeat --recipient to let several keys
open the value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipients, err := encryptRecipients(recipientKeys)
			if err != nil {
				return err
			}

			sealed, err := secrets.Seal(args[0], recipients...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&recipientKeys, "recipient", nil, "age public key (default: from the local identity)")
	return cmd
}

// encryptRecipients parses keys, or falls back to the local keyring when
// none are given.
func encryptRecipients(keys []string) ([]age.Recipient, error) {
	if len(keys) > 0 {
		return secrets.ParseRecipients(keys)
	}

	kr, err := secrets.LoadKeyring("")
	if err != nil {
		return nil, err
	}
	if kr == nil {
		return nil, fmt.Errorf("no age key found; run 'kodiview secrets keygen' or pass --recipient")
	}
	r, err := kr.Recipient()
	if err != nil {
		return nil, err
	}
	return []age.Recipient{r}, nil
}

func newSecretsDecryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <ENC[...]>",
		Short: "Decrypt an ENC[...] value (for debugging)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := secrets.LoadKeyring("")
			if err != nil {
				return err
			}
			if kr == nil {
				return secrets.ErrNoIdentity
			}

			plain, err := kr.Open(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plain)
			return nil
		},
	}
}
