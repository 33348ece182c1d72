package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ferroci/internal/security"
)

func newKeysGenerateCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "generate [dir]",
		Short: "Generate an ed25519 key pair for signing ledger entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := a.cfg.KeysDir
			if len(args) > 0 {
				dir = args[0]
			}
			pubPath := filepath.Join(dir, security.PublicKeyFile)
			privPath := filepath.Join(dir, security.PrivateKeyFile)

			if _, err := os.Stat(privPath); err == nil && !force {
				return usageError(fmt.Errorf("%s already exists, use --force to replace it", privPath))
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			pub, priv, err := security.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := security.SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
				return err
			}
			st := newStyles(a.out)
			fmt.Fprintf(a.out, "%s wrote %s and %s\n", st.success.Render("✓"), pubPath, privPath)
			fmt.Fprintf(a.out, "public key: %s\n", hex.EncodeToString(pub))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key pair")
	return cmd
}
