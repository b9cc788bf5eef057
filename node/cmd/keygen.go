package cmd

import (
	"github.com/spf13/cobra"

	"github.com/caldog20/tunrelay/config"
	"github.com/caldog20/tunrelay/pkg/cipher"
)

func NewKeygenCommand() *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate a random key and save it to disk",
		Long: "Writes a key file for --cipher (default " + cipher.DefaultKind + "). Copy the same\n" +
			"file to both hosts and pass it with --key-file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := flagCfg.Cipher
			kf, err := config.GenerateKey(kind)
			if err != nil {
				return err
			}
			if err := config.StoreKeyFile(out, kf, force); err != nil {
				return err
			}

			diagnostics.Successf("%s key written to %s", kf.Cipher, out)
			diagnostics.Warnf("do not share the key file with anyone but the peer")
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", config.DefaultKeyFilePath(), "where to write the key file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}
