/*
Copyright © 2024 pando
*/
package cmd

import (
	"github.com/pandodao/plebwallet/service/keychain"
	"github.com/spf13/cobra"
)

var mnemonicWords int

// mnemonicCmd prints a fresh wallet seed for WALLET_MNEMONIC
var mnemonicCmd = &cobra.Command{
	Use:   "mnemonic",
	Short: "generate a new BIP39 wallet mnemonic",
	RunE: func(cmd *cobra.Command, args []string) error {
		mnemonic, err := keychain.GenerateMnemonic(mnemonicWords)
		if err != nil {
			return err
		}

		cmd.Println(mnemonic)
		cmd.PrintErrln("store it safely, it is the only way to recover the wallet funds")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mnemonicCmd)

	mnemonicCmd.Flags().IntVar(&mnemonicWords, "words", 12, "12 or 24")
}
