package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/replypost-io/replypost/internal/address"
	"github.com/replypost-io/replypost/internal/token"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Encode and decode routing tokens for debugging",
}

var tokenUserID int

func init() {
	tokenCmd.PersistentFlags().IntVar(&tokenUserID, "user", 0, "user id salt for new-item tokens")
	tokenCmd.AddCommand(tokenEncodeCmd)
	tokenCmd.AddCommand(tokenDecodeCmd)
}

var tokenEncodeCmd = &cobra.Command{
	Use:   "encode <querystring>",
	Short: "Encrypt a querystring into an address token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		salt := ""
		if tokenUserID > 0 {
			salt = strconv.Itoa(tokenUserID)
		}
		enc, err := token.NewCodec(cfg.Token.Secret).Encode(args[0], salt)
		if err != nil {
			return err
		}
		if salt != "" {
			enc += address.NewItemSuffix
		}
		fmt.Fprintln(cmd.OutOrStdout(), enc)
		return nil
	},
}

var tokenDecodeCmd = &cobra.Command{
	Use:   "decode <token>",
	Short: "Decrypt an address token back into its querystring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		parser := address.NewParser(token.NewCodec(cfg.Token.Secret))
		rt, err := parser.DecodeToken(args[0], tokenUserID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "query: %s\nnew item: %v\nparams: %v\n",
			rt.Query, rt.IsNewItem, rt.Parameters)
		return nil
	},
}
