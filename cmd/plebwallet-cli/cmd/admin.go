/*
Copyright © 2024 pando
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/pandodao/generic"
	"github.com/pandodao/plebwallet/service/nip98"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "call the NIP-98 protected admin endpoints",
}

var adminStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "show wallet and payout stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminCall(cmd, http.MethodGet, "/admin/stats", nil)
	},
}

var adminAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "show how the server sees the signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminCall(cmd, http.MethodGet, "/admin/auth/info", nil)
	},
}

var withdrawFlags struct {
	amount uint64
	memo   string
}

var adminWithdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "export an ecash token from the wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminCall(cmd, http.MethodPost, "/admin/withdraw", map[string]any{
			"amount": withdrawFlags.amount,
			"memo":   withdrawFlags.memo,
		})
	},
}

var adminSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "export the whole balance as one token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminCall(cmd, http.MethodPost, "/admin/sweep", nil)
	},
}

var payoutFlags struct {
	amount  uint64
	address string
}

var adminPayoutCmd = &cobra.Command{
	Use:   "payout",
	Short: "pay out to a lightning address now",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if payoutFlags.amount > 0 {
			body["amount"] = payoutFlags.amount
		}
		if payoutFlags.address != "" {
			body["ln_address"] = payoutFlags.address
		}

		return adminCall(cmd, http.MethodPost, "/admin/payout", body)
	},
}

var adminThreadsCmd = &cobra.Command{
	Use:   "threads [thread_id]",
	Short: "list recorded threads or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/admin/threads"
		if len(args) == 1 {
			path += "/" + args[0]
		}

		return adminCall(cmd, http.MethodGet, path, nil)
	},
}

func init() {
	adminCmd.PersistentFlags().String("nsec", "", "admin key, nsec or hex (env ADMIN_NSEC)")
	_ = viper.BindPFlag("admin_nsec", adminCmd.PersistentFlags().Lookup("nsec"))

	adminWithdrawCmd.Flags().Uint64Var(&withdrawFlags.amount, "amount", 0, "amount in sats")
	adminWithdrawCmd.Flags().StringVar(&withdrawFlags.memo, "memo", "", "token memo")
	_ = adminWithdrawCmd.MarkFlagRequired("amount")

	adminPayoutCmd.Flags().Uint64Var(&payoutFlags.amount, "amount", 0, "amount in sats, defaults to the whole balance")
	adminPayoutCmd.Flags().StringVar(&payoutFlags.address, "address", "", "lightning address, defaults to the configured one")

	adminCmd.AddCommand(adminStatsCmd, adminAuthCmd, adminWithdrawCmd, adminSweepCmd, adminPayoutCmd, adminThreadsCmd)
	rootCmd.AddCommand(adminCmd)
}

func secretKey() (string, error) {
	s := strings.TrimSpace(viper.GetString("admin_nsec"))
	if s == "" {
		return "", fmt.Errorf("--nsec or ADMIN_NSEC is required")
	}

	if strings.HasPrefix(s, "nsec") {
		prefix, value, err := nip19.Decode(s)
		if err != nil || prefix != "nsec" {
			return "", fmt.Errorf("invalid nsec")
		}

		sk, _ := value.(string)
		return sk, nil
	}

	return s, nil
}

func adminCall(cmd *cobra.Command, method, path string, body any) error {
	sk, err := secretKey()
	if err != nil {
		return err
	}

	url := strings.TrimRight(viper.GetString("endpoint"), "/") + path

	var payload []byte
	if body != nil {
		payload = generic.Must(json.Marshal(body))
	}

	auth, err := nip98.Header(sk, url, method, payload)
	if err != nil {
		return err
	}

	req := resty.New().R().
		SetContext(cmd.Context()).
		SetHeader("Authorization", auth)
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return err
	}

	var out any
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("%s: %s", resp.Status(), resp.String())
	}

	if resp.IsError() {
		cmd.PrintErrln(resp.Status())
	}

	return printJson(cmd, out)
}
