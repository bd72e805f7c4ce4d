package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/tyler-smith/go-bip39"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("cashu_mint_url", "https://mint.minibits.cash/Bitcoin")
	v.SetDefault("cashu_unit", "sat")
	v.SetDefault("payout_threshold_sats", 1000)
	v.SetDefault("payout_interval_seconds", 300)
	v.SetDefault("llm_api_key", "not-needed")
	v.SetDefault("llm_temperature", 0.7)
	v.SetDefault("payment_policy", "redeem-before")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "file:wallet.db")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("port", 8000)
	v.SetDefault("keyset_sync_seconds", 60)
	v.SetDefault("cleaner_grace_minutes", 60)
	v.SetDefault("continuation_ttl_minutes", 15)
}

// list reads a comma separated option.
func list(v *viper.Viper, key string) []string {
	var out []string
	for _, s := range strings.Split(v.GetString(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	return out
}

// validateConfig collects every fatal misconfiguration so they are reported at once.
func validateConfig(v *viper.Viper) error {
	var errs []error

	mnemonic := strings.Join(strings.Fields(v.GetString("wallet_mnemonic")), " ")
	switch words := len(strings.Fields(mnemonic)); {
	case words == 0:
		errs = append(errs, errors.New("WALLET_MNEMONIC is required"))
	case words != 12 && words != 24:
		errs = append(errs, fmt.Errorf("WALLET_MNEMONIC should be 12 or 24 words, got %d", words))
	case !bip39.IsMnemonicValid(mnemonic):
		errs = append(errs, errors.New("WALLET_MNEMONIC is not a valid BIP39 mnemonic"))
	}

	if len(list(v, "admin_npubs")) == 0 {
		errs = append(errs, errors.New("ADMIN_NPUBS is required"))
	}

	if addr := strings.TrimSpace(v.GetString("payout_ln_address")); addr != "" && !strings.Contains(addr, "@") {
		errs = append(errs, errors.New("PAYOUT_LN_ADDRESS must be a valid Lightning address (user@domain.com)"))
	}

	for _, key := range []string{"llm_base_url", "llm_model"} {
		if strings.TrimSpace(v.GetString(key)) == "" {
			errs = append(errs, fmt.Errorf("%s is required", strings.ToUpper(key)))
		}
	}

	switch p := v.GetString("payment_policy"); p {
	case "redeem-before", "redeem-after":
	default:
		errs = append(errs, fmt.Errorf("PAYMENT_POLICY %q is not redeem-before or redeem-after", p))
	}

	return errors.Join(errs...)
}
