package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/wire"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/service/chat"
	"github.com/pandodao/plebwallet/service/gateway"
	"github.com/pandodao/plebwallet/service/keychain"
	"github.com/pandodao/plebwallet/service/llm"
	"github.com/pandodao/plebwallet/service/lnurl"
	"github.com/pandodao/plebwallet/service/mint"
	"github.com/pandodao/plebwallet/service/nip98"
	"github.com/pandodao/plebwallet/service/payout"
	"github.com/pandodao/plebwallet/service/wallet"
	"github.com/spf13/viper"
)

var serviceSet = wire.NewSet(
	provideKeychain,
	provideMintConfig,
	mint.New,
	provideWalletConfig,
	wallet.New,
	wire.Bind(new(wallet.Deriver), new(*keychain.Keychain)),
	wire.Bind(new(core.WalletService), new(*wallet.Wallet)),
	provideLnurlConfig,
	lnurl.New,
	wire.Bind(new(core.PayeeService), new(*lnurl.Service)),
	providePayoutConfig,
	payout.New,
	wire.Bind(new(core.PayoutService), new(*payout.Service)),
	provideGateway,
	provideLLM,
	provideChatConfig,
	chat.New,
	provideVerifier,
)

func provideKeychain(v *viper.Viper) (*keychain.Keychain, error) {
	return keychain.New(v.GetString("wallet_mnemonic"))
}

func provideMintConfig(v *viper.Viper) mint.Config {
	return mint.Config{
		Timeout: 30 * time.Second,
		Unit:    v.GetString("cashu_unit"),
	}
}

func provideWalletConfig(v *viper.Viper) wallet.Config {
	return wallet.Config{
		MintURL:      v.GetString("cashu_mint_url"),
		TrustedMints: list(v, "trusted_mints"),
		Unit:         v.GetString("cashu_unit"),
		RestoreBatch: 25,
		RestoreGap:   2,
	}
}

func provideLnurlConfig() lnurl.Config {
	return lnurl.Config{
		Timeout:  10 * time.Second,
		CacheTTL: 10 * time.Minute,
	}
}

func providePayoutConfig(v *viper.Viper) payout.Config {
	return payout.Config{
		Address: strings.TrimSpace(v.GetString("payout_ln_address")),
	}
}

// provideGateway picks the remote wallet when WALLET_URL is set, the in-process one otherwise.
func provideGateway(v *viper.Viper, walletz core.WalletService, logger *slog.Logger) core.PaymentGateway {
	if u := v.GetString("wallet_url"); u != "" {
		logger.Info("using remote wallet", "url", u)
		return gateway.NewRemote(gateway.RemoteConfig{BaseURL: u})
	}

	return gateway.NewLocal(walletz)
}

func provideLLM(v *viper.Viper, logger *slog.Logger) core.LLMService {
	return llm.New(logger, llm.Config{
		BaseURL:      v.GetString("llm_base_url"),
		Model:        v.GetString("llm_model"),
		APIKey:       v.GetString("llm_api_key"),
		Temperature:  float32(v.GetFloat64("llm_temperature")),
		SystemPrompt: v.GetString("llm_system_prompt"),
	})
}

func provideChatConfig(v *viper.Viper) chat.Config {
	return chat.Config{
		Policy:          chat.Policy(v.GetString("payment_policy")),
		DebugMode:       v.GetBool("plebchat_debug_mode"),
		ContinuationKey: []byte(v.GetString("continuation_key")),
		ContinuationTTL: time.Duration(v.GetInt("continuation_ttl_minutes")) * time.Minute,
	}
}

func provideVerifier(v *viper.Viper) (*nip98.Verifier, error) {
	return nip98.New(nip98.Config{
		Window:    nip98.DefaultWindow,
		Allowlist: list(v, "admin_npubs"),
	})
}
