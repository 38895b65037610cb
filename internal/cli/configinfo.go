package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gaspcr/shopify-filemaker/internal/config"
)

// NewConfigInfoCommand creates the config inspection command. Secrets are
// masked; this output is safe to paste into a support ticket.
func NewConfigInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config-info",
		Short: "Print the resolved configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "loading configuration", err)
			}

			rendered, err := yaml.Marshal(redact(cfg))
			if err != nil {
				return WrapExitError(ExitFailure, "rendering configuration", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(rendered))

			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), "warning:", err)
			}
			return nil
		},
	}
}

// redactedConfig is the printable shape of the configuration.
type redactedConfig struct {
	FileMaker struct {
		Host     string `yaml:"host"`
		Database string `yaml:"database"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"filemaker"`
	Shopify struct {
		ShopURL       string `yaml:"shop_url"`
		AccessToken   string `yaml:"access_token"`
		LocationID    string `yaml:"location_id"`
		WebhookSecret string `yaml:"webhook_secret"`
		ShopDomain    string `yaml:"shop_domain"`
	} `yaml:"shopify"`
	Service struct {
		HTTPAddr            string `yaml:"http_addr"`
		Environment         string `yaml:"environment"`
		LogLevel            string `yaml:"log_level"`
		SyncInterval        string `yaml:"sync_interval"`
		ShutdownTimeout     string `yaml:"shutdown_timeout"`
		SignatureValidation bool   `yaml:"signature_validation"`
	} `yaml:"service"`
	Tuning config.Tuning `yaml:"tuning"`
}

func redact(cfg config.Config) redactedConfig {
	var r redactedConfig
	r.FileMaker.Host = cfg.FileMaker.Host
	r.FileMaker.Database = cfg.FileMaker.Database
	r.FileMaker.Username = cfg.FileMaker.Username
	r.FileMaker.Password = mask(cfg.FileMaker.Password)
	r.Shopify.ShopURL = cfg.Shopify.ShopURL
	r.Shopify.AccessToken = mask(cfg.Shopify.AccessToken)
	r.Shopify.LocationID = cfg.Shopify.LocationID
	r.Shopify.WebhookSecret = mask(cfg.Shopify.WebhookSecret)
	r.Shopify.ShopDomain = cfg.Shopify.ShopDomain
	r.Service.HTTPAddr = cfg.HTTPAddr
	r.Service.Environment = cfg.Environment
	r.Service.LogLevel = cfg.LogLevel
	r.Service.SyncInterval = cfg.SyncInterval.String()
	r.Service.ShutdownTimeout = cfg.ShutdownTimeout.String()
	r.Service.SignatureValidation = cfg.ValidateSignature()
	r.Tuning = cfg.Tuning
	return r
}

// mask hides a secret while leaving enough of it to tell which credential
// is loaded.
func mask(secret string) string {
	switch {
	case secret == "":
		return "(not set)"
	case len(secret) <= 6:
		return "******"
	default:
		return secret[:3] + "******" + secret[len(secret)-2:]
	}
}
