package config

import (
	"time"

	"github.com/spf13/viper"
)

// GatewayConfig holds both gateway variants plus the platform settlement
// account reference. The settlement account is injected here instead of
// being discovered by an ad-hoc admin lookup.
type GatewayConfig struct {
	Flitt FlittSettings
	Ecomm EcommSettings

	SettlementAccount string
}

type FlittSettings struct {
	BaseURL        string
	APIKey         string
	PaymentPageURL string
	Timeout        time.Duration
}

type EcommSettings struct {
	Endpoint       string
	CertFile       string
	KeyFile        string
	CAFile         string
	PaymentPageURL string
	Timeout        time.Duration
}

// GetGatewayConfig returns gateway configuration with defaults.
func GetGatewayConfig() *GatewayConfig {
	viper.SetDefault("gateway.flitt.base_url", "")
	viper.SetDefault("gateway.flitt.api_key", "")
	viper.SetDefault("gateway.flitt.payment_page_url", "")
	viper.SetDefault("gateway.flitt.timeout", 30*time.Second)

	viper.SetDefault("gateway.ecomm.endpoint", "")
	viper.SetDefault("gateway.ecomm.cert_file", "")
	viper.SetDefault("gateway.ecomm.key_file", "")
	viper.SetDefault("gateway.ecomm.ca_file", "")
	viper.SetDefault("gateway.ecomm.payment_page_url", "")
	viper.SetDefault("gateway.ecomm.timeout", 30*time.Second)

	viper.SetDefault("platform.settlement_account", "platform")

	return &GatewayConfig{
		Flitt: FlittSettings{
			BaseURL:        viper.GetString("gateway.flitt.base_url"),
			APIKey:         viper.GetString("gateway.flitt.api_key"),
			PaymentPageURL: viper.GetString("gateway.flitt.payment_page_url"),
			Timeout:        viper.GetDuration("gateway.flitt.timeout"),
		},
		Ecomm: EcommSettings{
			Endpoint:       viper.GetString("gateway.ecomm.endpoint"),
			CertFile:       viper.GetString("gateway.ecomm.cert_file"),
			KeyFile:        viper.GetString("gateway.ecomm.key_file"),
			CAFile:         viper.GetString("gateway.ecomm.ca_file"),
			PaymentPageURL: viper.GetString("gateway.ecomm.payment_page_url"),
			Timeout:        viper.GetDuration("gateway.ecomm.timeout"),
		},
		SettlementAccount: viper.GetString("platform.settlement_account"),
	}
}

// PaymentPageURL returns the hosted payment page base for a gateway kind.
func (c *GatewayConfig) PaymentPageURL(kind string) string {
	switch kind {
	case "flitt":
		return c.Flitt.PaymentPageURL
	case "ecomm":
		return c.Ecomm.PaymentPageURL
	default:
		return ""
	}
}
