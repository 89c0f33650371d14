package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.ntppool.org/common/config/depenv"
	"go.ntppool.org/common/logger"

	"go.ntppool.org/dnsresults/aggregator"
	"go.ntppool.org/dnsresults/client/auth"
	"go.ntppool.org/dnsresults/client/provider"
	"go.ntppool.org/dnsresults/client/sites"
)

// Config is shared by the commands that talk to the monitoring provider.
type Config struct {
	Tenant    string `env:"F5_XC_TENANT" help:"Tenant name, used for the console API URL"`
	Namespace string `env:"F5_XC_DNS_MONITOR_NAMESPACE" help:"Namespace with the DNS monitors"`
	APIURL    string `env:"F5_XC_API_URL" name:"api-url" help:"Console API URL (default https://{tenant}.console.ves.volterra.io)"`

	APIKey          string `env:"F5_XC_API_KEY" name:"api-key" help:"API token"`
	APIKeyFile      string `env:"F5_XC_API_KEY_FILE" name:"api-key-file" help:"File with the API token, reloaded when it changes"`
	APIKeyVaultPath string `env:"F5_XC_API_KEY_VAULT_PATH" name:"api-key-vault-path" help:"Vault secret with the API token"`
	APIKeyVaultKey  string `env:"F5_XC_API_KEY_VAULT_KEY" name:"api-key-vault-key" default:"api_key" help:"Key of the API token in the Vault secret"`

	MonitorPrefix    string `env:"F5_XC_DNS_MONITOR_PREFIX" name:"monitor-prefix" help:"Only include monitors with this name prefix"`
	ReferenceSuffix  string `env:"F5_XC_DNS_REFERENCE_SUFFIX" name:"reference-suffix" default:"-f5xc" help:"Name suffix of the reference monitors"`
	HomeSourcePrefix string `env:"F5_XC_HOME_SOURCE_PREFIX" name:"home-source-prefix" default:"ves-io-" help:"Region prefix of the home provider sites"`

	SummaryWindow      time.Duration `name:"summary-window" default:"2m" help:"Window for the monitor summary statistics"`
	SummaryConcurrency int           `name:"summary-concurrency" default:"4" help:"Parallel monitor summary requests"`

	DeploymentMode string `env:"DEPLOYMENT_MODE" name:"deployment-mode" default:"devel" help:"prod, test or devel"`
	Debug          bool   `env:"DNSRESULTS_DEBUG" help:"Enable debug logging"`
}

func (cfg *Config) deploymentEnvironment() (depenv.DeploymentEnvironment, error) {
	depEnv := depenv.DeploymentEnvironmentFromString(cfg.DeploymentMode)
	if depEnv == depenv.DeployUndefined {
		return depEnv, fmt.Errorf("unknown deployment mode %q", cfg.DeploymentMode)
	}
	return depEnv, nil
}

func (cfg *Config) baseURL() string {
	if len(cfg.APIURL) > 0 {
		return cfg.APIURL
	}
	if len(cfg.Tenant) == 0 {
		return ""
	}
	return provider.TenantURL(cfg.Tenant)
}

// engine wires the provider client, site registry and aggregation engine.
func (cfg *Config) engine(ctx context.Context, reg prometheus.Registerer) (*aggregator.Engine, error) {
	tokens, err := auth.NewTokenSource(ctx, auth.Settings{
		Token:     cfg.APIKey,
		File:      cfg.APIKeyFile,
		VaultPath: cfg.APIKeyVaultPath,
		VaultKey:  cfg.APIKeyVaultKey,
	})
	if err != nil {
		return nil, err
	}

	client, err := provider.New(ctx, provider.Config{
		BaseURL:   cfg.baseURL(),
		Namespace: cfg.Namespace,
		Tokens:    tokens,
	}, provider.NewMetrics(reg))
	if err != nil {
		return nil, err
	}

	registry := sites.NewRegistry(ctx, sites.NewClient(client))

	return aggregator.New(
		logger.FromContext(ctx).WithGroup("aggregator"),
		aggregator.Config{
			MonitorPrefix:      cfg.MonitorPrefix,
			ReferenceSuffix:    cfg.ReferenceSuffix,
			HomeSourcePrefix:   cfg.HomeSourcePrefix,
			SummaryWindow:      cfg.SummaryWindow,
			SummaryConcurrency: cfg.SummaryConcurrency,
		},
		aggregator.Sources{
			Catalog:   client,
			Summaries: client,
			Health:    client,
			Sites:     registry,
		},
		aggregator.NewMetrics(reg),
	)
}
