package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/common/config/depenv"

	rootcmd "go.ntppool.org/dnsresults/cmd"
)

func parse(t *testing.T, args ...string) (*Cmd, string) {
	t.Helper()
	cli := &Cmd{}
	parser, err := rootcmd.NewParser(context.Background(), cli, "dnsresults", Help)
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	return cli, kctx.Command()
}

func TestServerDefaults(t *testing.T) {
	t.Setenv("F5_XC_TENANT", "acme")
	t.Setenv("F5_XC_DNS_MONITOR_NAMESPACE", "dns")

	cli, command := parse(t, "server")
	assert.Equal(t, "server", command)

	s := cli.Server
	assert.Equal(t, "acme", s.Tenant)
	assert.Equal(t, "dns", s.Namespace)
	assert.Equal(t, "-f5xc", s.ReferenceSuffix)
	assert.Equal(t, "ves-io-", s.HomeSourcePrefix)
	assert.Equal(t, "", s.MonitorPrefix)
	assert.Equal(t, "background", s.RefreshMode)
	assert.Equal(t, 60*time.Second, s.Freshness)
	assert.Equal(t, 30*time.Second, s.RefreshInterval)
	assert.Equal(t, 2*time.Minute, s.SummaryWindow)
	assert.Equal(t, 4, s.SummaryConcurrency)
	assert.Equal(t, ":8000", s.Listen)
	assert.Equal(t, 9000, s.MetricsPort)

	assert.Equal(t, "https://acme.console.ves.volterra.io", s.baseURL())

	depEnv, err := s.deploymentEnvironment()
	require.NoError(t, err)
	assert.Equal(t, depenv.DeployDevel, depEnv)
}

func TestServerFlags(t *testing.T) {
	cli, _ := parse(t, "server",
		"--refresh-mode=on-read",
		"--freshness=2m",
		"--monitor-prefix=race-",
		"--api-url=https://example.net",
		"--deployment-mode=prod",
	)

	s := cli.Server
	assert.Equal(t, "on-read", s.RefreshMode)
	assert.Equal(t, 2*time.Minute, s.Freshness)
	assert.Equal(t, "race-", s.MonitorPrefix)
	assert.Equal(t, "https://example.net", s.baseURL())

	depEnv, err := s.deploymentEnvironment()
	require.NoError(t, err)
	assert.Equal(t, depenv.DeployProd, depEnv)
}

func TestRefreshModeValidated(t *testing.T) {
	parser, err := rootcmd.NewParser(context.Background(), &Cmd{}, "dnsresults", Help)
	require.NoError(t, err)
	_, err = parser.Parse([]string{"server", "--refresh-mode=sometimes"})
	assert.Error(t, err)
}

func TestEngineRequiresCredentials(t *testing.T) {
	cfg := &Config{Tenant: "acme", Namespace: "dns"}
	_, err := cfg.engine(context.Background(), nil)
	assert.ErrorContains(t, err, "api-key")
}

func TestOnce(t *testing.T) {
	const prefix = "/api/observability/synthetic_monitor/namespaces/dns/"

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"v1_dns_monitors", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[
			{"name":"race-a","description":"A","labels":{"logo":"a.svg"}},
			{"name":"race-b","description":"B","labels":{"logo":"b.svg"}},
			{"name":"race-c-f5xc","description":"C","labels":{"logo":"c.svg"}},
			{"name":"other","description":"skipped","labels":{}}
		]}`))
	})
	mux.HandleFunc("GET "+prefix+"dns-monitor-summary", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"latency":"10","avg_latency":"12","max_latency":"30"}`))
	})
	mux.HandleFunc("POST "+prefix+"dns-monitors-health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[
			{"monitor_name":"race-a","sources":[{"region":"ves-io-ny8-nyc","curr_latency":"120"}]},
			{"monitor_name":"race-b","sources":[{"region":"ves-io-ny8-nyc","curr_latency":"95"}]},
			{"monitor_name":"race-c-f5xc","sources":[{"region":"ves-io-ny8-nyc","curr_latency":"95"}]}
		]}`))
	})
	mux.HandleFunc("GET /api/config/namespaces/system/sites", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"name":"ny8-nyc","get_spec":{"coordinates":{"latitude":40.7,"longitude":-74.0}}}]}`))
	})

	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	t.Setenv("F5_XC_API_URL", upstream.URL)
	t.Setenv("F5_XC_DNS_MONITOR_NAMESPACE", "dns")
	t.Setenv("F5_XC_API_KEY", "secret")
	t.Setenv("F5_XC_DNS_MONITOR_PREFIX", "race-")

	cli, command := parse(t, "once")
	assert.Equal(t, "once", command)

	var out bytes.Buffer
	cli.Once.out = &out
	require.NoError(t, cli.Once.Run(context.Background()))

	var snap struct {
		Monitors []struct {
			Name    string   `json:"name"`
			Latency *float64 `json:"latency"`
		} `json:"monitors"`
		Results []struct {
			Region                  string   `json:"region"`
			Latitude                *float64 `json:"latitude"`
			Provider                string   `json:"provider"`
			RegionalWinner          string   `json:"regionalWinner"`
			RegionalWinnerWithoutF5 string   `json:"regionalWinnerWithoutF5"`
			WinnerLatency           float64  `json:"winnerLatency"`
		} `json:"results"`
		IncludedMonitorPrefix string `json:"includedMonitorPrefix"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))

	require.Len(t, snap.Monitors, 3)
	assert.Equal(t, "race-a", snap.Monitors[0].Name)
	require.NotNil(t, snap.Monitors[0].Latency)
	assert.Equal(t, 10.0, *snap.Monitors[0].Latency)
	assert.Equal(t, "race-", snap.IncludedMonitorPrefix)

	require.Len(t, snap.Results, 1)
	r := snap.Results[0]
	assert.Equal(t, "ves-io-ny8-nyc", r.Region)
	assert.Equal(t, "f5xc", r.Provider)
	require.NotNil(t, r.Latitude)
	assert.Equal(t, 40.7, *r.Latitude)
	assert.Equal(t, "race-c-f5xc", r.RegionalWinner)
	assert.Equal(t, "race-b", r.RegionalWinnerWithoutF5)
	assert.Equal(t, 95.0, r.WinnerLatency)
}
