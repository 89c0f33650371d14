// Package cmd has the dnsresults command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MakeNowJust/heredoc"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/version"
)

// Cmd is the root command.
type Cmd struct {
	Server  ServerCmd  `cmd:"" help:"Refresh results in the background and serve them over HTTP"`
	Once    OnceCmd    `cmd:"" help:"Run one refresh cycle and print the snapshot as JSON"`
	Version VersionCmd `cmd:"" help:"Show version"`
}

// Help is shown as the command description.
var Help = heredoc.Doc(`
	Collects synthetic DNS monitor results from F5 Distributed Cloud and
	ranks the monitors by latency for each region.

	The provider is configured with the F5_XC_TENANT,
	F5_XC_DNS_MONITOR_NAMESPACE and one of F5_XC_API_KEY,
	F5_XC_API_KEY_FILE or F5_XC_API_KEY_VAULT_PATH environment variables.
`)

type VersionCmd struct{}

func (cmd *VersionCmd) Run(ctx context.Context) error {
	fmt.Printf("dnsresults %s\n", version.Version())
	return nil
}

// setupLogger returns ctx with the process logger, at debug level when
// requested.
func setupLogger(ctx context.Context, debug bool) (context.Context, *slog.Logger) {
	log := logger.Setup()
	if debug {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return logger.NewContext(ctx, log), log
}
