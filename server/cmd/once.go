package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"go.ntppool.org/dnsresults/aggregator"
)

type OnceCmd struct {
	Config `embed:""`

	Strict bool `help:"Fail when some monitors had no data"`

	out io.Writer
}

func (cmd *OnceCmd) Run(ctx context.Context) error {
	ctx, log := setupLogger(ctx, cmd.Debug)

	engine, err := cmd.engine(ctx, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	snap, err := engine.Refresh(ctx)
	if err != nil {
		var perr *aggregator.PartialDataError
		if !errors.As(err, &perr) || cmd.Strict {
			return err
		}
		log.WarnContext(ctx, "partial data", "missing", len(perr.Missing))
	}

	out := cmd.out
	if out == nil {
		out = os.Stdout
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
