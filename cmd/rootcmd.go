// Package rootcmd runs a kong command tree with a signal aware context.
package rootcmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"go.ntppool.org/common/version"
)

// Run parses the command line into cmd and runs the selected command. The
// context passed to Run methods is cancelled on SIGINT or SIGTERM.
func Run(cmd any, name, description string) {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	parser, err := NewParser(ctx, cmd, name, description)
	if err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.FatalIfErrorf(err)
	}

	err = kctx.Run()
	parser.FatalIfErrorf(err)
}

// NewParser returns the kong parser with ctx bound for Run methods.
func NewParser(ctx context.Context, cmd any, name, description string, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name(name),
		kong.Description(description),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Vars{"version": version.Version()},
		kong.ConfigureHelp(kong.HelpOptions{
			Tree: true,
		}),
		kong.UsageOnError(),
	}, options...)

	return kong.New(cmd, options...)
}
