package main

import (
	basecmd "go.ntppool.org/dnsresults/cmd"
	"go.ntppool.org/dnsresults/server/cmd"
)

func main() {
	basecmd.Run(&cmd.Cmd{}, "dnsresults", cmd.Help)
}
