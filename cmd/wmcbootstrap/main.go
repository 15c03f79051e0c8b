// Command wmcbootstrap is a thin demonstration entry point: given a
// single magnet link, it discovers peers via the UDP trackers listed
// in the link and prints them. It does not download anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vandenbogart/wmc/bootstrap"
	"github.com/vandenbogart/wmc/magnet"
	"github.com/vandenbogart/wmc/wmclog"
	"github.com/vandenbogart/wmc/wmcrand"
)

func usage() {
	fmt.Printf(`%s [options] <magnet-link>

    magnet-link    Magnet link (starting with "magnet:")

    -timeout duration  Optional: overall bound on the bootstrap
                       operation (default 30s).
`, os.Args[0])
	os.Exit(2)
}

func main() {
	var timeout time.Duration
	flag.Usage = usage
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "")
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
	}

	log := wmclog.Default()

	m, err := magnet.Parse(flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid magnet link")
	}

	peerID := wmcrand.GeneratePeerID(wmcrand.Default)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := bootstrap.NewOptions(bootstrap.WithLogger(log))
	result, err := bootstrap.Bootstrap(ctx, m, peerID, opts)
	if err != nil {
		log.Warn().Err(err).Msg("bootstrap did not complete cleanly")
	}

	fmt.Printf("%s: %d peer(s) discovered across %d tracker attempt(s)\n", m.InfoHashHex(), len(result.Peers), len(result.Records))
	for _, p := range result.Peers {
		fmt.Printf("  %s:%d\n", p.IP, p.Port)
	}
}
