// bgp-shortlived - hunts short-lived BGP announcements, the announce then
// quick withdraw pattern left behind by many prefix hijacks.
//
// Usage:
//
//	bgp-shortlived reload --start 2024-05-01T00:00:00Z --end 2024-05-01T06:00:00Z
//	bgp-shortlived shortlived --start 2024-05-01T00:00:00Z --stop 2024-05-01T06:00:00Z --classify
//	bgp-shortlived search 192.0.2.1
//
// Environment variables (alternative to flags and the config file):
//
//	BGP_SHORTLIVED_DATABASE_URL     - PostgreSQL URL
//	BGP_SHORTLIVED_REPUTATION_TOKEN - Reputation API bearer token
//	BGP_SHORTLIVED_CACHE_REDIS_URL  - Redis URL for the reputation cache
//	BGP_SHORTLIVED_ASN_DATA_FILE    - Path to ASN-country CSV file
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cli.Execute(ctx, version, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
