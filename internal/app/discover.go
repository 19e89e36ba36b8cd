package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"horse.fit/leadscan/internal/sources"
)

func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	timeout := fs.Duration("timeout", 10*time.Second, "Overall discovery timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: leadscan discover [--timeout 10s] <site-or-feed-url>")
		return 2
	}
	if *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "--timeout must be positive")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	found, err := sources.DiscoverFeed(ctx, &http.Client{Timeout: *timeout}, strings.TrimSpace(fs.Arg(0)))
	switch {
	case errors.Is(err, sources.ErrInvalidFeedURL):
		fmt.Fprintf(os.Stderr, "Invalid URL: %v\n", err)
		return 2
	case err != nil:
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		return 1
	}

	fmt.Printf("feed: %s\n", found.FeedURL)
	if found.Title != "" {
		fmt.Printf("title: %s\n", found.Title)
	}
	fmt.Printf("items: %d\n", found.ItemCount)
	return 0
}
