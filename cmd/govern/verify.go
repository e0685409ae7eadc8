package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/aegis-labs/govern/pkg/config"
	"github.com/aegis-labs/govern/pkg/store"
)

// runVerify implements `govern verify`: it walks the audit store's hash
// chain and reports the first break, if any.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = runtime error
func runVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var storePath string
	cmd.StringVar(&storePath, "store", "", "Path to the audit store (default: GOVERN_STORE_PATH)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if storePath == "" {
		storePath = config.Load().StorePath
	}

	s, err := store.OpenSQLite(storePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	n, err := s.Size(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if err := s.VerifyChain(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Chain verification FAILED: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Chain intact: %d entries verified\n", n)
	return 0
}
