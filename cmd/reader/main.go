// Package main starts the tarot reader process.
package main

import (
	"context"
	"os"

	readercmd "github.com/louisbranch/tarot.space/internal/cmd/reader"
	entrypoint "github.com/louisbranch/tarot.space/internal/platform/cmd"
	"github.com/louisbranch/tarot.space/internal/platform/config"
)

func main() {
	ctx, stop := entrypoint.SignalContext(context.Background())
	defer stop()

	if err := readercmd.Execute(ctx, os.Args[1:]); err != nil {
		config.Exitf("reader: %v", err)
	}
}
