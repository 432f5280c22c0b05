package main

import (
	"context"
	"os"

	"github.com/c0deZ3R0/listsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
