// Command surrealkit reconciles SurrealDB schemas and runs database tests.
package main

import (
	"context"
	"os"

	"github.com/ForetagInc/surrealkit/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
