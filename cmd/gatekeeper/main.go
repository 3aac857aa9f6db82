package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/gatekeeper/cmd/gatekeeper/cli"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load(".env")

	root := cli.NewRootCommand(cli.Options{Stdout: os.Stdout, Stderr: os.Stderr})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
