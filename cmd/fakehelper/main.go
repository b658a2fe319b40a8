// This command is only used for local testing: it stands in for the real
// access helper so the proxy can be exercised without a protected origin.
// It answers "access token -app=<origin>" with a configurable token and
// accepts "access login <origin>" unconditionally.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Token     string `env:"FAKEHELPER_TOKEN, default=fake-development-token"`
	FailToken bool   `env:"FAKEHELPER_FAIL_TOKEN, default=false"`
	FailLogin bool   `env:"FAKEHELPER_FAIL_LOGIN, default=false"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	args := os.Args[1:]
	if len(args) < 2 || args[0] != "access" {
		fmt.Fprintf(os.Stderr, "usage: fakehelper access token -app=<origin> | access login <origin>\n")
		os.Exit(2)
	}

	switch args[1] {
	case "token":
		if cfg.FailToken {
			fmt.Fprintln(os.Stderr, "Unable to find token for provided application.")
			os.Exit(1)
		}
		if len(args) < 3 || !strings.HasPrefix(args[2], "-app=") {
			fmt.Fprintln(os.Stderr, "token requires -app=<origin>")
			os.Exit(2)
		}
		fmt.Println(cfg.Token)

	case "login":
		if cfg.FailLogin {
			fmt.Fprintln(os.Stderr, "login failed")
			os.Exit(1)
		}
		fmt.Println("Successfully fetched your token")

	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[1])
		os.Exit(2)
	}
}
