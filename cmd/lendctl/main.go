package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"lendledger/crypto"
	"lendledger/services/lendingd/client"
)

const (
	endpointEnv     = "LENDINGD_URL"
	tokenEnv        = "LENDINGD_TOKEN"
	defaultEndpoint = "http://localhost:8085"
)

type globals struct {
	endpoint string
	token    string
	caller   string
	timeout  time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	g := globals{}
	fs := flag.NewFlagSet("lendctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&g.endpoint, "endpoint", envOr(endpointEnv, defaultEndpoint), "lendingd base URL")
	fs.StringVar(&g.token, "token", os.Getenv(tokenEnv), "bearer token for write routes")
	fs.StringVar(&g.caller, "caller", "", "caller address sent when bearer auth is disabled")
	fs.DurationVar(&g.timeout, "timeout", 15*time.Second, "request timeout")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch rest[0] {
	case "keygen":
		return runKeygen(rest[1:], stdout, stderr)
	case "token":
		return runToken(rest[1:], stdout, stderr)
	case "help":
		fmt.Fprintln(stdout, usage())
		return 0
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	c, err := g.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	result, err := cmd(ctx, c, rest[1:], stderr)
	if err != nil {
		return reportError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}

func (g globals) client() (*client.Client, error) {
	opts := []client.Option{client.WithBearerToken(g.token)}
	if caller := strings.TrimSpace(g.caller); caller != "" {
		addr, err := crypto.ParseAddress(caller)
		if err != nil {
			return nil, fmt.Errorf("--caller: %v", err)
		}
		opts = append(opts, client.WithCaller(addr))
	}
	return client.New(g.endpoint, opts...)
}

// errUsage marks a flag error that has already been reported.
var errUsage = errors.New("usage")

func reportError(stderr io.Writer, err error) int {
	if errors.Is(err, errUsage) {
		return 1
	}
	var apiErr *client.Error
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		fmt.Fprintf(stderr, "Error (%s): %s\n", apiErr.Code, apiErr.Message)
		return 2
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func writeResult(w io.Writer, v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "%v\n", v)
		return
	}
	fmt.Fprintln(w, string(encoded))
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func usage() string {
	return strings.TrimSpace(`Usage:
  lendctl [--endpoint URL] [--token JWT] [--caller ADDR] <command> [flags]

Ledger commands:
  market      Show the ledger-wide market state
  position    Show an account position (--addr)
  supply      Show the accrued token supply (--asset)
  balances    Show bank balances (--addr)
  initialize  Bootstrap the ledger (--asset, --value)
  deposit     Supply collateral (--asset, --amount, --value)
  borrow      Borrow tokens (--amount)
  repay       Repay debt (--amount)
  withdraw    Withdraw collateral (--asset, --amount)
  liquidate   Liquidate an undercollateralised borrower (--borrower, --amount)
  donate      Add native reserves (--value)
  approve     Allow the ledger to pull tokens (--amount)
  faucet      Mint development funds (--addr, --denom, --amount)
  advance     Advance a manual clock (--blocks)
  prices      List published oracle prices
  price       Publish an oracle price (--asset, --price)

Local commands:
  keygen      Generate a key pair and print its address
  token       Issue a bearer token (--secret-env, --subject, --scopes, --ttl)
`)
}
