package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"lendledger/crypto"
	"lendledger/services/lendingd/client"
)

type command func(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error)

var commands = map[string]command{
	"market":     runMarket,
	"position":   runPosition,
	"supply":     runSupply,
	"balances":   runBalances,
	"initialize": runInitialize,
	"deposit":    runDeposit,
	"borrow":     runBorrow,
	"repay":      runRepay,
	"withdraw":   runWithdraw,
	"liquidate":  runLiquidate,
	"donate":     runDonate,
	"approve":    runApprove,
	"faucet":     runFaucet,
	"advance":    runAdvance,
	"prices":     runPrices,
	"price":      runPrice,
}

// flagSet wraps flag parsing and required-flag checks for one command.
type flagSet struct {
	*flag.FlagSet
	stderr   io.Writer
	required []requiredFlag
}

type requiredFlag struct {
	name  string
	value *string
}

func newFlagSet(name string, stderr io.Writer) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return &flagSet{FlagSet: fs, stderr: stderr}
}

func (f *flagSet) requireString(name, usage string) *string {
	value := f.String(name, "", usage)
	f.required = append(f.required, requiredFlag{name: name, value: value})
	return value
}

func (f *flagSet) parse(args []string) error {
	if err := f.Parse(args); err != nil {
		return errUsage
	}
	if f.NArg() > 0 {
		fmt.Fprintln(f.stderr, "Error: unexpected positional arguments")
		return errUsage
	}
	for _, req := range f.required {
		trimmed := strings.TrimSpace(*req.value)
		if trimmed == "" {
			fmt.Fprintf(f.stderr, "Error: --%s is required\n", req.name)
			return errUsage
		}
		*req.value = trimmed
	}
	return nil
}

func parseAddr(flagName, raw string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("--%s: %v", flagName, err)
	}
	return addr, nil
}

func runMarket(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	if err := newFlagSet("market", stderr).parse(args); err != nil {
		return nil, err
	}
	return c.Market(ctx)
}

func runPosition(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("position", stderr)
	raw := fs.requireString("addr", "account address")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	addr, err := parseAddr("addr", *raw)
	if err != nil {
		return nil, err
	}
	return c.Position(ctx, addr)
}

func runSupply(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("supply", stderr)
	asset := fs.requireString("asset", "asset address")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	amount, err := c.AccruedSupply(ctx, *asset)
	if err != nil {
		return nil, err
	}
	return map[string]string{"asset": *asset, "amount": amount}, nil
}

func runBalances(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("balances", stderr)
	raw := fs.requireString("addr", "account address")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	addr, err := parseAddr("addr", *raw)
	if err != nil {
		return nil, err
	}
	return c.Balances(ctx, addr)
}

func runInitialize(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("initialize", stderr)
	asset := fs.String("asset", "native", "bootstrap asset")
	value := fs.String("value", "", "attached native value")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	return c.Initialize(ctx, *asset, *value)
}

func runDeposit(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("deposit", stderr)
	asset := fs.String("asset", "native", "collateral asset")
	amount := fs.requireString("amount", "amount to deposit")
	value := fs.String("value", "", "attached native value, defaults to --amount for native deposits")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	if *value == "" && *asset == "native" {
		*value = *amount
	}
	return c.Deposit(ctx, *asset, *amount, *value)
}

func runBorrow(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("borrow", stderr)
	amount := fs.requireString("amount", "tokens to borrow")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	return c.Borrow(ctx, *amount)
}

func runRepay(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("repay", stderr)
	amount := fs.requireString("amount", "tokens to repay")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	return c.Repay(ctx, *amount)
}

func runWithdraw(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("withdraw", stderr)
	asset := fs.String("asset", "native", "collateral asset")
	amount := fs.requireString("amount", "amount to withdraw")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	return c.Withdraw(ctx, *asset, *amount)
}

func runLiquidate(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("liquidate", stderr)
	raw := fs.requireString("borrower", "borrower address")
	amount := fs.requireString("amount", "debt to repay on the borrower's behalf")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	borrower, err := parseAddr("borrower", *raw)
	if err != nil {
		return nil, err
	}
	return c.Liquidate(ctx, borrower, *amount)
}

func runDonate(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("donate", stderr)
	value := fs.requireString("value", "native value to donate")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	return c.Donate(ctx, *value)
}

func runApprove(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("approve", stderr)
	amount := fs.requireString("amount", "allowance granted to the ledger")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	return c.Approve(ctx, *amount)
}

func runFaucet(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("faucet", stderr)
	raw := fs.requireString("addr", "recipient address")
	denom := fs.String("denom", "native", "native or token")
	amount := fs.requireString("amount", "amount to mint")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	addr, err := parseAddr("addr", *raw)
	if err != nil {
		return nil, err
	}
	return c.Faucet(ctx, addr, *denom, *amount)
}

func runAdvance(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("advance", stderr)
	blocks := fs.Uint64("blocks", 1, "blocks to advance")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	height, err := c.Advance(ctx, *blocks)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"height": height}, nil
}

func runPrices(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	if err := newFlagSet("prices", stderr).parse(args); err != nil {
		return nil, err
	}
	return c.Prices(ctx)
}

func runPrice(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("price", stderr)
	asset := fs.String("asset", "native", "priced asset")
	price := fs.requireString("price", "price in 1e18 fixed point")
	if err := fs.parse(args); err != nil {
		return nil, err
	}
	return c.PublishPrice(ctx, *asset, *price)
}
