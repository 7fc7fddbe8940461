package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"lendledger/crypto"
	"lendledger/services/lendingd/middleware"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	writeResult(stdout, map[string]string{
		"address":    key.PubKey().Address().String(),
		"privateKey": hex.EncodeToString(key.Bytes()),
	})
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secretEnv := fs.String("secret-env", "LENDINGD_JWT_SECRET", "environment variable holding the HMAC secret")
	subject := fs.String("subject", "", "caller address embedded as the sub claim")
	scopes := fs.String("scopes", middleware.ScopeWrite, "comma separated scopes")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*subject) == "" {
		fmt.Fprintln(stderr, "Error: --subject is required")
		return 1
	}
	caller, err := crypto.ParseAddress(strings.TrimSpace(*subject))
	if err != nil {
		fmt.Fprintf(stderr, "Error: --subject: %v\n", err)
		return 1
	}
	var granted []string
	for _, scope := range strings.Split(*scopes, ",") {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			granted = append(granted, trimmed)
		}
	}
	token, err := middleware.IssueToken(os.Getenv(*secretEnv), caller, granted, *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
