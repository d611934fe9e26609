// Package main provides a CLI tool for generating client identifiers and
// sign-in codes for local testing of the admin API.
// Identifiers signed with the dev key will NOT work in production.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"clubadmin/internal/admin/token"
	jwttoken "clubadmin/internal/jwt_token"
	"clubadmin/internal/platform/config"
)

const (
	clientIssuer     = "clubadmin"
	browserCookieTTL = 365 * 24 * time.Hour
)

type clientOutput struct {
	BrowserID    string            `json:"browser_id"`
	BrowserToken string            `json:"browser_token"`
	TabID        string            `json:"tab_id"`
	TabToken     string            `json:"tab_token"`
	Usage        map[string]string `json:"usage"`
}

type hashOutput struct {
	Code      string `json:"code"`
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "client":
		flags := pflag.NewFlagSet("client", pflag.ExitOnError)
		key := flags.String("signing-key", defaultSigningKey(), "client signing key (CLIENT_SIGNING_KEY)")
		browserID := flags.String("browser-id", "", "reuse an existing browser id")
		jsonOut := flags.Bool("json", false, "output as JSON")
		flags.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		generateClient(*key, *browserID, *jsonOut)
	case "code":
		flags := pflag.NewFlagSet("code", pflag.ExitOnError)
		algorithm := flags.String("hash", config.HashSHA256, "hash algorithm (sha256 or bcrypt)")
		code := flags.String("code", "", "hash this code instead of generating one")
		jsonOut := flags.Bool("json", false, "output as JSON")
		flags.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		generateCode(*algorithm, *code, *jsonOut)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Generate test credentials for the club admin API

WARNING: identifiers signed with the dev key will NOT work in production.

Usage:
  tokengen <command> [flags]

Commands:
  client    Sign a browser and tab identifier pair
  code      Generate a one-time sign-in code and its stored hash

Examples:
  # Browser and tab ids for curl
  tokengen client

  # A second tab of the same browser
  tokengen client --browser-id 6f1c...

  # A code for ADMIN_LOGIN_TOKEN, hashed with bcrypt
  tokengen code --hash bcrypt`)
}

func defaultSigningKey() string {
	if key := os.Getenv("CLIENT_SIGNING_KEY"); key != "" {
		return key
	}
	return config.Default().Server.ClientSigningKey
}

func generateClient(signingKey, browserID string, jsonOutput bool) {
	svc := jwttoken.NewClientTokenService(signingKey, clientIssuer)

	var browserToken string
	var err error
	if browserID == "" {
		browserID, browserToken, err = svc.NewID(jwttoken.KindBrowser, browserCookieTTL)
	} else {
		browserToken, err = svc.Sign(jwttoken.KindBrowser, browserID, browserCookieTTL)
	}
	if err != nil {
		fail("sign browser id", err)
	}
	tabID, tabToken, err := svc.NewID(jwttoken.KindTab, 0)
	if err != nil {
		fail("sign tab id", err)
	}

	usage := map[string]string{
		"cookie": "admin_browser=" + browserToken,
		"header": "X-Admin-Tab: " + tabToken,
	}
	if jsonOutput {
		printJSON(clientOutput{
			BrowserID:    browserID,
			BrowserToken: browserToken,
			TabID:        tabID,
			TabToken:     tabToken,
			Usage:        usage,
		})
		return
	}
	fmt.Println("Client Identifiers")
	fmt.Println("==================")
	fmt.Printf("Browser ID: %s\n", browserID)
	fmt.Printf("Tab ID:     %s\n", tabID)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -b %q -H %q http://localhost:8080/admin/auth/state\n", usage["cookie"], usage["header"])
}

func generateCode(algorithm, code string, jsonOutput bool) {
	hasher, err := token.NewHasher(algorithm)
	if err != nil {
		fail("select hasher", err)
	}
	if code == "" {
		if code, err = token.GenerateCode(); err != nil {
			fail("generate code", err)
		}
	}
	hash, err := hasher.Hash(code)
	if err != nil {
		fail("hash code", err)
	}

	if jsonOutput {
		printJSON(hashOutput{Code: code, Algorithm: hasher.Name(), Hash: hash})
		return
	}
	fmt.Println("Sign-in Code")
	fmt.Println("============")
	fmt.Printf("Code:      %s\n", code)
	fmt.Printf("Algorithm: %s\n", hasher.Name())
	fmt.Printf("Hash:      %s\n", hash)
}

func fail(action string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", action, err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("encode JSON", err)
	}
}
