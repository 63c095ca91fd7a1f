// agentvaultctl is the operator CLI for an AgentVault daemon. Every command
// except keygen talks to the daemon over its REST API.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"AgentVault/internal/auth"
	"AgentVault/internal/custody"
	"AgentVault/sdk/go/agentvault"
)

const usage = `agentvaultctl manages agents and wallets held by an AgentVault daemon.

Usage:
  agentvaultctl [global flags] <command> [flags] [args]

Commands:
  keygen                              generate a master key for AGENTVAULT_MASTER_KEY
  mint-token --name N --perm P...     sign a jwt with AGENTVAULT_JWT_SECRET
  create-agent --spend-limit N        register an agent
  issue-wallet <agent> [--confirm-overwrite]
  address <agent>
  balance <agent>
  transfer <agent> <recipient> <amount>
  agents [--limit N]

Global flags:
`

type globals struct {
	server  string
	token   string
	timeout time.Duration
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globals
	flagSet := pflag.NewFlagSet("agentvaultctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&g.server, "server", envOr("AGENTVAULT_URL", "http://127.0.0.1:8080"), "daemon base URL")
	flagSet.StringVar(&g.token, "token", os.Getenv("AGENTVAULT_TOKEN"), "bearer token")
	flagSet.DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")
	flagSet.Usage = func() {
		fmt.Fprint(stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return errors.New("missing command")
	}
	command, cmdArgs := rest[0], rest[1:]

	switch command {
	case "keygen":
		return keygen(stdout)
	case "mint-token":
		return mintToken(cmdArgs, stdout, stderr)
	}

	client, err := agentvault.NewClient(g.server, nil)
	if err != nil {
		return err
	}
	client.SetToken(g.token)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	switch command {
	case "create-agent":
		return createAgent(ctx, client, cmdArgs, stdout, stderr)
	case "issue-wallet":
		return issueWallet(ctx, client, cmdArgs, stdout, stderr)
	case "address":
		id, err := oneArg(command, cmdArgs)
		if err != nil {
			return err
		}
		address, err := client.Address(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, address)
		return nil
	case "balance":
		id, err := oneArg(command, cmdArgs)
		if err != nil {
			return err
		}
		balance, err := client.Balance(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s (%s base units)\n", balance.Display, balance.Symbol, balance.BaseUnits)
		return nil
	case "transfer":
		if len(cmdArgs) != 3 {
			return errors.New("usage: transfer <agent> <recipient> <amount>")
		}
		result, err := client.Transfer(ctx, cmdArgs[0], cmdArgs[1], cmdArgs[2])
		if err != nil {
			return err
		}
		return printJSON(stdout, result)
	case "agents":
		return listAgents(ctx, client, cmdArgs, stdout, stderr)
	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func keygen(stdout io.Writer) error {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return fmt.Errorf("read entropy: %w", err)
	}
	encoded := hex.EncodeToString(raw)
	key, err := custody.NewMasterKey(raw)
	if err != nil {
		return err
	}
	defer key.Close()
	fmt.Fprintf(stdout, "%s=%s\n# fingerprint %s\n", custody.DefaultMasterKeyEnv, encoded, key.ID())
	return nil
}

func mintToken(args []string, stdout, stderr io.Writer) error {
	var (
		name        string
		permissions []string
		cfg         auth.JWTConfig
	)
	flagSet := pflag.NewFlagSet("mint-token", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&name, "name", "", "subject name")
	flagSet.StringSliceVar(&permissions, "perm", nil, "permission to grant (repeatable)")
	flagSet.StringVar(&cfg.SecretEnv, "secret-env", "AGENTVAULT_JWT_SECRET", "environment variable holding the signing secret")
	flagSet.StringVar(&cfg.Issuer, "issuer", "", "iss claim")
	flagSet.StringVar(&cfg.Audience, "audience", "", "aud claim")
	flagSet.IntVar(&cfg.TTLSeconds, "ttl", 3600, "lifetime in seconds")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	svc, err := auth.NewService(auth.Config{Mode: auth.ModeJWT, JWT: cfg})
	if err != nil {
		return err
	}
	token, expires, err := svc.IssueToken(name, permissions)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	fmt.Fprintf(stderr, "expires %s\n", expires.UTC().Format(time.RFC3339))
	return nil
}

func createAgent(ctx context.Context, client *agentvault.Client, args []string, stdout, stderr io.Writer) error {
	var req agentvault.CreateAgentRequest
	flagSet := pflag.NewFlagSet("create-agent", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&req.SpendLimit, "spend-limit", "", "per-transfer ceiling in display units")
	flagSet.StringVar(&req.Chain, "chain", "", "network name (default: daemon default)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(req.SpendLimit) == "" {
		return errors.New("--spend-limit is required")
	}
	created, err := client.CreateAgent(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(stdout, created)
}

func issueWallet(ctx context.Context, client *agentvault.Client, args []string, stdout, stderr io.Writer) error {
	var confirm bool
	flagSet := pflag.NewFlagSet("issue-wallet", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.BoolVar(&confirm, "confirm-overwrite", false, "replace an existing wallet, orphaning its funds")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	id, err := oneArg("issue-wallet", flagSet.Args())
	if err != nil {
		return err
	}
	issued, err := client.IssueWallet(ctx, id, confirm)
	if err != nil {
		if agentvault.IsCode(err, "WALLET_ALREADY_ISSUED") {
			return fmt.Errorf("%w (rerun with --confirm-overwrite to replace it)", err)
		}
		return err
	}
	if issued.Overwritten {
		fmt.Fprintf(stderr, "warning: previous address %s is orphaned\n", issued.PreviousPublicKey)
	}
	return printJSON(stdout, issued)
}

func listAgents(ctx context.Context, client *agentvault.Client, args []string, stdout, stderr io.Writer) error {
	var limit int
	flagSet := pflag.NewFlagSet("agents", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVar(&limit, "limit", 0, "maximum number of agents")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	agents, err := client.ListAgents(ctx, limit)
	if err != nil {
		return err
	}
	return printJSON(stdout, agents)
}

func oneArg(command string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <agent>", command)
	}
	return args[0], nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
