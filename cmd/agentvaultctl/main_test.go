package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentVault/internal/auth"
	"AgentVault/internal/custody"
)

func TestKeygenOutputsLoadableKey(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"keygen"}, &out, &bytes.Buffer{}); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	line := strings.SplitN(out.String(), "\n", 2)[0]
	value := strings.TrimPrefix(line, custody.DefaultMasterKeyEnv+"=")
	key, err := custody.ParseMasterKey(value)
	if err != nil {
		t.Fatalf("generated key does not parse: %v", err)
	}
	defer key.Close()
	if !strings.Contains(out.String(), key.ID()) {
		t.Fatalf("fingerprint missing from output %q", out.String())
	}
}

func TestIssueWalletHintsAtConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ops" {
			t.Errorf("missing token")
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"WALLET_ALREADY_ISSUED","message":"agent already has a wallet"}}`))
	}))
	defer srv.Close()

	err := run(context.Background(), []string{"--server", srv.URL, "--token", "ops", "issue-wallet", "a1"}, &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "--confirm-overwrite") {
		t.Fatalf("expected confirmation hint, got %v", err)
	}
}

func TestTransferPrintsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/a1/transfers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"signature":"5sig","amount":"1","amount_base_units":1000000000,"recipient":"Dest","chain":"solana-devnet"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := run(context.Background(), []string{"--server", srv.URL, "transfer", "a1", "Dest", "1"}, &out, &bytes.Buffer{}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !strings.Contains(out.String(), `"signature": "5sig"`) {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"unknown"},
		{"address"},
		{"transfer", "a1", "Dest"},
		{"create-agent"},
	}
	for _, args := range cases {
		if err := run(context.Background(), append([]string{"--server", "http://127.0.0.1:1"}, args...), &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestMintTokenVerifies(t *testing.T) {
	t.Setenv("AGENTVAULT_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	var out bytes.Buffer
	args := []string{"mint-token", "--name", "frontend", "--perm", "agents:read", "--perm", "transfers:write", "--issuer", "ops"}
	if err := run(context.Background(), args, &out, &bytes.Buffer{}); err != nil {
		t.Fatalf("mint-token: %v", err)
	}

	svc, err := auth.NewService(auth.Config{Mode: auth.ModeJWT, JWT: auth.JWTConfig{SecretEnv: "AGENTVAULT_JWT_SECRET", Issuer: "ops"}})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify minted token: %v", err)
	}
	if subject.Name != "frontend" || !subject.HasPermission(auth.PermissionTransfersWrite) {
		t.Fatalf("unexpected subject %+v", subject)
	}
}
