package cachectl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	server "github.com/louisbranch/tablecache/internal/services/cache/app"
	"github.com/louisbranch/tablecache/internal/services/cache/expiration"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type stubClient struct {
	value      []byte
	err        error
	lastKey    string
	lastValue  []byte
	lastExpiry expiration.Options
	lastCtx    context.Context
}

func (s *stubClient) Get(ctx context.Context, key string, _ ...grpc.CallOption) ([]byte, error) {
	s.lastCtx, s.lastKey = ctx, key
	return s.value, s.err
}

func (s *stubClient) Refresh(ctx context.Context, key string, _ ...grpc.CallOption) error {
	s.lastCtx, s.lastKey = ctx, key
	return s.err
}

func (s *stubClient) Set(ctx context.Context, key string, value []byte, expiry expiration.Options, _ ...grpc.CallOption) error {
	s.lastCtx, s.lastKey, s.lastValue, s.lastExpiry = ctx, key, value, expiry
	return s.err
}

func (s *stubClient) Remove(ctx context.Context, key string, _ ...grpc.CallOption) error {
	s.lastCtx, s.lastKey = ctx, key
	return s.err
}

func (s *stubClient) Sweep(ctx context.Context, _ ...grpc.CallOption) (int64, error) {
	s.lastCtx = ctx
	return 3, s.err
}

func parse(t *testing.T, args ...string) Config {
	t.Helper()
	fs := flag.NewFlagSet("cachectl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func TestParseConfigDefaults(t *testing.T) {
	cfg := parse(t, "sweep")
	if cfg.Addr != "localhost:8095" {
		t.Fatalf("addr = %q, want localhost:8095", cfg.Addr)
	}
	if cfg.DialTimeout != 2*time.Second {
		t.Fatalf("dial timeout = %v, want 2s", cfg.DialTimeout)
	}
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("timeout = %v, want 10s", cfg.Timeout)
	}
	if cfg.Command != "sweep" || len(cfg.Args) != 0 {
		t.Fatalf("command = %q args = %v", cfg.Command, cfg.Args)
	}
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("TABLECACHE_ADDR", "cache:9000")
	cfg := parse(t, "-sliding", "5m", "-expires-in", "1h", "-json", "SET", "k", "v")
	if cfg.Addr != "cache:9000" {
		t.Fatalf("addr = %q, want cache:9000", cfg.Addr)
	}
	if cfg.Command != "set" {
		t.Fatalf("command = %q, want set", cfg.Command)
	}
	if cfg.Sliding != 5*time.Minute || cfg.Relative != time.Hour || !cfg.JSONOutput {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfigRejectsBadUsage(t *testing.T) {
	cases := [][]string{
		{},
		{"fetch", "k"},
		{"get"},
		{"set", "k"},
		{"sweep", "extra"},
		{"-nope", "get", "k"},
	}
	for _, args := range cases {
		fs := flag.NewFlagSet("cachectl", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		if _, err := ParseConfig(fs, args); err == nil {
			t.Fatalf("expected error for args %v", args)
		}
	}
}

func TestExecuteSetPassesOptions(t *testing.T) {
	client := &stubClient{}
	cfg := parse(t,
		"-sliding", "90s",
		"-absolute", "2030-01-02T03:04:05Z",
		"-expires-in", "1h",
		"-base64",
		"set", "k", "aGVsbG8=",
	)
	var out bytes.Buffer
	if err := Execute(context.Background(), cfg, client, &out); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if client.lastKey != "k" || string(client.lastValue) != "hello" {
		t.Fatalf("set key=%q value=%q", client.lastKey, client.lastValue)
	}
	want := time.Date(2030, time.January, 2, 3, 4, 5, 0, time.UTC)
	if client.lastExpiry.AbsoluteExpiration == nil || !client.lastExpiry.AbsoluteExpiration.Equal(want) {
		t.Fatalf("absolute = %v, want %v", client.lastExpiry.AbsoluteExpiration, want)
	}
	if client.lastExpiry.SlidingExpiration != 90*time.Second || client.lastExpiry.AbsoluteExpirationRelativeToNow != time.Hour {
		t.Fatalf("expiry = %+v", client.lastExpiry)
	}
	if strings.TrimSpace(out.String()) != "OK" {
		t.Fatalf("output = %q, want OK", out.String())
	}
}

func TestExecuteRejectsBadSetInput(t *testing.T) {
	client := &stubClient{}
	if err := Execute(context.Background(), parse(t, "-base64", "set", "k", "%%%"), client, nil); err == nil {
		t.Fatal("expected base64 error")
	}
	if err := Execute(context.Background(), parse(t, "-absolute", "tomorrow", "set", "k", "v"), client, nil); err == nil {
		t.Fatal("expected timestamp error")
	}
	if client.lastKey != "" {
		t.Fatalf("client called with key %q", client.lastKey)
	}
}

func TestExecuteGetWritesValue(t *testing.T) {
	client := &stubClient{value: []byte("hello")}

	var out bytes.Buffer
	if err := Execute(context.Background(), parse(t, "get", "k"), client, &out); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.String() != "hello\n" {
		t.Fatalf("output = %q, want hello", out.String())
	}

	out.Reset()
	if err := Execute(context.Background(), parse(t, "-json", "get", "k"), client, &out); err != nil {
		t.Fatalf("execute json: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if payload["key"] != "k" || payload["value"] != "aGVsbG8=" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestExecuteSweepWritesCount(t *testing.T) {
	var out bytes.Buffer
	if err := Execute(context.Background(), parse(t, "sweep"), &stubClient{}, &out); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "deleted 3") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestExecuteForwardsLocale(t *testing.T) {
	client := &stubClient{}
	if err := Execute(context.Background(), parse(t, "-locale", "pt-BR", "remove", "k"), client, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	md, ok := metadata.FromOutgoingContext(client.lastCtx)
	if !ok {
		t.Fatal("missing outgoing metadata")
	}
	if got := md.Get("accept-language"); len(got) != 1 || got[0] != "pt-BR" {
		t.Fatalf("accept-language = %v, want [pt-BR]", got)
	}
}

func TestExecuteDescribesStatusErrors(t *testing.T) {
	client := &stubClient{err: status.Error(codes.NotFound, "cache entry not found")}
	err := Execute(context.Background(), parse(t, "refresh", "k"), client, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "NotFound") {
		t.Fatalf("error = %q, want code in message", err)
	}
}

func TestExecuteRequiresClient(t *testing.T) {
	if err := Execute(context.Background(), parse(t, "sweep"), nil, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestRunAgainstServer(t *testing.T) {
	srv, err := server.NewWithAddr(context.Background(), "127.0.0.1:0", server.Config{
		Driver:     server.DriverSQLite,
		Connection: filepath.Join(t.TempDir(), "cache.db"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		runCancel()
		select {
		case <-serveDone:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for server shutdown")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := func(args ...string) (string, error) {
		cfg := parse(t, append([]string{"-addr", srv.Addr()}, args...)...)
		var out bytes.Buffer
		err := Run(ctx, cfg, &out, io.Discard)
		return out.String(), err
	}

	if _, err := run("-sliding", "1m", "set", "greeting", "hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := run("get", "greeting")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hello\n" {
		t.Fatalf("get output = %q, want hello", got)
	}
	if _, err := run("remove", "greeting"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := run("get", "greeting"); err == nil {
		t.Fatal("expected not found after remove")
	}
	if _, err := run("set", "nothing", "x"); err == nil || !strings.Contains(err.Error(), "InvalidArgument") {
		t.Fatalf("set without expiration error = %v", err)
	}
}
