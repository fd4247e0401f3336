// Package cachectl implements a command-line client for the cache service.
package cachectl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/tablecache/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/tablecache/internal/platform/grpc"
	cacheservice "github.com/louisbranch/tablecache/internal/services/cache/api/grpc/cache"
	"github.com/louisbranch/tablecache/internal/services/cache/expiration"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Usage summarizes the command line.
const Usage = "usage: cachectl [flags] get|refresh|remove <key> | set <key> <value> | sweep"

// Config holds cachectl command configuration.
type Config struct {
	Addr        string        `env:"ADDR"         envDefault:"localhost:8095"`
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"2s"`
	Timeout     time.Duration `env:"CTL_TIMEOUT"  envDefault:"10s"`
	Locale      string        `env:"LOCALE"`

	Sliding    time.Duration
	Absolute   string
	Relative   time.Duration
	Base64     bool
	JSONOutput bool

	Command string
	Args    []string
}

// ParseConfig parses environment, flags, and the subcommand into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	err := entrypoint.Load(fs, args, &cfg, func(fs *flag.FlagSet) {
		fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "cache service address")
		fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "time to wait for the service to report healthy")
		fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
		fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "preferred language for error messages (Accept-Language syntax)")
		fs.DurationVar(&cfg.Sliding, "sliding", 0, "sliding expiration for set")
		fs.StringVar(&cfg.Absolute, "absolute", "", "absolute expiration for set (RFC 3339)")
		fs.DurationVar(&cfg.Relative, "expires-in", 0, "absolute expiration for set, relative to now")
		fs.BoolVar(&cfg.Base64, "base64", false, "treat set values and get output as base64")
		fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON")
	})
	if err != nil {
		return Config{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New("a command is required: get, set, refresh, remove, or sweep")
	}
	cfg.Command = strings.ToLower(rest[0])
	cfg.Args = rest[1:]
	if err := validateArgs(cfg.Command, cfg.Args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateArgs(command string, args []string) error {
	switch command {
	case "get", "refresh", "remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <key>", command)
		}
	case "set":
		if len(args) != 2 {
			return errors.New("usage: set <key> <value>")
		}
	case "sweep":
		if len(args) != 0 {
			return errors.New("usage: sweep")
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// Client is the cache API used by cachectl.
type Client interface {
	Get(ctx context.Context, key string, opts ...grpc.CallOption) ([]byte, error)
	Refresh(ctx context.Context, key string, opts ...grpc.CallOption) error
	Set(ctx context.Context, key string, value []byte, expiry expiration.Options, opts ...grpc.CallOption) error
	Remove(ctx context.Context, key string, opts ...grpc.CallOption) error
	Sweep(ctx context.Context, opts ...grpc.CallOption) (int64, error)
}

// Run dials the cache service and executes the configured command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if errOut == nil {
		errOut = io.Discard
	}
	return entrypoint.Run(ctx, entrypoint.ServiceCacheCtl, func(ctx context.Context) error {
		conn, err := platformgrpc.Dial(ctx, platformgrpc.Target{
			Addr:    cfg.Addr,
			Service: cacheservice.ServiceName,
			Timeout: cfg.DialTimeout,
			Logf:    func(format string, args ...any) { fmt.Fprintf(errOut, format+"\n", args...) },
		})
		if err != nil {
			return fmt.Errorf("dial cache service: %w", err)
		}
		defer func() {
			if closeErr := conn.Close(); closeErr != nil {
				log.Printf("close cache connection: %v", closeErr)
			}
		}()
		return Execute(ctx, cfg, cacheservice.NewClient(conn), out)
	})
}

// Execute runs the configured command against client.
func Execute(ctx context.Context, cfg Config, client Client, out io.Writer) error {
	if client == nil {
		return errors.New("cache client is required")
	}
	if out == nil {
		out = io.Discard
	}
	if locale := strings.TrimSpace(cfg.Locale); locale != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "accept-language", locale)
	}

	var err error
	switch cfg.Command {
	case "get":
		var value []byte
		value, err = client.Get(ctx, cfg.Args[0])
		if err == nil {
			return writeValue(out, cfg, cfg.Args[0], value)
		}
	case "set":
		var (
			value  []byte
			expiry expiration.Options
		)
		value, err = decodeValue(cfg)
		if err != nil {
			return err
		}
		expiry, err = expiryOptions(cfg)
		if err != nil {
			return err
		}
		err = client.Set(ctx, cfg.Args[0], value, expiry)
		if err == nil {
			return writeResult(out, cfg, map[string]any{"key": cfg.Args[0], "stored": true}, "OK")
		}
	case "refresh":
		err = client.Refresh(ctx, cfg.Args[0])
		if err == nil {
			return writeResult(out, cfg, map[string]any{"key": cfg.Args[0], "refreshed": true}, "OK")
		}
	case "remove":
		err = client.Remove(ctx, cfg.Args[0])
		if err == nil {
			return writeResult(out, cfg, map[string]any{"key": cfg.Args[0], "removed": true}, "OK")
		}
	case "sweep":
		var deleted int64
		deleted, err = client.Sweep(ctx)
		if err == nil {
			return writeResult(out, cfg, map[string]any{"deleted": deleted}, fmt.Sprintf("deleted %d expired entries", deleted))
		}
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
	return describeError(err)
}

func decodeValue(cfg Config) ([]byte, error) {
	raw := cfg.Args[1]
	if !cfg.Base64 {
		return []byte(raw), nil
	}
	value, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base64 value: %w", err)
	}
	return value, nil
}

func expiryOptions(cfg Config) (expiration.Options, error) {
	opts := expiration.Options{
		SlidingExpiration:               cfg.Sliding,
		AbsoluteExpirationRelativeToNow: cfg.Relative,
	}
	if raw := strings.TrimSpace(cfg.Absolute); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return expiration.Options{}, fmt.Errorf("parse -absolute: %w", err)
		}
		opts.AbsoluteExpiration = &at
	}
	return opts, nil
}

func writeValue(out io.Writer, cfg Config, key string, value []byte) error {
	if cfg.JSONOutput {
		return writeJSON(out, map[string]any{"key": key, "value": base64.StdEncoding.EncodeToString(value)})
	}
	if cfg.Base64 {
		_, err := fmt.Fprintln(out, base64.StdEncoding.EncodeToString(value))
		return err
	}
	_, err := fmt.Fprintln(out, string(value))
	return err
}

func writeResult(out io.Writer, cfg Config, payload map[string]any, text string) error {
	if cfg.JSONOutput {
		return writeJSON(out, payload)
	}
	_, err := fmt.Fprintln(out, text)
	return err
}

func writeJSON(out io.Writer, payload any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

// describeError prefers the server's localized message over the raw status.
func describeError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, detail := range st.Details() {
		if msg, ok := detail.(*errdetails.LocalizedMessage); ok && msg.GetMessage() != "" {
			return fmt.Errorf("%s: %s", st.Code(), msg.GetMessage())
		}
	}
	return fmt.Errorf("%s: %s", st.Code(), st.Message())
}
