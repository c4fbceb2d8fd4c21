// webserver serves the sample site: static assets, html pages and the user
// signup, login and listing controllers, one request per connection.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/config"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe/zlog"
)

// secretEnv overrides session.secret so it can stay out of config files.
const secretEnv = "WEBSERVER_SESSION_SECRET"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "webserver: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		return err
	}

	logger, err := zlog.NewLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	if cfg.Session.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		cfg.Session.Secret = secret
		logger.Warn().Msg("no session secret configured; sessions will not survive a restart")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}
	return a.serve(ctx, ln)
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("webserver", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a YAML config file")
	addr := fs.String("addr", "", "Listen address (overrides server.addr)")
	static := fs.String("static", "", "Static asset directory (overrides static.root)")
	templates := fs.String("templates", "", "HTML page directory (overrides static.templates)")
	logLevel := fs.String("log-level", "", "Log level (overrides log.level)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return config.Config{}, err
		}
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *static != "" {
		cfg.Static.Root = *static
	}
	if *templates != "" {
		cfg.Static.Templates = *templates
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if secret := os.Getenv(secretEnv); secret != "" {
		cfg.Session.Secret = secret
	}
	return cfg, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
