// Command bottica verifies that client addresses belong to the crawlers they
// claim to be.
//
//	bottica verify --ip 66.249.66.1 --bot Googlebot
//	bottica verify --ip 66.249.66.1 --ua "Mozilla/5.0 (compatible; Googlebot/2.1)"
//	bottica parse "Mozilla/5.0 (compatible; bingbot/2.0)"
//	bottica validate bots.yaml
//	bottica serve --addr :8080 --config bots.yaml --watch
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/synqronlabs/bottica"
	"github.com/synqronlabs/bottica/dns"
	"github.com/synqronlabs/bottica/httpapi"
	"github.com/synqronlabs/bottica/identity"
	"github.com/synqronlabs/bottica/registry"
)

// errNotVerified makes verify exit with status 1 without printing an error.
var errNotVerified = errors.New("not verified")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errNotVerified) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

type globalFlags struct {
	configs      []string
	rules        []string
	nameservers  []string
	dnssec       bool
	uaFallback   bool
	skipDefaults bool
	maxTries     int
	timeout      time.Duration
	verbose      bool
}

func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// open builds a Bottica from the global flags.
func (g *globalFlags) open(logger *slog.Logger) (*bottica.Bottica, error) {
	var resolver dns.Resolver
	if len(g.nameservers) > 0 || g.dnssec {
		resolver = dns.NewResolver(dns.ResolverConfig{
			Nameservers: g.nameservers,
			DNSSEC:      g.dnssec,
			Timeout:     g.timeout,
		})
	}

	var matcher *identity.Matcher
	if g.uaFallback {
		m, err := identity.NewMatcher(identity.MatcherConfig{
			Rules:    identity.Builtin(),
			Fallback: identity.UserAgentFallback,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		matcher = m
	}

	b, err := bottica.New(bottica.Config{
		Resolver:       resolver,
		Matcher:        matcher,
		MaxTries:       g.maxTries,
		AttemptTimeout: g.timeout,
		SkipDefaults:   g.skipDefaults,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	for _, path := range g.configs {
		if err := b.LoadConfigurationFile(path); err != nil {
			return nil, err
		}
	}
	for _, path := range g.rules {
		if err := b.AddIdentityRulesFile(path); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "bottica",
		Short:         "Verify search engine crawlers by IP address",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringArrayVarP(&g.configs, "config", "c", nil, "bot configuration file (repeatable, later files win)")
	pf.StringArrayVar(&g.rules, "rules", nil, "identity rules file (repeatable)")
	pf.StringArrayVar(&g.nameservers, "nameserver", nil, "query this DNS server (host:port) directly (repeatable)")
	pf.BoolVar(&g.dnssec, "dnssec", false, "request DNSSEC validation from the nameservers")
	pf.BoolVar(&g.uaFallback, "ua-fallback", false, "name self-declared bots that no rule matches")
	pf.BoolVar(&g.skipDefaults, "skip-defaults", false, "do not load the built-in bots")
	pf.IntVar(&g.maxTries, "max-tries", bottica.DefaultMaxTries, "DNS attempts per lookup")
	pf.DurationVar(&g.timeout, "timeout", 5*time.Second, "timeout of a single DNS attempt")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		newVerifyCmd(g),
		newParseCmd(g),
		newValidateCmd(),
		newServeCmd(g),
	)
	return root
}

func newVerifyCmd(g *globalFlags) *cobra.Command {
	var ip, bot, ua string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify that an address belongs to a bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := bottica.ParseIP(ip)
			if err != nil {
				return err
			}

			b, err := g.open(g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			var v bottica.Verdict
			if bot != "" {
				v, err = b.Verify(cmd.Context(), addr, bot)
			} else {
				v, err = b.VerifyByIdentity(cmd.Context(), addr, ua)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := v.ToJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			} else {
				printVerdict(out, v)
			}

			if !v.Verified {
				return errNotVerified
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&ip, "ip", "", "client IP address")
	f.StringVar(&bot, "bot", "", "claimed bot name")
	f.StringVar(&ua, "ua", "", "claimed identity, usually a User-Agent")
	f.BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	_ = cmd.MarkFlagRequired("ip")
	cmd.MarkFlagsMutuallyExclusive("bot", "ua")
	cmd.MarkFlagsOneRequired("bot", "ua")
	return cmd
}

func printVerdict(w io.Writer, v bottica.Verdict) {
	status := "REJECTED"
	if v.Verified {
		status = "VERIFIED"
	}
	fmt.Fprintf(w, "%s %s %s", status, v.IP, v.Bot)
	if v.Failed != "" {
		fmt.Fprintf(w, " (failed %s)", v.Failed)
	}
	fmt.Fprintln(w)
}

func newParseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "parse IDENTITY",
		Short: "Print the bot name an identity string maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := g.open(g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			name := b.ParseIdentity(args[0])
			if name == "" {
				return fmt.Errorf("no bot matches %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check bot configuration files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, path := range args {
				doc, err := registry.ParseFile(path)
				if err == nil {
					err = registry.Validate(doc)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d bots)\n", path, len(doc.Bots))
			}
			return errors.Join(errs...)
		},
	}
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	var watch, metrics bool
	var requestTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the verification HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := g.logger(cmd.ErrOrStderr())

			b, err := g.open(logger)
			if err != nil {
				return err
			}

			if watch {
				for _, path := range g.configs {
					w, err := b.WatchConfigurationFile(path)
					if err != nil {
						return err
					}
					defer w.Close()
				}
			}

			r := chi.NewRouter()
			httpapi.New(b, httpapi.Config{
				RequestTimeout: requestTimeout,
				Metrics:        metrics,
				Logger:         logger,
			}).Register(r)

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("listening", slog.String("addr", ln.Addr().String()), slog.Int("bots", b.Registry().Len()))
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Serve(ln)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.BoolVar(&watch, "watch", false, "reload configuration files when they change")
	f.BoolVar(&metrics, "metrics", true, "serve Prometheus metrics on /metrics")
	f.DurationVar(&requestTimeout, "request-timeout", 10*time.Second, "per-request timeout")
	return cmd
}
