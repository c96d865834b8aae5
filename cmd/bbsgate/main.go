package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ryanfantus/bbsfw/internal/bytepump"
	"github.com/ryanfantus/bbsfw/internal/config"
	"github.com/ryanfantus/bbsfw/internal/encoding"
	"github.com/ryanfantus/bbsfw/internal/geoip"
	"github.com/ryanfantus/bbsfw/internal/ipfilter"
	"github.com/ryanfantus/bbsfw/internal/logging"
	"github.com/ryanfantus/bbsfw/internal/metrics"
	"github.com/ryanfantus/bbsfw/internal/session"
	"github.com/ryanfantus/bbsfw/internal/sshfront"
	"github.com/ryanfantus/bbsfw/internal/supervisor"
	"github.com/ryanfantus/bbsfw/internal/tcpfront"
)

type options struct {
	metricsAddr string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "bbsgate",
		Short: "Connection-admission and byte-forwarding gateway for a legacy BBS backend",
		Long: `bbsgate accepts client sessions on a plain TCP listener and, optionally,
an SSH listener, applies a layered admission policy (whitelist, blocklist,
rate limit, geo-filter, global connection cap), and shuttles bytes
bidirectionally to a backend TCP endpoint.

All configuration is read from the environment; see config.Load in
internal/config for the full variable list and defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&opt.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opt options) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return err
	}

	logging.SetDefault(logging.New(logging.Config{
		Level: logging.ParseLevel(cfg.LogLevel),
	}))
	log := logging.Default().WithComponent("main")

	whitelist, err := config.LoadEntries(cfg.WhitelistPath)
	if err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}
	blocklist, err := config.LoadEntries(cfg.BlocklistPath)
	if err != nil {
		return fmt.Errorf("load blocklist: %w", err)
	}

	filter := ipfilter.New(ipfilter.Config{
		Whitelist:               whitelist,
		Blocklist:               blocklist,
		RateLimitEnabled:        cfg.RateLimitEnabled,
		MaxConnectionsPerWindow: cfg.MaxConnectionsPerWindow,
		Window:                  time.Duration(cfg.RateLimitWindowMS) * time.Millisecond,
		BlockDuration:           time.Duration(cfg.RateLimitBlockDurationMS) * time.Millisecond,
	})
	filter.StartJanitor(time.Minute)
	defer filter.Stop()

	geoFilter := geoip.New(cfg.GeoDBPath)
	defer geoFilter.Close()

	sup := supervisor.New(supervisor.Config{MaxConnections: cfg.MaxConnections}, filter)

	m := metrics.New()
	m.RegisterMetrics()

	ports := encoding.PortConfig{
		DetectionEnabled: cfg.BackendPortUTF8 != cfg.BackendPort || cfg.BackendPortCP437 != cfg.BackendPort,
		DefaultPort:      cfg.BackendPort,
		UTF8Port:         cfg.BackendPortUTF8,
		CP437Port:        cfg.BackendPortCP437,
	}
	idleTimeout := time.Duration(cfg.ConnectionTimeoutMS) * time.Millisecond

	onSessionEnd := func(s *session.Session, result bytepump.Result) {
		m.RecordSession(result.BytesAtoB, result.BytesBtoA, result.Reason)
	}
	onAdmission := func(d ipfilter.Decision) {
		m.RecordAdmission(d)
	}

	tcpSrv := tcpfront.New(tcpfront.Config{
		ListenAddr:          fmt.Sprintf(":%d", cfg.ListenPort),
		Filter:              filter,
		Geo:                 geoFilter,
		Blocked:             cfg.BlockedCountries,
		BlockUnknownCountry: cfg.BlockUnknownCountries,
		Supervisor:          sup,
		BackendHost:         cfg.BackendHost,
		Ports:               ports,
		DialTimeout:         5 * time.Second,
		IdleTimeout:         idleTimeout,
		OnSessionEnd:        onSessionEnd,
		OnAdmission:         onAdmission,
	})
	sup.Register(tcpSrv)

	if cfg.SSHEnabled {
		hostKeyPEM, err := sshfront.LoadHostKey(cfg.SSHHostKey)
		if err != nil {
			return fmt.Errorf("load ssh host key %s: %w", cfg.SSHHostKey, err)
		}
		sshSrv, err := sshfront.New(sshfront.Config{
			ListenAddr:          fmt.Sprintf(":%d", cfg.SSHListenPort),
			HostKeyPEM:          hostKeyPEM,
			Ciphers:             cfg.SSHCiphers,
			Filter:              filter,
			Geo:                 geoFilter,
			Blocked:             cfg.BlockedCountries,
			BlockUnknownCountry: cfg.BlockUnknownCountries,
			Supervisor:          sup,
			BackendHost:         cfg.BackendHost,
			Ports:               ports,
			DialTimeout:         5 * time.Second,
			IdleTimeout:         idleTimeout,
			OnSessionEnd:        onSessionEnd,
			OnAdmission:         onAdmission,
		})
		if err != nil {
			return fmt.Errorf("sshfront: %w", err)
		}
		sup.Register(sshSrv)
	}

	sup.Run()
	log.Info("bbsgate started", "listen_port", cfg.ListenPort, "ssh_enabled", cfg.SSHEnabled)

	if opt.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(opt.metricsAddr, mux); err != nil {
				log.Error("metrics server exited", "error", err)
			}
		}()

		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		go func() {
			for range ticker.C {
				m.UpdateFromSupervisorStats(sup.GetStats())
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	<-sig
	log.Info("stopping")
	sup.Shutdown(context.Background())

	return nil
}
