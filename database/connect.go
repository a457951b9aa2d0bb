package database

import (
	"context"
	"fmt"
	"strconv"

	"backbone/config"
	"backbone/logging"
	"backbone/metrics"
	"backbone/registry"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ConnectAll opens a pool for every database.servers entry that is not marked
// ignore_bootstrap, keyed by server. Servers are handled one after the other.
func ConnectAll(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, console *logging.Console) (*registry.Registry[*Pool], error) {
	console.Headline("database")
	pools := registry.New[*Pool]()
	known := KnownCertificates(cfg)

	for _, server := range cfg.Database.Servers {
		if server.IgnoreBootstrap {
			continue
		}

		pool, err := Open(ctx, cfg, server)
		if err != nil {
			if cfg.StartupMode != config.StartupModeGraceful {
				CloseAll(pools)
				return nil, err
			}
			logger.Errorw("Database bootstrap failed", "name", server.DisplayName(), "error", err)
			continue
		}

		if err := pool.Ping(ctx); err != nil {
			metrics.SetConnection("database", server.Server, false)
			if cfg.StartupMode != config.StartupModeGraceful {
				pool.Close()
				CloseAll(pools)
				return nil, fmt.Errorf("database %s connect failed: %w", server.DisplayName(), err)
			}
			logger.Errorw("Database connect failed", "name", server.DisplayName(), "addr", pool.Addr, "error", err)
		} else {
			metrics.SetConnection("database", server.Server, true)
			logger.Infow("Database pool ready", "name", server.DisplayName(), "driver", server.Driver, "addr", pool.Addr)
		}
		pools.Register(server.Server, pool)

		console.ServerInfo(serverInfo(pool))

		if !cfg.Database.CertificateCheck || !server.SSL.Enabled || server.SSL.CAFile == "" {
			continue
		}
		reports, err := InspectCAFile(server.SSL.CAFile, known)
		if err != nil {
			logger.Warnw("Certificate check failed", "name", server.DisplayName(), "error", err)
			continue
		}
		ListCertificates(console, reports)
	}

	return pools, nil
}

// ListCertificates prints the name and fingerprint of every certificate.
func ListCertificates(console *logging.Console, reports []CertificateReport) {
	for _, r := range reports {
		console.Listing("Certificate", r.Name)
		console.Listing("", r.Fingerprint)
	}
}

// CloseAll closes every pool and returns the combined errors.
func CloseAll(pools *registry.Registry[*Pool]) error {
	var errs error
	pools.Range(func(name string, p *Pool) bool {
		if err := p.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database %s: %w", name, err))
		}
		return true
	})
	return errs
}

func serverInfo(p *Pool) map[string]string {
	info := map[string]string{
		"Name":   p.Server.DisplayName(),
		"Driver": p.Driver,
	}
	if p.Driver == DriverSQLite {
		info["Database"] = p.Server.Database
		return info
	}

	info["Host/Port"] = p.Addr
	info["User"] = p.Server.User
	info["Database"] = p.Server.Database
	if p.Server.Timezone != "" {
		info["Timezone"] = p.Server.Timezone
	}
	info["SSL"] = strconv.FormatBool(p.Server.SSL.Enabled)
	return info
}
