package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/avaliahq/tenancy/internal/audit"
	"github.com/avaliahq/tenancy/internal/auth"
	"github.com/avaliahq/tenancy/internal/logger"
	"github.com/avaliahq/tenancy/internal/meter"
	"github.com/avaliahq/tenancy/internal/server"
	"github.com/avaliahq/tenancy/internal/store"
	memorystore "github.com/avaliahq/tenancy/internal/store/memory"
	postgresstore "github.com/avaliahq/tenancy/internal/store/postgres"
	"github.com/avaliahq/tenancy/internal/telemetry"
	"github.com/avaliahq/tenancy/internal/tenant"
	"github.com/avaliahq/tenancy/internal/worker"
	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

type ServerCmd struct {
	// Server configuration
	Listen     string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TENANCY_LISTEN"`
	BaseDomain string `help:"apex domain for tenant subdomains (empty disables subdomain resolution)" default:"" env:"TENANCY_BASE_DOMAIN"`

	// Authentication
	JWTSecret     string `help:"HMAC secret for gateway-issued JWTs" env:"TENANCY_JWT_SECRET"`
	GatewaySecret string `help:"shared secret the gateway sends to authenticate the tenant header (empty disables header resolution)" default:"" env:"TENANCY_GATEWAY_SECRET"`
	AdminToken    string `help:"bearer token for the maintenance surface (empty disables it)" default:"" env:"TENANCY_ADMIN_TOKEN"`

	// Rate limiting
	RequestsPerMinute int `help:"per-IP request budget per minute" default:"600" env:"TENANCY_REQUESTS_PER_MINUTE"`

	// Plan catalog
	Catalog string `help:"path to the plan catalog YAML (empty uses the built-in catalog)" default:"" env:"TENANCY_CATALOG"`

	// Optional infrastructure
	RedisAddr    string   `help:"Redis address for the slug resolution cache (empty disables caching)" default:"" env:"TENANCY_REDIS_ADDR"`
	KafkaBrokers []string `help:"Kafka brokers for the audit stream (empty disables the Kafka sink)" env:"TENANCY_KAFKA_BROKERS"`

	Tracing bool `help:"enable tracing" default:"false" env:"TENANCY_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"TENANCY_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// ConnString is the application credential: a role constrained by the
	// row policies. The startup verification refuses superuser and
	// BYPASSRLS roles here.
	ConnString string `help:"PostgreSQL connection string (application credential)" env:"POSTGRES_CONNECTION_STRING"`

	// MaintenanceConnString is the privileged credential the sweeper and
	// migrations run on. It sees across tenants; nothing on the request
	// path ever touches it.
	MaintenanceConnString string `help:"PostgreSQL connection string (maintenance credential)" env:"POSTGRES_MAINTENANCE_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"TENANCY_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if s.MaintenanceConnString == "" {
		return errors.New("maintenance connection string is required (--postgres-maintenance-conn-string or POSTGRES_MAINTENANCE_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting tenancy server")

	if c.JWTSecret == "" {
		return errors.New("JWT secret is required (--jwt-secret or TENANCY_JWT_SECRET)")
	}

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "tenancyd", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Assemble the storage layer for the chosen backend.
	var (
		binder      store.SessionBinder
		orgs        store.OrganizationStore
		memberships store.MembershipStore
		invites     store.InviteStore
		subs        store.SubscriptionStore
		usage       store.UsageStore
		assessments store.AssessmentStore
		auditStore  store.AuditStore
		sweepStore  store.UsageSweeper
		verifier    store.PolicyVerifier
	)

	switch c.StoreType {
	case "postgres":
		appPool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create application pool: %w", err)
		}
		defer appPool.Close()

		// The maintenance pool is small: only migrations and the sweeper
		// use it.
		maintPool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString: c.PostgresStore.MaintenanceConnString,
			MaxConns:   2,
			MinConns:   1,
		})
		if err != nil {
			return fmt.Errorf("failed to create maintenance pool: %w", err)
		}
		defer maintPool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, maintPool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		binder = postgresstore.NewBinder(appPool)
		orgs = postgresstore.NewOrganizationStore(appPool)
		memberships = postgresstore.NewMembershipStore(appPool)
		invites = postgresstore.NewInviteStore(appPool)
		subs = postgresstore.NewSubscriptionStore(appPool)
		usage = postgresstore.NewUsageStore(appPool)
		assessments = postgresstore.NewAssessmentStore(appPool)
		auditStore = postgresstore.NewAuditStore(appPool)
		sweepStore = postgresstore.NewSweeper(maintPool)
		verifier = postgresstore.NewPolicyVerifier(appPool)

		log.Info().Msg("Using PostgreSQL stores with row-level isolation")

	default:
		binder = memorystore.NewBinder()
		orgs = memorystore.NewOrganizationStore()
		memberships = memorystore.NewMembershipStore()
		invites = memorystore.NewInviteStore()
		subs = memorystore.NewSubscriptionStore()
		memUsage := memorystore.NewUsageStore()
		usage = memUsage
		sweepStore = memUsage
		assessments = memorystore.NewAssessmentStore()
		auditStore = memorystore.NewAuditStore()
		verifier = memorystore.NewPolicyVerifier()

		log.Warn().Msg("Using in-memory stores. This should only be used in development!")
	}

	// Audit pipeline: durable store sink always, structured log sink
	// always, Kafka when brokers are configured.
	sinks := []audit.Sink{
		audit.NewStoreSink(auditStore),
		audit.NewLogSink(log),
	}
	if len(c.KafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(c.KafkaBrokers, audit.DefaultKafkaTopic)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka sink")
			}
		}()
		sinks = append(sinks, kafkaSink)
		log.Info().Strs("brokers", c.KafkaBrokers).Msg("Audit entries will stream to Kafka")
	}

	audits := audit.NewLogger(sinks...)
	defer func() {
		if err := audits.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to drain audit logger")
		}
	}()

	// The gate must open before any tenant traffic is served. A failed
	// verification is fatal at startup; at runtime it only trips
	// readiness.
	gate := server.NewGate(verifier, audits)
	if err := gate.Verify(ctx); err != nil {
		return fmt.Errorf("policy verification failed: %w", err)
	}
	log.Info().Msg("Schema policy verification passed")

	// Optional Redis cache in front of slug resolution. invalidator must
	// stay untyped nil when Redis is absent.
	var lookup tenant.OrganizationLookup = orgs
	var invalidator server.SlugInvalidator
	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()

		cache := tenant.NewCache(rdb, orgs)
		lookup = cache
		invalidator = cache
		log.Info().Str("addr", c.RedisAddr).Msg("Slug resolution cache enabled")
	}

	catalog := meter.DefaultCatalog()
	if c.Catalog != "" {
		loaded, err := meter.LoadCatalogFile(c.Catalog)
		if err != nil {
			return fmt.Errorf("failed to load plan catalog: %w", err)
		}
		catalog = loaded
		log.Info().Str("path", c.Catalog).Msg("Loaded plan catalog")
	}

	jwtVerifier, err := auth.NewVerifier(c.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to create JWT verifier: %w", err)
	}

	clk := clock.New()
	resolver := tenant.NewResolver(lookup, memberships)
	meters := meter.NewService(binder, subs, usage, catalog, clk, audits)
	provisioner := server.NewProvisioner(binder, orgs, memberships, subs, meters, clk, audits, invalidator)
	inviteSvc := server.NewInviteService(binder, invites, memberships, clk, audits)

	srv := server.NewServer(
		server.Config{
			BaseDomain:        c.BaseDomain,
			GatewaySecret:     c.GatewaySecret,
			AdminToken:        c.AdminToken,
			RequestsPerMinute: c.RequestsPerMinute,
		},
		jwtVerifier,
		resolver,
		server.Stores{Binder: binder, Memberships: memberships, Assessments: assessments},
		meters,
		provisioner,
		inviteSvc,
		gate,
		audits,
	)

	httpServer := configureHTTPServer(c.Listen, srv.Handler(log))
	sweeper := worker.NewSweeper(sweepStore, clk, audits)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info().Str("listen", c.Listen).Msg("Listening for HTTP connections")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
