// README: Entry point; loads config, wires stores and services, runs the HTTP server and the tracking sweeper.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"karigar/internal/config"
	"karigar/internal/events"
	httptransport "karigar/internal/http"
	"karigar/internal/infra"
	"karigar/internal/maps"
	"karigar/internal/modules/booking"
	"karigar/internal/modules/entity"
	"karigar/internal/modules/location"
	"karigar/internal/modules/matching"
	"karigar/internal/modules/resolver"
	"karigar/internal/modules/route"
	"karigar/internal/types"
	"karigar/migrations"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	memory := pflag.Bool("memory", false, "use in-memory stores instead of Postgres and Redis")
	migrate := pflag.Bool("migrate", false, "apply the embedded schema before serving")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := infra.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *memory, *migrate); err != nil {
		log.Error("karigar-api stopped", "err", err)
		os.Exit(1)
	}
}

type stores struct {
	entities entity.Store
	lookup   resolver.Lookup
	workers  matching.WorkerSource
	bookings booking.Store
	tracks   location.Store
	index    matching.Index
	closers  []func()
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, memory, migrate bool) error {
	st, err := openStores(ctx, cfg, log, memory, migrate)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range st.closers {
			c()
		}
	}()

	var app *firebase.App
	if cfg.Firebase.ProjectID != "" {
		app, err = infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
	}
	var verifier infra.TokenVerifier
	switch {
	case app != nil:
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
	case !cfg.HTTP.TrustActorHeaders:
		return errors.New("set firebase.project_id or http.trust_actor_headers")
	}

	publisher, closePub, err := openPublisher(ctx, cfg, app, log)
	if err != nil {
		return err
	}
	defer closePub()

	var (
		geocoder booking.Geocoder
		provider route.Provider = unavailableProvider{}
	)
	if cfg.Maps.APIKey != "" {
		opts := maps.Options{APIKey: cfg.Maps.APIKey, Language: cfg.Maps.Language, Region: cfg.Maps.Region}
		client, err := maps.NewClient(opts)
		if err != nil {
			return err
		}
		geocoder = maps.NewGeocodeService(client, opts)
		provider = maps.NewRouteService(client, opts)
	} else {
		log.Warn("maps api key not set; geocoding disabled and route estimates unavailable")
	}

	dir := entity.NewService(st.entities, log)
	bookings := booking.NewService(booking.Deps{
		Store:     st.bookings,
		Directory: dir,
		Geocoder:  geocoder,
		Publisher: publisher,
		Logger:    log,
	})

	var index matching.Index
	if cfg.Matching.Policy == "nearest" {
		index = st.index
		bookings.SetSelector(matching.NewNearest(index, st.workers, matching.NearestConfig{
			RadiusKm: cfg.Matching.RadiusKm,
			Spread:   cfg.Matching.Spread,
		}, log))
	} else {
		bookings.SetSelector(matching.Manual{})
	}

	tracking := location.NewService(st.tracks, bookings, location.Config{HistoryLimit: cfg.Tracking.HistoryLimit}, log).
		WithPublisher(publisher)
	// Without nearest matching the index is nil and only the worker profile is synced.
	tracking.WithWorkerSync(dir, index)
	routes := route.NewService(bookings, tracking, provider, route.Config{
		ReuseWithinMeters: cfg.Route.ReuseWithinMeters,
		TTL:               cfg.Route.TTL,
		ProviderTimeout:   cfg.Route.ProviderTimeout,
	}, log)
	bookings.OnTerminal(tracking, routes)
	tracking.OnSweep(routes)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Bookings: bookings,
		Resolver: resolver.New(st.lookup),
		Entities: dir,
		Location: tracking,
		Route:    routes,
		Index:    index,
		Verifier: verifier,
		Logger:   log,
	})

	go tracking.RunSweeper(ctx, cfg.Tracking.SweepInterval)

	return httptransport.NewServer(cfg.HTTP.Addr, router, log).Run(ctx)
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger, memory, migrate bool) (*stores, error) {
	if memory {
		log.Warn("using in-memory stores; data is lost on exit")
		ents := entity.NewMemoryStore()
		return &stores{
			entities: ents,
			lookup:   ents,
			workers:  ents,
			bookings: booking.NewMemoryStore(ents),
			tracks:   location.NewMemoryStore(),
			index:    matching.NewMemoryIndex(),
		}, nil
	}

	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("schema applied")
	}
	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		db.Close()
		return nil, err
	}
	ents := entity.NewStore(db)
	return &stores{
		entities: ents,
		lookup:   ents,
		workers:  ents,
		bookings: booking.NewStore(db),
		tracks:   location.NewRedisStore(rdb),
		index:    matching.NewRedisIndex(rdb),
		closers:  []func(){db.Close, closeRedis(rdb, log)},
	}, nil
}

func closeRedis(rdb *redis.Client, log *slog.Logger) func() {
	return func() {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close", "err", err)
		}
	}
}

// openPublisher fans events out to every configured sink; the log sink is
// always present.
func openPublisher(ctx context.Context, cfg config.Config, app *firebase.App, log *slog.Logger) (events.Publisher, func(), error) {
	sinks := events.Fanout{events.NewLogPublisher(log)}
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RabbitMQ.URL != "" {
		conn, err := infra.NewRabbitMQ(cfg.RabbitMQ.URL)
		if err != nil {
			return nil, closeAll, err
		}
		pub, err := events.NewRabbitPublisher(conn, cfg.RabbitMQ.Exchange)
		if err != nil {
			_ = conn.Close()
			return nil, closeAll, err
		}
		sinks = append(sinks, pub)
		closers = append(closers, func() {
			_ = pub.Close()
			_ = conn.Close()
		})
	}
	if app != nil && cfg.Firebase.DatabaseURL != "" {
		client, err := app.Database(ctx)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("firebase app.Database: %w", err)
		}
		sinks = append(sinks, events.NewRTDBPublisher(client))
	}
	return sinks, closeAll, nil
}

type unavailableProvider struct{}

func (unavailableProvider) Route(context.Context, types.Point, types.Point) (maps.Route, error) {
	return maps.Route{}, errors.New("no routing provider configured")
}
