package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/andres-erbsen/clock"
	"github.com/jmoiron/sqlx"

	"github.com/peerhub/peerhub/compat/hashstore"
	"github.com/peerhub/peerhub/compat/qbitapi"
	"github.com/peerhub/peerhub/compat/restapi"
	"github.com/peerhub/peerhub/compat/torznab"
	"github.com/peerhub/peerhub/config"
	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/hub/wsserver"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/adapter/amule"
	"github.com/peerhub/peerhub/lib/adapter/qbittorrent"
	"github.com/peerhub/peerhub/lib/adapter/rtorrent"
	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/lib/category"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/events"
	"github.com/peerhub/peerhub/lib/fetch"
	"github.com/peerhub/peerhub/lib/history"
	"github.com/peerhub/peerhub/lib/metricstore"
	"github.com/peerhub/peerhub/lib/moveop"
	"github.com/peerhub/peerhub/lib/scheduler"
	"github.com/peerhub/peerhub/lib/userstore"
	"github.com/peerhub/peerhub/localdb"
	"github.com/peerhub/peerhub/metrics"
	"github.com/peerhub/peerhub/utils/configutil"
	"github.com/peerhub/peerhub/utils/log"
)

// reconnector is satisfied by every adapter through its embedded base.
type reconnector interface {
	ScheduleReconnect(init func(ctx context.Context) error)
}

func main() {
	configFile := flag.String("config", "", "deployment configuration file")
	dataDir := flag.String("data_dir", "/var/lib/peerhub", "data directory holding config.json and databases")
	flag.Parse()

	var cfg Config
	if *configFile != "" {
		if err := configutil.Load(*configFile, &cfg); err != nil {
			panic(err)
		}
	}
	zlog, err := log.New(cfg.Logging, nil)
	if err != nil {
		panic(err)
	}
	defer zlog.Sync()
	log.SetGlobalLogger(zlog.Sugar())

	stats, closer, err := metrics.New(cfg.Metrics)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	runtime, err := config.Load(*dataDir)
	if err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}

	clk := clock.New()

	open := func(name string, migrations []localdb.Migration) *sqlx.DB {
		db, err := localdb.New(filepath.Join(*dataDir, name), migrations)
		if err != nil {
			log.Fatalf("Failed to open %s: %s", name, err)
		}
		return db
	}
	usersDB := open("users.db", userstore.Migrations())
	sessionsDB := open("sessions.db", userstore.SessionMigrations())
	historyDB := open("history.db", history.Migrations())
	moveDB := open("move_ops.db", moveop.Migrations())
	metricsDB := open("metrics.db", metricstore.Migrations())
	hashesDB := open("hashes.db", hashstore.Migrations())

	users := userstore.New(usersDB)
	cfg.Sessions.Secret = runtime.Server.Auth.SessionSecret
	sessions, err := userstore.NewSessionStore(cfg.Sessions, sessionsDB, clk)
	if err != nil {
		log.Fatalf("Failed to create session store: %s", err)
	}
	hist := history.New(
		history.Config{RetentionDays: runtime.History.RetentionDays}, historyDB, clk)
	samples := metricstore.New(cfg.Samples, metricsDB, clk)
	hashes := hashstore.New(hashesDB)

	if err := bootstrapAdminUser(users, runtime); err != nil {
		log.Fatalf("Failed to bootstrap admin account: %s", err)
	}

	registry := clientregistry.New()
	categories, err := category.New(cfg.Category, *dataDir, registry, clk)
	if err != nil {
		log.Fatalf("Failed to create category manager: %s", err)
	}

	dispatcher := events.NewDispatcher(clk)
	if runtime.EventScripting.Enabled {
		dispatcher.Subscribe(events.NewScriptSink(runtime.EventScripting.Scripts, 0))
	}

	moves, err := moveop.NewManager(
		cfg.MoveOps, stats, moveop.NewStore(moveDB), registry, categories, dispatcher)
	if err != nil {
		log.Fatalf("Failed to create move manager: %s", err)
	}
	defer moves.Close()

	var geo fetch.GeoResolver
	if runtime.Directories.GeoIP != "" {
		mm, err := fetch.OpenMaxmindGeoResolver(runtime.Directories.GeoIP)
		if err != nil {
			log.Errorf("GeoIP database unavailable, peers stay unenriched: %s", err)
		} else {
			defer mm.Close()
			geo = mm
		}
	}
	fetcher := fetch.New(
		cfg.Fetch, registry, categories, hist, moves,
		geo, fetch.NewDNSHostResolver(0), clk, stats)

	gate := auth.NewGate(cfg.LoginGate, users, sessions, clk, stats)
	defer gate.Close()

	authDisabled := !runtime.Server.Auth.Enabled
	cfg.WSServer.AuthDisabled = authDisabled
	cfg.QbitAPI.AuthDisabled = authDisabled
	cfg.Torznab.AuthDisabled = authDisabled
	cfg.RestAPI.AuthDisabled = authDisabled
	cfg.RestAPI.TrustedProxy = restapi.TrustedProxy{
		Enabled: runtime.Server.Auth.TrustedProxy.Enabled,
		Header:  runtime.Server.Auth.TrustedProxy.Header,
		Proxies: runtime.Server.Auth.TrustedProxy.Proxies,
	}

	startClients(runtime, registry)

	ws := wsserver.New(
		cfg.WSServer, stats, clk, registry, categories, fetcher, hist, moves,
		sessions, users, dispatcher)
	defer ws.Close()
	dispatcher.Subscribe(ws)

	sched := scheduler.New(cfg.Scheduler, stats, clk,
		func(ctx context.Context) error {
			batch, err := fetcher.FetchBatch(ctx)
			if err != nil {
				return err
			}
			ws.BroadcastBatch(batch)
			sampleMetrics(ctx, registry, samples)
			return nil
		},
		scheduler.Cleanup{Name: "metric_samples", Run: samples.Prune},
		scheduler.Cleanup{Name: "sessions", Run: sessions.PruneExpired},
		scheduler.Cleanup{Name: "history", Run: hist.Prune},
	)
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %s", err)
	}
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/api/", restapi.New(
		cfg.RestAPI, stats, users, sessions, gate, ws, registry).Handler())
	mux.Handle("/api/v2/", qbitapi.New(
		cfg.QbitAPI, stats, registry, categories, fetcher, hashes, users).Handler())
	mux.Handle("/indexer/", torznab.New(
		cfg.Torznab, stats, registry, hashes, users).Handler())

	if !runtime.FirstRunCompleted {
		runtime.FirstRunCompleted = true
		if err := runtime.Save(*dataDir); err != nil {
			log.Errorf("Failed to persist configuration: %s", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", runtime.Server.Host, runtime.Server.Port)
	log.Infof("Starting hub on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

// startClients registers and connects every enabled client instance.
// Initial connect failures are not fatal; the adapter keeps retrying in the
// background.
func startClients(runtime *config.Config, registry *clientregistry.Registry) {
	for _, cc := range runtime.Clients {
		if !cc.Enabled {
			continue
		}
		var a adapter.Adapter
		switch cc.Type {
		case core.TypeAmule:
			a = amule.New(amule.Config{
				Host:     cc.Host,
				Port:     cc.Port,
				Password: cc.Password,
			})
		case core.TypeQBittorrent:
			a = qbittorrent.New(qbittorrent.Config{
				Host:     cc.Host,
				Port:     cc.Port,
				Username: cc.Username,
				Password: cc.Password,
			})
		case core.TypeRTorrent:
			a = rtorrent.New(rtorrent.Config{
				Host: cc.Host,
				Port: cc.Port,
			})
		default:
			log.Fatalf("Unknown client type %q", cc.Type)
		}
		if err := registry.Register(
			cc.ID, cc.Type, a, clientregistry.Options{DisplayName: cc.DisplayName}); err != nil {

			log.Fatalf("Failed to register %s: %s", cc.ID, err)
		}
		go func(a adapter.Adapter, id string) {
			if err := a.Init(context.Background()); err != nil {
				log.With("instance", id).Errorf("Initial connect: %s", err)
				a.(reconnector).ScheduleReconnect(a.Init)
			}
		}(a, cc.ID)
	}
}

// sampleMetrics writes one telemetry row per connected instance.
func sampleMetrics(
	ctx context.Context,
	registry *clientregistry.Registry,
	samples *metricstore.Store) {

	var rows []metricstore.Sample
	for _, a := range registry.GetConnected() {
		raw, err := a.GetStats(ctx)
		if err != nil {
			log.With("instance", a.InstanceID()).Errorf("Get stats: %s", err)
			continue
		}
		m := a.ExtractMetrics(raw)
		rows = append(rows, metricstore.Sample{
			InstanceID:    a.InstanceID(),
			UploadSpeed:   m.UploadSpeed,
			DownloadSpeed: m.DownloadSpeed,
			UploadTotal:   m.UploadTotal,
			DownloadTotal: m.DownloadTotal,
		})
	}
	if len(rows) == 0 {
		return
	}
	if err := samples.Insert(rows); err != nil {
		log.Errorf("Insert metric samples: %s", err)
	}
}

// bootstrapAdminUser creates the initial admin account from configuration
// when the user table is empty. Without it a fresh install with auth enabled
// would be unreachable.
func bootstrapAdminUser(users *userstore.Store, runtime *config.Config) error {
	if !runtime.Server.Auth.Enabled || runtime.Server.Auth.Password == "" {
		return nil
	}
	existing, err := users.ListUsers()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	hash, err := auth.HashPassword(runtime.Server.Auth.Password)
	if err != nil {
		return err
	}
	u, err := users.CreateUser(runtime.Server.Auth.AdminUsername, hash, true, nil)
	if err != nil {
		return err
	}
	log.With("username", u.Username).Info("Created initial admin account")
	return nil
}
