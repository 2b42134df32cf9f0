// Command server is the entry point for the jukebox daemon: the
// server-side core of a tangible music appliance (spec §1). It wires every
// component (C1-C11) into a thejerf/suture supervision tree and serves the
// HTTP/WebSocket surface until an interrupt signal arrives.
//
// Initialization order mirrors the teacher's own cmd/server/main.go:
// configuration, then logging, then the durable store, then the domain
// components bottom-up (sequence generator, outbox, broadcaster, hub), then
// the higher-level components that depend on them (repository, upload
// engine, NFC machine, playback coordinator, sync controller), then the
// HTTP/WebSocket transport, and finally the supervision tree and signal
// handling.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/api"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/audioadapter"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/badgerstore"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/config"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/health"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/hub"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/memstore"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/metadata"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/nfc"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/nfchw"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/optracker"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/outbox"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/playback"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sequence"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/supervisor"
	synccontroller "github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sync"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/upload"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/wstransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("starting jukebox daemon")

	// --- durable store (badgerstore.Store) or in-memory fallback ---
	var store collab.Persistence
	if cfg.Storage.DurableOutbox {
		bs, err := badgerstore.Open(cfg.Storage.BadgerDir)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to open badger store")
		}
		store = bs
		logging.Info().Str("dir", cfg.Storage.BadgerDir).Msg("durable badger store opened")
	} else {
		store = memstore.New()
		logging.Info().Msg("running with in-memory persistence (storage.durable_outbox=false)")
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.Storage.UploadRoot, 0o755); err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Storage.UploadRoot).Msg("failed to create upload root")
	}
	uploadTempRoot := filepath.Join(cfg.Storage.UploadRoot, ".uploads-tmp")
	if err := os.MkdirAll(uploadTempRoot, 0o755); err != nil {
		logging.Fatal().Err(err).Str("dir", uploadTempRoot).Msg("failed to create upload temp root")
	}
	if err := os.MkdirAll(cfg.NFC.HardwareWatchDir, 0o755); err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.NFC.HardwareWatchDir).Msg("failed to create nfc hardware watch dir")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- C1 Sequence Generator, C2 Event Outbox, C4 Subscription Manager, C3 Broadcasting Service ---
	box := outbox.New(outbox.Config{
		GlobalCapacity: cfg.Outbox.GlobalCapacity,
		PerPlaylistCap: cfg.Outbox.PerPlaylistCap,
	}, store)

	startGlobal, err := box.RecoverMaxPersistedSeq(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to recover sequence state from durable store")
	}
	seq := sequence.New(startGlobal)

	hubManager := hub.New()
	pub := broadcast.New(seq, box, hubManager)

	// --- C6 Playlist Repository ---
	repo := library.New(store, pub)
	if err := repo.Load(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to load playlist repository")
	}
	seedPlaylistSequences(seq, repo)

	// --- C5 Operation Tracker ---
	ops := optracker.New(cfg.Operation.IdempotencyTTL)

	// --- C7 Upload Engine ---
	uploadEngine := upload.New(upload.Config{
		UploadRoot:        cfg.Storage.UploadRoot,
		TempRoot:          uploadTempRoot,
		ChunkSize:         cfg.Upload.DefaultChunkSize,
		MaxUploadBytes:    cfg.Storage.MaxUploadBytes,
		AllowedExtensions: upload.DefaultAllowedExtensions(),
		SessionTTL:        cfg.Upload.SessionTTL,
	}, repo, pub, metadata.New())

	// --- C9 Playback Coordinator ---
	audioBackend := audioadapter.New()
	pb := playback.New(audioBackend, repo, pub, cfg.Playback.BackendCallTimeout)
	repo.SetInUseChecker(pb.IsPlaylistInUse)

	// --- C8 NFC State Machine ---
	nfcHW, err := nfchw.New(cfg.NFC.HardwareWatchDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start nfc hardware adapter")
	}
	nfcMachine := nfc.New(nfcHW, repo, pub, pb, cfg.NFC)

	// --- C10 Sync Controller ---
	syncController := synccontroller.New(box, repo, pb, seq)

	// --- C11 Health/Status Reporter ---
	healthReporter := health.New()
	healthReporter.Register("persistence", health.StaticCheck("persistence", true, "ok", "unavailable"))
	healthReporter.Register("audio_backend", health.StaticCheck("audio_backend", true, "ok", "unavailable"))
	healthReporter.Register("nfc_hardware", func() health.SubsystemStatus {
		return health.SubsystemStatus{Name: "nfc_hardware", Ready: nfcHW.Available(), Message: "fsnotify-backed simulator"}
	})

	// --- HTTP/WebSocket transport ---
	handler := api.NewHandler(repo, uploadEngine, nfcMachine, pb, pub, ops, cfg.Operation.AckTimeout, seq, syncController, healthReporter, hubManager)
	dispatcher := wstransport.NewDispatcher(hubManager, nfcMachine, ops, cfg.Operation.AckTimeout, syncController)
	wsServer := wstransport.NewServer(hubManager, dispatcher)
	router := api.NewRouter(handler, cfg, wsServer.ServeHTTP)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- supervision tree ---
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(supervisor.TickerService{
		Name:     "upload-purge",
		Interval: cfg.Upload.PurgeInterval,
		Fn: func(ctx context.Context) {
			if n := uploadEngine.PurgeExpired(ctx); n > 0 {
				logging.Named("upload").Info().Int("count", n).Msg("purged expired upload sessions")
			}
		},
	})

	tree.AddMessagingService(supervisor.RunFunc{Name: "nfc-reader", Fn: nfcMachine.Run})
	tree.AddMessagingService(supervisor.RunFunc{Name: "playback-backend-events", Fn: pb.HandleBackendEvents})
	tree.AddMessagingService(supervisor.RunFunc{Name: "playback-position-broadcaster", Fn: pb.RunPositionBroadcaster})

	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", addr).Msg("serving")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor tree exited with error")
	}
	logging.Info().Msg("jukebox daemon stopped")
}

// seedPlaylistSequences primes the Sequence Generator's per-playlist
// counters from the repository's persisted playlist_seq values at cold
// start (spec §4.1, "both counters resume from the maximum persisted value
// + 1"): each playlist's own playlist_seq is already its own max, since it
// is only ever incremented, stored, and re-read verbatim.
func seedPlaylistSequences(seq *sequence.Generator, repo *library.Repository) {
	const pageSize = 100000
	page, err := repo.ListPlaylists(1, pageSize)
	if err != nil {
		logging.Named("main").Warn().Err(err).Msg("failed to seed playlist sequence counters")
		return
	}
	for _, p := range page.Items {
		seq.SeedPlaylist(p.PlaylistID, p.PlaylistSeq)
	}
}

