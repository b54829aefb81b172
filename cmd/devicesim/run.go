package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"hash/crc32"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/alxayo/devlink/internal/chunked"
	"github.com/alxayo/devlink/internal/config"
	"github.com/alxayo/devlink/internal/devicechannel"
	"github.com/alxayo/devlink/internal/handlers"
	"github.com/alxayo/devlink/internal/keepalive"
	"github.com/alxayo/devlink/internal/logger"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/orchestrator"
	"github.com/alxayo/devlink/internal/pubsub"
	"github.com/alxayo/devlink/internal/session"
	"github.com/alxayo/devlink/internal/udptransport"
)

func newRunCommand() *cobra.Command {
	var (
		listenAddr    string
		metricsAddr   string
		sessionPath   string
		updateDropDir string
		deviceIDFlag  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulated device endpoint, handling one peer at a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevice(cmd.Context(), listenAddr, metricsAddr, sessionPath, updateDropDir, deviceIDFlag)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":5683", "UDP address to listen on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve /metrics on (empty disables)")
	cmd.Flags().StringVar(&sessionPath, "session-store", "", "Path to persist the session record (empty uses an in-memory store)")
	cmd.Flags().StringVar(&updateDropDir, "update-drop-dir", "", "Directory to watch for .bin firmware images to push to this device (empty disables)")
	cmd.Flags().StringVar(&deviceIDFlag, "device-id", "", "12-byte hex device id (empty generates a random one)")

	return cmd
}

func runDevice(ctx context.Context, listenAddr, metricsAddr, sessionPath, updateDropDir, deviceIDFlag string) error {
	log := logger.Logger().With("component", "devicesim")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.New()
	cfg.ListenAddr = listenAddr
	cfg.RequireHelloResponse = false
	cfg.DeviceInitiatedDescribe = true
	cfg.SessionStorePath = sessionPath
	cfg.UpdateDropDir = updateDropDir
	cfg.MetricsAddr = metricsAddr
	cfg.ApplyDefaults()

	reg := metrics.New()
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics listening", "addr", metricsAddr)
	}

	deviceID := deviceIdentityFrom(deviceIDFlag)
	identity := orchestrator.DeviceIdentity{DeviceID: deviceID, PlatformID: 6, ProductID: 1, ProductFirmwareVersion: 1}

	var store session.Store
	if sessionPath != "" {
		store = session.NewFileStore(sessionPath, log)
	} else {
		store = session.NewMemStore()
	}
	sessionMgr := session.NewManager(store)

	transport, err := udptransport.Listen(listenAddr)
	if err != nil {
		return err
	}
	defer transport.Close()

	keysChecksum := crc32.ChecksumIEEE(deviceID[:])
	ch := devicechannel.New(transport, true, uint16(time.Now().UnixNano()), sessionMgr, keysChecksum, reg)

	funcs := handlers.NewFunctionTable(reg)
	funcs.Register("led", func(ctx context.Context, arg string) (int32, error) {
		log.Info("function called", "name", "led", "arg", arg)
		return 1, nil
	})
	vars := handlers.NewVariableTable(622, reg)
	vars.Register("uptime", handlers.Variable{
		Kind: handlers.VariableInt32,
		Get:  func() any { return int32(time.Since(processStart).Seconds()) },
	})
	dispatch := handlers.NewDispatcher(funcs, vars)

	subs := pubsub.NewTable()
	publisher := pubsub.NewPublisher(ch, func() uint32 { return uint32(time.Now().UnixMilli()) }, 622, ch.IsUnreliable(), reg)

	dropDir := updateDropDir
	if dropDir == "" {
		dropDir = filepath.Join(os.TempDir(), "devicesim-updates")
	}
	transfer := chunked.New(newFileCallbacks(dropDir, log), crc32.ChecksumIEEE, time.Now, reg)

	desc := newDemoDescriptor(log)

	orch := orchestrator.New(orchestrator.Deps{
		Channel:    ch,
		Identity:   identity,
		Config:     cfg,
		Clock:      time.Now,
		Pinger:     keepalive.New(reg),
		Subs:       subs,
		Publisher:  publisher,
		Transfer:   transfer,
		SessionMgr: sessionMgr,
		Dispatch:   dispatch,
		Descriptor: desc,
		Metrics:    reg,
	})

	if updateDropDir != "" {
		go watchUpdateDropDir(ctx, updateDropDir, listenAddr, log)
	}

	cachedChecksum := subs.Checksum(crc32.ChecksumIEEE)
	if err := orch.Begin(ctx, crc32.ChecksumIEEE, cachedChecksum); err != nil {
		log.Error("begin failed", "err", err)
		return err
	}
	log.Info("device link established", "state", orch.State().String(), "device_id", deviceID)

	return orch.Run(ctx)
}

// deviceIdentityFrom parses a 24-char hex device id, or generates a random
// one (seeded via xid, matching the domain stack's correlation-id idiom)
// when the flag is empty or not valid hex. A shorter decoded id is
// zero-padded and a longer one truncated to 12 bytes.
func deviceIdentityFrom(hexFlag string) [12]byte {
	var id [12]byte
	if hexFlag != "" {
		if decoded, err := hex.DecodeString(hexFlag); err == nil {
			copy(id[:], decoded)
			return id
		}
	}
	seed := xid.New().Bytes()
	copy(id[:], seed)
	_, _ = rand.Read(id[len(seed):])
	return id
}

// watchUpdateDropDir watches dir for a newly created .bin file and pushes
// it to the device listening at deviceAddr using the same raw-protocol
// sequence simulate-update drives over the wire, exercising the chunked
// transfer path end to end without a real OTA source.
func watchUpdateDropDir(ctx context.Context, dir, deviceAddr string, log interface{ Info(string, ...any) }) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	if err := watcher.Add(dir); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == 0 || !strings.HasSuffix(ev.Name, ".bin") {
				continue
			}
			log.Info("update drop detected", "path", ev.Name)
			pushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := pushFirmwareUpdate(pushCtx, deviceAddr, ev.Name, 636); err != nil {
				log.Info("firmware push failed", "err", err)
			}
			cancel()
		case <-watcher.Errors:
		}
	}
}
