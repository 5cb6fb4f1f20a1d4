// Package main is the entry point for the Stellar DLNA renderer.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/edumarques81/stellar-renderer/internal/config"
	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/domain/avtransport"
	"github.com/edumarques81/stellar-renderer/internal/domain/connmgr"
	"github.com/edumarques81/stellar-renderer/internal/domain/device"
	"github.com/edumarques81/stellar-renderer/internal/domain/player"
	"github.com/edumarques81/stellar-renderer/internal/domain/rendering"
	"github.com/edumarques81/stellar-renderer/internal/infra/mdns"
	"github.com/edumarques81/stellar-renderer/internal/infra/mpd"
	"github.com/edumarques81/stellar-renderer/internal/infra/mpv"
	"github.com/edumarques81/stellar-renderer/internal/ssdp"
	"github.com/edumarques81/stellar-renderer/internal/transport/socketio"
	"github.com/edumarques81/stellar-renderer/internal/transport/upnphttp"
	"github.com/edumarques81/stellar-renderer/internal/version"
)

const shutdownGrace = 5 * time.Second

// engine is a player engine the process owns.
type engine interface {
	player.Engine
	Close() error
}

// notifyRelay forwards change notifications to the web push server, which
// is created after the services it reports on.
type notifyRelay struct {
	target atomic.Pointer[socketio.Server]
}

func (r *notifyRelay) Notify(topic string) {
	if s := r.target.Load(); s != nil {
		s.Notify(topic)
	}
}

func main() {
	configPath := pflag.StringP("config", "c", "/etc/stellar-renderer/config.yaml", "Path to the YAML configuration file")
	port := pflag.Int("port", 0, "HTTP port (overrides network.http_port)")
	iface := pflag.String("interface", "", "Network interface for discovery (overrides network.interface)")
	engineName := pflag.String("engine", "", "Playback engine: mpv or mpd (overrides audio.engine)")
	maxWebClients := pflag.Int("max-web-clients", 4, "Maximum concurrent remote web clients (0 = unlimited)")
	debug := pflag.Bool("debug", false, "Enable debug logging")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if pflag.CommandLine.Changed("port") {
		cfg.Network.HTTPPort = *port
	}
	if pflag.CommandLine.Changed("interface") {
		cfg.Network.Interface = *iface
	}
	if pflag.CommandLine.Changed("engine") {
		cfg.Audio.Engine = *engineName
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogging(cfg.Logging)

	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  UPnP/DLNA Media Renderer")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Int("port", cfg.Network.HTTPPort).
		Str("interface", cfg.Network.Interface).
		Str("engine", cfg.Audio.Engine).
		Int("default_volume", cfg.Audio.DefaultVolume).
		Bool("mdns", cfg.Network.MDNS).
		Msg("Configuration")

	identity, err := device.Load(cfg.Device.StateFile, device.Options{
		UUID:         cfg.Device.UUID,
		FriendlyName: cfg.Device.Name,
		Manufacturer: cfg.Device.Manufacturer,
		ModelName:    cfg.Device.ModelName,
		ModelNumber:  cfg.Device.ModelNumber,
		SerialNumber: cfg.Device.SerialNumber,
	}, []string{avtransport.ServiceType, rendering.ServiceType, connmgr.ServiceType})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load device identity")
	}
	log.Info().Str("name", identity.FriendlyName).Str("udn", identity.UDN()).Msg("Device identity")

	ip, err := ssdp.InterfaceIPv4(cfg.Network.Interface)
	if err != nil {
		log.Fatal().Err(err).Str("interface", cfg.Network.Interface).Msg("No usable address for discovery")
	}
	location := fmt.Sprintf("http://%s%s", net.JoinHostPort(ip.String(), strconv.Itoa(cfg.Network.HTTPPort)), upnphttp.DescriptionPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := startEngine(ctx, cfg.Audio)
	if err != nil {
		log.Fatal().Err(err).Str("engine", cfg.Audio.Engine).Msg("Failed to start playback engine")
	}
	defer eng.Close()

	// Services
	relay := &notifyRelay{}
	transport := avtransport.NewService(eng, relay)
	renderingSvc := rendering.NewService(eng, cfg.Audio.DefaultVolume, relay)
	connections := connmgr.NewService(connmgr.DefaultFormats)

	registry := control.NewRegistry()
	for _, def := range []control.Service{transport.Definition(), renderingSvc.Definition(), connections.Definition()} {
		if err := registry.Register(def); err != nil {
			log.Fatal().Err(err).Str("service", def.Name).Msg("Failed to register service")
		}
	}

	go transport.Run(ctx)
	go renderingSvc.Run(ctx)

	// Create Socket.io server
	socketServer := socketio.NewServer(transport, renderingSvc, socketio.Options{MaxRemoteClients: *maxWebClients})
	defer socketServer.Close()
	relay.target.Store(socketServer)

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", socketServer)
	upnphttp.New(registry, identity, upnphttp.Options{
		Health: func(ctx context.Context) error {
			_, err := eng.Status(ctx)
			return err
		},
		State: func(ctx context.Context) any {
			return socketServer.CurrentState(ctx)
		},
	}).Register(mux)

	server := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Network.HTTPPort),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Socket.io long-polling holds responses open.
		WriteTimeout: 60 * time.Second,
	}
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", server.Addr).Msg("HTTP listen failed")
	}

	// Discovery starts only once the description URL is reachable.
	discovery := ssdp.New(ssdp.Config{
		Interface: cfg.Network.Interface,
		Location:  location,
		Server:    version.ServerHeader(),
		MaxAge:    cfg.Network.MaxAge,
		Interval:  cfg.Network.AnnounceEvery(),
	}, identity)
	if err := discovery.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start SSDP")
	}

	var advertiser *mdns.Advertiser
	if cfg.Network.MDNS {
		advertiser = mdns.NewAdvertiser(mdns.Config{
			Instance:  identity.FriendlyName,
			Interface: cfg.Network.Interface,
			IP:        ip,
			Port:      cfg.Network.HTTPPort,
			UUID:      identity.UUID,
			Location:  location,
		})
		if err := advertiser.Start(); err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement disabled")
			advertiser = nil
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()

		if err := discovery.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("SSDP shutdown error")
		}
		if advertiser != nil {
			if err := advertiser.Stop(); err != nil {
				log.Error().Err(err).Msg("mDNS shutdown error")
			}
		}
		cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Str("location", location).Msg("HTTP server listening")
	if err := server.Serve(listener); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.Format == "json" {
		out = os.Stderr
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// startEngine connects the configured playback engine.
func startEngine(ctx context.Context, cfg config.AudioConfig) (engine, error) {
	switch cfg.Engine {
	case config.EngineMPD:
		client := mpd.NewClient(cfg.MPDHost, cfg.MPDPort, cfg.MPDPassword)
		if err := client.Connect(); err != nil {
			return nil, err
		}
		go client.Run(ctx)
		return client, nil
	default:
		client := mpv.NewClient(mpv.Config{
			Binary:          cfg.MPVBinary,
			SocketPath:      cfg.MPVSocket,
			AudioOutput:     cfg.OutputDriver,
			InitialVolume:   cfg.DefaultVolume,
			Cache:           cfg.Cache,
			DemuxerMaxBytes: cfg.DemuxerMaxBytes,
		})
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}
