package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/banshee-data/picar.autonav/internal/api"
	"github.com/banshee-data/picar.autonav/internal/journal"
	"github.com/banshee-data/picar.autonav/internal/monitoring"
	"github.com/banshee-data/picar.autonav/internal/navigation"
	"github.com/banshee-data/picar.autonav/internal/serialmux"
	"github.com/banshee-data/picar.autonav/internal/trigger"
	"github.com/banshee-data/picar.autonav/internal/version"
)

var (
	configPath  = flag.String("config", "", "Drive tuning JSON file (built-in defaults if empty)")
	listen      = flag.String("listen", "", "UDP trigger address, overrides listen_address from the config")
	httpListen  = flag.String("http", ":8080", "Admin HTTP listen address (empty disables)")
	serialMode  = flag.String("serial", serialReal, "Motor board link: real, sim or disabled")
	serialPort  = flag.String("port", "", "Serial port for the motor board (env PICAR_SERIAL_PORT)")
	baudRate    = flag.Int("baud", 0, "Serial baud rate (115200 if zero)")
	dryRun      = flag.Bool("dry-run", false, "Record actuator commands instead of sending them")
	sensorKind  = flag.String("sensor", sensorCamera, "Detection source: camera, redis or scripted")
	cameraSrc   = flag.String("camera", "0", "Camera device index or stream URL")
	modelPath   = flag.String("model", "models/yolov4-tiny.weights", "Detector weights (.weights or .onnx)")
	modelConfig = flag.String("model-config", "models/yolov4-tiny.cfg", "Detector network config (darknet only)")
	labelsPath  = flag.String("labels", "models/coco.names", "Detector class names, one per line")
	minConf     = flag.Float64("min-confidence", 0.5, "Minimum detection confidence")
	redisAddr   = flag.String("redis", "", "Redis address for the remote detection feed (env PICAR_REDIS_ADDR)")
	redisKey    = flag.String("redis-key", "", "Redis key the detector publishes to")
	journalPath = flag.String("journal", "picar.db", "Run journal sqlite file (empty disables)")
	logLevel    = flag.String("log-level", "info", "Log level")
	logFile     = flag.String("log-file", "", "Also write logs to this file, rotated by size")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger, err := monitoring.Setup(monitoring.Options{Level: *logLevel, File: *logFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.WithField("component", "main")
	log.WithField("version", version.String()).Info("picar starting")

	settings, err := loadSettings(*configPath, *listen)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	port := *serialPort
	if port == "" {
		port = envOr("PICAR_SERIAL_PORT", "/dev/ttyAMA0")
	}
	boardLink, err := openSerial(*serialMode, port, serialmux.PortOptions{BaudRate: *baudRate})
	if err != nil {
		log.WithError(err).Fatal("failed to open motor board link")
	}
	defer boardLink.Close()

	if err := boardLink.Initialize(); err != nil {
		log.WithError(err).Fatal("failed to initialize motor board")
	}
	board := serialmux.NewBoardState(monitoring.Component("board"))

	redis := *redisAddr
	if redis == "" {
		redis = envOr("PICAR_REDIS_ADDR", "localhost:6379")
	}
	sensor, sensorCloser, err := buildSensor(sensorOptions{
		Kind:        *sensorKind,
		Camera:      *cameraSrc,
		Weights:     *modelPath,
		ModelConfig: *modelConfig,
		Labels:      *labelsPath,
		MinConf:     *minConf,
		RedisAddr:   redis,
		RedisKey:    *redisKey,
	}, settings)
	if err != nil {
		log.WithError(err).Fatal("failed to set up sensor")
	}
	defer sensorCloser.Close()

	// interface values stay nil when the journal is disabled
	var (
		j        *journal.Journal
		runLog   navigation.Journal
		triggers trigger.EventRecorder
		history  api.History
	)
	if *journalPath != "" {
		j, err = journal.Open(*journalPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open run journal")
		}
		defer j.Close()
		runLog, triggers, history = j, j, j
	}

	driver := navigation.NewDriver(navigation.DriverConfig{
		Settings: settings,
		Sensor:   sensor,
		Actuator: newActuator(*serialMode, *dryRun, boardLink),
		Journal:  runLog,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := trigger.NewSupervisor(driver, trigger.SupervisorOptions{
		JoinTimeout: settings.JoinTimeout,
		Context:     ctx,
	})
	listener := trigger.NewListener(trigger.ListenerConfig{
		Address:    settings.ListenAddress,
		BufferSize: settings.BufferSize,
		Rate:       rate.Limit(settings.TriggerRate),
		Burst:      settings.TriggerBurst,
		Handler:    sup,
		Recorder:   triggers,
	})

	g, ctx := errgroup.WithContext(ctx)

	// run the monitor routine to manage IO on the serial port
	g.Go(func() error {
		if err := boardLink.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("failed to monitor serial port")
		}
		log.Debug("monitor routine terminated")
		return nil
	})

	g.Go(func() error {
		board.Watch(ctx, boardLink)
		return nil
	})

	// the listener owns the supervisor's lifetime and stops the loop on exit
	g.Go(func() error {
		return listener.Start(ctx)
	})

	if *httpListen != "" {
		g.Go(func() error {
			mux := api.NewServer(api.Config{
				Controller: sup,
				Driver:     driver,
				History:    history,
				Board:      board,
				Serial:     boardLink,
				Settings:   settings,
			}).ServeMux()
			if j != nil {
				if err := j.AttachAdminRoutes(mux); err != nil {
					log.WithError(err).Warn("journal debug routes unavailable")
				}
			}
			return serveHTTP(ctx, *httpListen, api.LoggingMiddleware(monitoring.Component("api"), mux), log)
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("picar stopped with error")
		os.Exit(1)
	}
	log.Info("Graceful shutdown complete")
}

// serveHTTP runs the admin server until ctx is done.
func serveHTTP(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("admin HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("admin HTTP server: %w", err)
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}
	return nil
}
