// Command sightline runs the optical targeting daemon: it bridges the
// servo and GPS serial buses, drives the tracking and guidance pipeline,
// streams telemetry to the ground link and serves the HTTP API.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/osprey-dynamics/sightline/internal/api"
	"github.com/osprey-dynamics/sightline/internal/config"
	"github.com/osprey-dynamics/sightline/internal/db"
	"github.com/osprey-dynamics/sightline/internal/filter"
	"github.com/osprey-dynamics/sightline/internal/fusion"
	"github.com/osprey-dynamics/sightline/internal/gimbal"
	"github.com/osprey-dynamics/sightline/internal/gps"
	"github.com/osprey-dynamics/sightline/internal/serialmux"
	"github.com/osprey-dynamics/sightline/internal/telemetry"
	"github.com/osprey-dynamics/sightline/internal/wire"
)

var (
	devMode       = flag.Bool("dev", false, "Run in dev mode with mock serial ports")
	listen        = flag.String("listen", ":8080", "Listen address")
	configPath    = flag.String("config", "", "Path to tuning config JSON")
	dbPath        = flag.String("db", "", "Path to sqlite database (overrides config)")
	servoPort     = flag.String("servo-port", "", "Servo bridge serial port (overrides config)")
	gpsPort       = flag.String("gps-port", "", "GPS receiver serial port (overrides config)")
	telemetryPort = flag.String("telemetry-port", "", "Ground link serial port (empty: discard)")
	gpsFixture    = flag.String("gps-fixture", "gps_fixture.bin", "Raw GPS frame replayed in dev mode")
	migrationsDir = flag.String("migrations", "migrations", "Path to migration files")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *servoPort != "" {
		cfg.ServoPort = servoPort
	}
	if *gpsPort != "" {
		cfg.GpsPort = gpsPort
	}

	servoMux, gpsMux, err := openBuses(cfg)
	if err != nil {
		log.Fatalf("failed to open serial buses: %v", err)
	}
	defer servoMux.Close()
	defer gpsMux.Close()

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(*migrationsDir); err != nil {
		// The bootstrap schema keeps the daemon usable without the
		// migration files on disk.
		log.Printf("migrations skipped: %v", err)
	}

	est := fusion.NewEstimator(cfg.GetFusionAlpha())

	session := gimbal.NewSession(gimbal.SessionConfig{
		ImageWidth:       cfg.GetImageWidth(),
		ImageHeight:      cfg.GetImageHeight(),
		MinScore:         cfg.GetMinScore(),
		EnablePrediction: cfg.GetEnablePrediction(),
		Guidance:         cfg.GuidanceConfig(),
		Store:            database,
	})

	var sink io.Writer = io.Discard
	if *telemetryPort != "" {
		groundMux, err := serialmux.NewRealSerialMux(*telemetryPort, serialmux.PortOptions{BaudRate: 115200})
		if err != nil {
			log.Fatalf("failed to open ground link: %v", err)
		}
		defer groundMux.Close()
		sink = muxWriter{groundMux}
	}
	streamer := telemetry.NewStreamer(sink, cfg.GetTelemetryInterval(), nil, database)

	// All estimator access goes through srv, which serialises the GPS and
	// IMU paths behind one lock. Params updates re-tune the live session.
	srv := api.NewServer(session, est, database, cfg, func(c *config.TuningConfig) {
		session.ApplyTuning(c.GetMinScore(), c.GetEnablePrediction(), c.GuidanceConfig())
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bus monitor routines.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := servoMux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("servo bus monitor failed: %v", err)
		}
		log.Print("servo monitor routine terminated")
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gpsMux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("gps bus monitor failed: %v", err)
		}
		log.Print("gps monitor routine terminated")
	}()

	// GPS frames feed the fusion estimator and the telemetry snapshot.
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := gpsMux.Subscribe()
		defer gpsMux.Unsubscribe(id)

		var parser gps.Parser
		for {
			select {
			case chunk := <-c:
				for _, f := range parser.Feed(chunk) {
					if !f.Valid {
						continue
					}
					srv.UpdateGps(f.Lat, f.Lon, f.Alt, int64(f.UTCTime))
					usedGps, usedGlo := f.UsedSatellites()
					streamer.SetGps(f.Lat, f.Lon, f.Alt,
						math.Hypot(f.VelX, f.VelY), 0,
						usedGps+usedGlo, int(f.State),
						gps.DilutionMeters(f.Hdop))
				}
			case <-ctx.Done():
				log.Printf("gps routine terminated (%d frames, %d errors)", parser.Frames, parser.FrameErrors)
				return
			}
		}
	}()

	// Servo feedback feeds the telemetry snapshot.
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := servoMux.Subscribe()
		defer servoMux.Unsubscribe(id)

		var angles [4]float64
		var online uint8
		var smooth [4]*filter.MovingAverage
		for i := range smooth {
			smooth[i] = filter.NewMovingAverage(4)
		}
		for {
			select {
			case chunk := <-c:
				fb, ok := wire.ParseServoFeedback(chunk)
				if !ok {
					continue
				}
				if fb.ServoID >= 1 && fb.ServoID <= 4 {
					i := fb.ServoID - 1
					// Averaged and deadzoned so encoder jitter does not
					// churn the downlink.
					angles[i] = filter.Deadzone(smooth[i].Update(fb.Angle), 0.05, angles[i])
					online |= 1 << i
					streamer.SetServoFeedback(angles, online)
				}
			case <-ctx.Done():
				log.Printf("servo feedback routine terminated")
				return
			}
		}
	}()

	// Guidance output goes to the servo bridge and the telemetry snapshot.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.GetTelemetryInterval())
		defer ticker.Stop()
		buf := make([]byte, 0, 4*wire.ServoFrameSize)
		for {
			select {
			case <-ticker.C:
				streamer.SetTracking(session.Position())
				if !session.Tracking() {
					continue
				}
				cmds := session.ServoAngles()
				streamer.SetServoCommands(cmds)
				buf = buf[:0]
				for i, angle := range cmds {
					buf = wire.EncodeServoCommand(buf, i+1, angle)
				}
				if err := servoMux.Send(buf); err != nil {
					log.Printf("servo command send failed: %v", err)
				}
			case <-ctx.Done():
				log.Printf("servo command routine terminated")
				return
			}
		}
	}()

	// Telemetry downlink loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := streamer.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("telemetry streamer failed: %v", err)
		}
		log.Print("telemetry routine terminated")
	}()

	// HTTP server goroutine.
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := srv.ServeMux()

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	session.Stop()
	log.Printf("Graceful shutdown complete")
}

// openBuses opens the servo and GPS serial muxes, or mock replacements in
// dev mode.
func openBuses(cfg *config.TuningConfig) (servo, gpsBus serialmux.SerialMuxInterface, err error) {
	if *devMode {
		// The servo bridge replays a centred feedback frame; the GPS bus
		// replays a captured navigation frame if one is on disk.
		servo = serialmux.NewMockSerialMux(
			wire.EncodeServoPosition(nil, 1, wire.ServoPositionCenter), 100*time.Millisecond)

		frame, err := os.ReadFile(*gpsFixture)
		if err != nil {
			log.Printf("no gps fixture (%v), replaying silence", err)
			frame = make([]byte, gps.PayloadSize)
		}
		gpsBus = serialmux.NewMockSerialMux(frame, time.Second)
		return servo, gpsBus, nil
	}

	servo, err = serialmux.NewRealSerialMux(cfg.GetServoPort(), cfg.GetServoPortOptions())
	if err != nil {
		return nil, nil, err
	}
	gpsBus, err = serialmux.NewRealSerialMux(cfg.GetGpsPort(), cfg.GetGpsPortOptions())
	if err != nil {
		servo.Close()
		return nil, nil, err
	}
	return servo, gpsBus, nil
}

// muxWriter adapts a serial mux to the io.Writer sink the telemetry
// streamer expects.
type muxWriter struct {
	mux serialmux.SerialMuxInterface
}

func (w muxWriter) Write(p []byte) (int, error) {
	if err := w.mux.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
