package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camnode-go/internal/camera"
	"camnode-go/internal/config"
	"camnode-go/internal/driver"
	"camnode-go/internal/exposure"
	"camnode-go/internal/logging"
	"camnode-go/internal/metrics"
	"camnode-go/internal/monitor"
	"camnode-go/internal/msg"
	"camnode-go/internal/record"
	"camnode-go/internal/timesync"
	"camnode-go/internal/transport"
)

// main delegates to run so deferred cleanup (publisher socket, buffered
// rawlog) still happens on fatal errors.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "camnode: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "Path to the YAML configuration file")
		serial      = flag.String("serial", "", "Camera serial to open (overrides config)")
		controller  = flag.String("controller", "", "Exposure controller: master or follower (overrides config)")
		monitorPort = flag.Int("monitor-port", 0, "Monitor HTTP port (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *serial != "" {
		cfg.Node.Serial = *serial
	}
	if *controller != "" {
		cfg.Exposure.Controller = *controller
	}
	if *monitorPort != 0 {
		cfg.Monitor.Port = *monitorPort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    cfg.Logging.Console,
	}, "camnode")
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := camera.NewRegistry()
	if cfg.Camera.Transport == "sim" {
		registry.Register(camera.NewSimProvider(camera.SimConfig{
			Serial:        cfg.Node.Serial,
			Width:         cfg.Camera.Width,
			Height:        cfg.Camera.Height,
			FrameRate:     cfg.Camera.FrameRate,
			ClockDriftPPM: cfg.Camera.ClockDriftPPM,
		}))
	} else {
		return fmt.Errorf("unknown camera transport %q", cfg.Camera.Transport)
	}
	registry.OnEvent(func(ev camera.Event) {
		switch ev.Kind {
		case camera.EventError:
			log.Warn().Err(ev.Err).Msg("device event")
		default:
			log.Info().Str("kind", string(ev.Kind)).Str("serial", ev.Device.Serial).Msg("device event")
		}
	})

	publisher, err := transport.NewPublisher(cfg.Transport.PubEndpoint)
	if err != nil {
		return fmt.Errorf("publisher bind %s: %w", cfg.Transport.PubEndpoint, err)
	}
	defer publisher.Close()
	log.Info().Str("endpoint", cfg.Transport.PubEndpoint).Msg("publishing")

	var controls <-chan []byte
	if cfg.Exposure.Controller == "follower" {
		controls, err = transport.Subscribe(ctx, cfg.Transport.ControlEndpoint, transport.TopicControl)
		if err != nil {
			return fmt.Errorf("control subscribe %s: %w", cfg.Transport.ControlEndpoint, err)
		}
		log.Info().Str("endpoint", cfg.Transport.ControlEndpoint).Msg("following control topic")
	}

	var ctrl exposure.Controller
	if cfg.Exposure.Controller != "" {
		ctrl, err = exposure.New(cfg.Exposure.Controller, exposure.Config{
			TargetBrightness: cfg.Exposure.TargetBrightness,
			Deadband:         cfg.Exposure.Deadband,
			MinExposureTime:  cfg.Exposure.MinExposureTime,
			MaxExposureTime:  cfg.Exposure.MaxExposureTime,
			MinGain:          cfg.Exposure.MinGain,
			MaxGain:          cfg.Exposure.MaxGain,
			MaxWaitFrames:    cfg.Exposure.MaxWaitFrames,
		})
		if err != nil {
			return err
		}
	}

	var recorder *record.Writer
	if cfg.Recording.Enabled {
		recorder, err = record.NewWriter(cfg.Recording.Dir, cfg.Node.Name)
		if err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		defer recorder.Close()

		params := make(map[string]string, len(cfg.Parameters))
		for _, p := range cfg.Parameters {
			params[p.Name] = p.Value
		}
		topics := []string{transport.TopicMeta, transport.TopicControl}
		if cfg.Recording.Images {
			topics = append(topics, transport.TopicImage)
		}
		session := record.Session{
			Node:       cfg.Node.Name,
			Serial:     cfg.Node.Serial,
			FrameID:    cfg.Node.FrameID,
			StartedAt:  time.Now(),
			Parameters: params,
			Topics:     topics,
		}
		if err := record.WriteSession(recorder.Path(), session); err != nil {
			log.Warn().Err(err).Msg("session sidecar write failed")
		}
		log.Info().Str("path", recorder.Path()).Msg("recording")
	}

	m := metrics.New()
	node := driver.New(driver.Options{
		NodeName:       cfg.Node.Name,
		FrameID:        cfg.Node.FrameID,
		Serial:         cfg.Node.Serial,
		Workers:        cfg.Acquisition.Workers,
		QueueSize:      cfg.Acquisition.QueueSize,
		Parameters:     cfg.Parameters,
		Controller:     ctrl,
		ControllerName: cfg.Exposure.Controller,
		Registry:       registry,
		Publisher:      publisher,
		Controls:       controls,
		Estimator: timesync.NewEstimator(timesync.EstimatorConfig{
			MinSamples: cfg.Timesync.MinSamples,
			Alpha:      cfg.Timesync.Alpha,
			MaxSkew:    cfg.Timesync.MaxSkew.Std(),
		}),
		Keeper:       timesync.NewKeeper(),
		Recorder:     recorder,
		RecordImages: cfg.Recording.Images,
		Metrics:      m,
		Logger:       log,
	})

	if cfg.Monitor.Port > 0 {
		go func() {
			err := monitor.Run(ctx, monitor.Options{
				Port:   cfg.Monitor.Port,
				UIRate: cfg.Monitor.UIRate.Std(),
				StatusFn: func() map[string]any {
					status := node.Status()
					status["publisher_sent"] = publisher.Sent()
					status["publisher_drops"] = publisher.Drops()
					return status
				},
				ConfigFn: func() map[string]any {
					return map[string]any{
						"node":         cfg.Node.Name,
						"serial":       cfg.Node.Serial,
						"frame_id":     cfg.Node.FrameID,
						"pub_endpoint": cfg.Transport.PubEndpoint,
						"controller":   cfg.Exposure.Controller,
					}
				},
				SnapshotFn: func() any {
					meta, ok := node.LatestMeta()
					if !ok {
						return nil
					}
					return metaSummary(meta)
				},
				Metrics: m.Handler(),
			})
			if err != nil {
				log.Error().Err(err).Msg("monitor server")
			}
		}()
		log.Info().Int("port", cfg.Monitor.Port).Msg("monitor listening")
	}

	if err := node.Run(ctx); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func metaSummary(meta msg.ImageMetaData) map[string]any {
	return map[string]any{
		"type":          "meta",
		"stamp":         meta.Header.Stamp,
		"brightness":    meta.Brightness,
		"exposure_time": meta.ExposureTime,
		"max_exposure":  meta.MaxExposureTime,
		"gain":          meta.Gain,
		"camera_time":   meta.CameraTime,
	}
}
