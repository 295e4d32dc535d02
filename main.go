package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chaos-io/nobg/config"
	"github.com/chaos-io/nobg/rembg"
	"github.com/chaos-io/nobg/stats"
	"github.com/chaos-io/nobg/upload"
	"github.com/chaos-io/nobg/util"
	"github.com/chaos-io/nobg/web"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configDir := flag.String("config", "./config", "directory containing config.yaml")
	inputPath := flag.String("input", "", "process a local image instead of starting the server")
	outputDir := flag.String("output", "./output", "output directory for -input")
	flag.Parse()

	v, err := config.LoadConfig(*configDir)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logrus.Fatalf("parse config: %v", err)
	}
	setupLogger(cfg)

	pipeline := rembg.NewPipeline(rembg.NewThresholdRemover(uint8(cfg.App.Threshold)), cfg.App.MaxPixels)

	if *inputPath != "" {
		out, err := processFile(cfg, pipeline, *inputPath, *outputDir)
		if err != nil {
			logrus.Fatalf("process %s: %v", *inputPath, err)
		}
		logrus.Infof("Done! Output: %s", out)
		return
	}

	if err := serve(cfg, pipeline); err != nil {
		logrus.Fatal(err)
	}
}

func setupLogger(cfg *config.Config) {
	if cfg.Log.Format == "json" || cfg.Server.Mode == gin.ReleaseMode {
		logrus.SetFormatter(new(logrus.JSONFormatter))
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func serve(cfg *config.Config, pipeline *rembg.Pipeline) error {
	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	st := stats.New()
	reporter, err := stats.NewReporter(st, cfg.App.StatsCron, logrus.WithField("component", "stats"))
	if err != nil {
		return err
	}

	handler := web.NewHandler(cfg, pipeline, st)
	srv := web.NewServer(cfg.Server, web.InitRoutes(handler, cfg.Server.SessionSecret))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()
	reporter.Start()

	logrus.Infof("App started on %s", cfg.Server.Addr())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		reporter.Stop()
		if err != nil {
			return fmt.Errorf("run http server: %w", err)
		}
		return nil
	case <-quit:
	}

	logrus.Info("App shutting down")
	reporter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	reporter.Report()
	return nil
}

// processFile 命令行模式：和 HTTP 走同样的校验和处理
func processFile(cfg *config.Config, pipeline *rembg.Pipeline, inputPath, outputDir string) (string, error) {
	rules := upload.NewRules(cfg.App.AllowedExtensions, cfg.App.MaxSizeBytes)

	info, err := os.Stat(inputPath)
	if err != nil {
		return "", err
	}
	name := filepath.Base(inputPath)
	if err := rules.Validate(name, info.Size()); err != nil {
		return "", errors.New(rules.Message(err))
	}

	data, err := util.ReadFile(inputPath, cfg.App.MaxSizeBytes)
	if err != nil {
		return "", err
	}

	res, err := pipeline.Process(context.Background(), data)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return "", err
	}
	out := filepath.Join(outputDir, rembg.OutputName(name))
	if err := os.WriteFile(out, res.PNG, 0o644); err != nil {
		return "", err
	}
	return out, nil
}
