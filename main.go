package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"StrixCore/game"
	"StrixCore/storage"
)

var (
	isDebug    = flag.Bool("debug", false, "Enable debug log output")
	configPath = flag.String("config", "config.toml", "Path to the config file")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	if *isDebug {
		logger = unwrap(zap.NewDevelopment())
	} else {
		logger = unwrap(zap.NewProduction())
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	logger.Info("Server start")
	printBuildInfo(logger)
	defer logger.Info("Server exit")

	config, err := readConfig()
	if err != nil {
		logger.Error("Read config fail", zap.Error(err))
		return
	}
	config.Default()

	store, err := storage.Open(logger.Named("storage"), config.DatabasePath)
	if err != nil {
		logger.Error("Open storage fail", zap.Error(err))
		return
	}
	defer store.Close()

	g := game.NewGame(logger.Named("game"), config, store)

	mux := http.NewServeMux()
	mux.Handle("/ws", g)
	mux.Handle("/stats", g.StatsHandler())
	srv := &http.Server{Addr: config.ListenAddress, Handler: mux}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down")
		_ = srv.Close()
	}()

	logger.Info("Listening", zap.String("address", config.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Serve fail", zap.Error(err))
	}
	g.Shutdown()
}

// readConfig reads config.toml and rejects unknown keys.
func readConfig() (game.Config, error) {
	var c game.Config
	meta, err := toml.DecodeFile(*configPath, &c)
	if err != nil {
		return game.Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		var err errUnknownConfig
		for _, key := range undecoded {
			err = append(err, key.String())
		}
		return game.Config{}, err
	}
	return c, nil
}

type errUnknownConfig []string

func (e errUnknownConfig) Error() string {
	return "unknown config keys: [" + strings.Join(e, ", ") + "]"
}

func unwrap[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func printBuildInfo(logger *zap.Logger) {
	binaryInfo, _ := debug.ReadBuildInfo()
	settings := make(map[string]string)
	for _, v := range binaryInfo.Settings {
		settings[v.Key] = v.Value
	}
	logger.Debug("Build info", zap.Any("settings", settings))
}
