package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-messaging/internal/config"
	"github.com/ariefcatur/go-order-messaging/internal/logger"
	"github.com/ariefcatur/go-order-messaging/internal/postgres"
)

func main() {
	_ = godotenv.Load()

	version := flag.Int64("version", 0, "target version for up-to and down-to")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [-version N] <%s>\n", strings.Join(postgres.Commands, "|"))
	}
	flag.Parse()
	cmd := "up"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	cfg := config.Load()
	log := logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := postgres.Migrate(ctx, cfg.PostgresDSN, cmd, *version); err != nil {
		log.Fatal("migrate", zap.String("command", cmd), zap.Error(err))
	}
	log.Info("migrate done", zap.String("command", cmd))
}
