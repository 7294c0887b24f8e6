package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"voltlink/internal/relay/app"
	"voltlink/internal/relay/auth"
	"voltlink/internal/relay/config"
	"voltlink/libs/logging"
)

func main() {
	hashSecret := flag.String("hash-secret", "", "print the bcrypt hash of the given app secret and exit")
	flag.Parse()

	if *hashSecret != "" {
		hash, err := auth.NewBcryptHasher(0).Hash(*hashSecret)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init relay", zap.Error(err))
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("relay stopped with error", zap.Error(err))
	}
}
