package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/deskclient/internal/client/app"
	"github.com/dmitrijs2005/deskclient/internal/client/cli"
	"github.com/dmitrijs2005/deskclient/internal/client/config"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	cli.NewShell(a, os.Stdin, os.Stdout).Run(app.WithApp(ctx, a))

	if err := a.Dispose(); err != nil {
		log.Printf("shutdown: %v", err)
	}

}
