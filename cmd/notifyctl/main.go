// notifyctl resolves a session cookie value and prints every notification
// delivered for that user until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"notifybridge/internal/bridge"
	"notifybridge/internal/config"
	"notifybridge/internal/logging"
)

func main() {
	configFile := flag.String("config", "./config/config.yaml", "Path to configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] <cookie value>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	cookie := flag.Arg(0)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	logger := logging.Component("notifyctl")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bridge.Open(ctx, cfg, nil)
	if err != nil {
		logger.Fatalf("Unable to connect: %v", err)
	}
	defer b.Close()

	user, ok := b.GetUser(ctx, cookie)
	if !ok {
		fmt.Printf("There is no such session cookie: %s\n", cookie)
		_ = b.Close()
		os.Exit(1)
	}
	logger.Infof("Listening for notifications for %s", user)

	reg, err := b.Register(user, func(payload json.RawMessage) {
		fmt.Println(string(payload))
	})
	if err != nil {
		logger.Errorf("Failed to register %s: %v", user, err)
		return
	}
	<-ctx.Done()
	b.Unregister(user, reg)
}
