package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cryguy/jsaas"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	settings, err := jsaas.LoadSettings()
	if err != nil {
		log.Printf("jsaas: %v", err)
		os.Exit(1)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		os.Exit(128 + int(sig.(syscall.Signal)))
	}()

	if err := jsaas.ListenAndServe(settings); err != nil {
		log.Printf("jsaas: server error: %v", err)
		os.Exit(1)
	}
}
