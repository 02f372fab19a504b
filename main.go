package main

import (
	"log"
	"os"

	"jobctl/cmd"
	"jobctl/internal/config"
	"jobctl/internal/repository"
	"jobctl/internal/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := os.MkdirAll("logs", 0755); err != nil {
		log.Fatalf("failed to create log directory: %v", err)
	}

	st, err := store.Open("queue.db")
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	repo := repository.New(st)

	os.Exit(cmd.Execute(repo, cfg))
}
