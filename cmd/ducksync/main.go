package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/ducktools/ducksync/internal/cli"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
