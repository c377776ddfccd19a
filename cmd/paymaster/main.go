package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/layer-3/paymaster/cmd/paymaster/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
