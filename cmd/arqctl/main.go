package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(openApp).Execute(); err != nil {
		os.Exit(1)
	}
}
