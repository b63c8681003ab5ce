package main

import (
	"flag"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"wabridge/internal/app"
)

func main() {
	configFlag := flag.String("config", "", "path to TOML config file (optional)")
	flag.Parse()

	// A .env in the working directory feeds the environment layer; absence
	// is fine.
	_ = godotenv.Load()

	fx.New(
		app.Module(app.Params{ConfigPath: *configFlag}),
	).Run()
}
