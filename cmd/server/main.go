// Command server runs the facegate biometric authentication server.
package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/facegate/internal/server"
	"github.com/dmitrijs2005/facegate/internal/server/config"
)

func main() {
	ctx := context.Background()

	app, err := server.NewApp(ctx, config.LoadConfig())
	if err != nil {
		log.Printf("facegate: %v", err)
		os.Exit(1)
	}

	app.Run(ctx)
}
