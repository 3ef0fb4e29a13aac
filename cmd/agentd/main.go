// Command agentd serves a Registry of allow-listed methods over a
// Unix-domain socket.
package main

import (
	"context"
	"time"

	"github.com/searchktools/ampd/app"
	"github.com/searchktools/ampd/config"
	"github.com/searchktools/ampd/rpc/registry"
)

func main() {
	cfg := config.New()

	reg := registry.New()
	reg.Register("ping", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return "pong", nil
	})
	reg.Register("uptime", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})

	a := app.New(cfg, reg)
	a.Run()
}
