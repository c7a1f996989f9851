package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.Lshortfile)

	configPath := flag.String("config", "arena.json", "path to configuration file")
	// Read by the config flag source, dashes nest the keys
	flag.String("server-listen", "", "comma separated endpoints to accept players on")
	flag.String("server-metrics", "", "address for the metrics and sessions endpoints")
	flag.Int("world-players", 0, "maximum concurrent players")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("server: %s", err)
	}

	registerMetrics(prometheus.DefaultRegisterer)

	// Create an instance of the server service, every task is scheduled on it
	service := NewService()

	// The world outlives every acceptor handing it connections
	world := NewWorld(service, cfg.World)

	// One report per acceptor at most
	fatal := make(chan error, len(cfg.Listen))
	for _, endpoint := range cfg.Listen {
		acceptor, err := NewAcceptor(service, world, endpoint, WithFatalHandler(func(endpoint string, err error) {
			fatal <- err
		}))
		if err != nil {
			log.Fatalf("server: listen failed: %s", err)
		}

		log.Printf("server: accepting players on %s", acceptor.Addr())
		// The accept task keeps the acceptor alive from here on
		acceptor.Run()
	}

	if cfg.Metrics != "" {
		if _, err := serveMetrics(service, cfg.Metrics, metricsHandler(world)); err != nil {
			log.Fatalf("server: metrics listen failed: %s", err)
		}
	}

	// Handle SIGINT and SIGTERM
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	status := 0
	select {
	case sig := <-sigs:
		log.Println(sig)
	case err := <-fatal:
		log.Printf("server(perm): stopped accepting players: %s", err)
		status = 1
	}

	if notice, err := json.Marshal(Notice{Message: "server shutting down"}); err == nil {
		world.Broadcast(notice)
	}

	// Stop the service, closes the listeners and disconnects players gracefully
	service.Stop()

	// Stop the session pumps
	world.Close()

	os.Exit(status)
}
