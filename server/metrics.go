package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Acceptor
	accepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arena_client_accept",
		Help: "Number of connections accepted",
	})
	acceptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_accept_errors",
			Help: "Number of failed accepts, transient ones are retried.",
		},
		[]string{"kind"},
	)
	listeners = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arena_listeners",
		Help: "Number of running accept loops.",
	})

	// Session handler
	connectcount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arena_client_connect",
		Help: "Number of times a player has been admitted",
	})
	disconnectcount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arena_client_disconnect",
		Help: "Number of times an admitted player has disconnected",
	})
	failcount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_client_fail",
			Help: "Number of connections dropped before admission.",
		},
		[]string{"reason"},
	)
	framecount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_client_frames",
			Help: "Inbound frames, split by whether the rate limiter let them through.",
		},
		[]string{"result"},
	)

	// Contrack
	clientcount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_clients_tracked",
			Help: "Number of currently tracked sessions.",
		},
		[]string{"table"},
	)
	enforcecount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arena_client_enforced",
		Help: "Number of times a player's older session was terminated by a newer one.",
	})

	// Slots
	// Process wide, every World adds its slots while it runs and removes them on Close
	slotusage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_slot_usage",
			Help: "Player slot utilisation, free and allocated counts.",
		},
		[]string{"table"},
	)

	// Router
	droppedcount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arena_frames_dropped",
		Help: "Outbound frames dropped for a full queue or a missing route.",
	})
)

func registerMetrics(reg prometheus.Registerer) {
	// Acceptor
	reg.MustRegister(accepted)
	reg.MustRegister(acceptErrors)
	reg.MustRegister(listeners)

	// Session handler
	reg.MustRegister(connectcount)
	reg.MustRegister(disconnectcount)
	reg.MustRegister(failcount)
	reg.MustRegister(framecount)

	// Conntrack
	reg.MustRegister(clientcount)
	reg.MustRegister(enforcecount)

	// Slots
	reg.MustRegister(slotusage)

	// Router
	reg.MustRegister(droppedcount)
}

func metricsHandler(world *World) http.Handler {
	r := chi.NewRouter()

	// Expose the registered metrics via HTTP.
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
		// Request the session list from the contrack service
		connections := world.Sessions()
		if connections == nil {
			connections = Connections{}
		}

		if respbuf, err := json.Marshal(connections); nil != err {
			log.Printf("server: contrack: report: error json enconding connection array: %s", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		} else {
			w.Header().Set("Content-Type", "application/json")
			w.Write(respbuf)
		}
	})
	return r
}

// Serve the metrics handler on addr until the service stops
func serveMetrics(svc *Service, addr string, handler http.Handler) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Endpoint: addr, Err: err}
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	svc.Go(func() {
		log.Printf("server: metrics: listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: metrics(term): %s", err)
		}
	})

	svc.Go(func() {
		<-svc.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return ln.Addr(), nil
}
