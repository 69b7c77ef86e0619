// Package metrics contains support for reporting cache metrics to an
// external server, currently a Prometheus pushgateway. Because the engine
// typically runs as a transient process we can't wait around for Prometheus
// to scrape us, we've got to push to them.
package metrics

import (
	"net/http"
	"os/user"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/hoard/src/core"
)

var log = logging.MustGetLogger("metrics")

// This is the maximum number of errors after which we stop attempting to send metrics.
const maxErrors = 3

// An Event is one countable cache event.
type Event string

// The events we count.
const (
	Hit          Event = "hit"
	Miss         Event = "miss"
	InjectedMiss Event = "injected_miss"
	PinFailure   Event = "pin_failure"
	Conflict     Event = "conflict"
)

var cacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hoard_cache_events_total",
	Help: "Count of cache lookup/publish events by type",
}, []string{"event"})

// Record counts one occurrence of an event.
// It is safe to call whether or not metrics pushing is configured.
func Record(event Event) {
	cacheCounter.WithLabelValues(string(event)).Inc()
}

type pusher struct {
	pusher *push.Pusher
	ticker *time.Ticker
	errors int
	stop   chan struct{}
	done   chan struct{}
}

// p is the singleton pusher instance.
var p *pusher

// InitFromConfig sets up metric pushing from the configuration.
// It does nothing if no pushgateway is configured.
func InitFromConfig(config *core.Configuration) {
	prometheus.MustRegister(cacheCounter)
	if config.Metrics.PushGatewayURL == "" {
		return
	}
	username := "unknown"
	if u, err := user.Current(); err != nil {
		log.Warning("Can't determine current user name for metrics")
	} else {
		username = u.Username
	}
	p = &pusher{
		pusher: push.New(config.Metrics.PushGatewayURL, "hoard").
			Collector(cacheCounter).
			Client(&http.Client{Timeout: time.Duration(config.Metrics.PushTimeout)}).
			Grouping("user", username).
			Grouping("arch", runtime.GOOS+"_"+runtime.GOARCH),
		ticker: time.NewTicker(time.Duration(config.Metrics.PushFrequency)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
}

// Shutdown pushes any remaining metrics and stops the background loop.
// It waits for the loop to finish first so only one push runs at a time.
func Shutdown() {
	if p != nil {
		close(p.stop)
		<-p.done
		p.ticker.Stop()
		p.push()
		p = nil
	}
}

func (p *pusher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ticker.C:
			p.push()
		case <-p.stop:
			return
		}
	}
}

func (p *pusher) push() {
	if p.errors >= maxErrors {
		return
	}
	if err := p.pusher.Push(); err != nil {
		p.errors++
		log.Warning("Failed to push metrics: %s", err)
		if p.errors == maxErrors {
			log.Warning("Giving up on pushing metrics after %d errors", maxErrors)
		}
	}
}
