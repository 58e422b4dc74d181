// Package rescue recovers panics in the connection's background read loop
// so a decode bug surfaces as a logged error and a metric instead of
// silently killing the process.
package rescue

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/amqpcore/internal/xlog"
)

const namespace = "amqpcore"

var panicTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "panic_total",
		Help:      "total panics recovered in background goroutines",
	},
)

var PanicHandlers = []func(any){
	incPanicCounter,
	logPanic,
}

func incPanicCounter(_ any) {
	panicTotal.Inc()
}

func logPanic(r any) {
	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		xlog.Errorf("observed a panic: %s\n%s", r, stacktrace)
	} else {
		xlog.Errorf("observed a panic: %#v (%v)\n%s", r, r, stacktrace)
	}
}

// HandleCrash is deferred at the top of the connection's read loop
// goroutine; on a recovered panic it runs every PanicHandlers entry.
func HandleCrash() {
	if r := recover(); r != nil {
		for _, fn := range PanicHandlers {
			fn(r)
		}
	}
}
