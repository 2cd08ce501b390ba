package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// StatsProvider is the counter surface the chat server and API report
// into: connection and subscription gauges plus message and fan-out
// counters.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater keeps the counters in an expvar map and applies deltas
// from a single goroutine, so hot paths (fan-out, connection churn)
// never contend on a counter lock.
type StatsUpdater struct {
	vars   *expvar.Map
	deltas chan counterDelta
}

type counterDelta struct {
	name  string
	delta int64
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		deltas: make(chan counterDelta, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))

	su.vars = expvar.NewMap("parley-stats")

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

// expvarHandler serves only this map, decoded into plain JSON, rather
// than the global expvar page with cmdline/memstats noise.
func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	out := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		out[kv.Key] = value
	})

	json.NewEncoder(w).Encode(out)
}

func (su *StatsUpdater) applyDeltas() {
	for d := range su.deltas {
		v := su.vars.Get(d.name)
		if v == nil {
			// counters reported before registration still count
			iv := new(expvar.Int)
			su.vars.Set(d.name, iv)
			v = iv
		}

		v.(*expvar.Int).Add(d.delta)
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.deltas <- counterDelta{name: name, delta: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.deltas <- counterDelta{name: name, delta: -1}
}

// RegisterMetric publishes the counter at zero so it is visible on
// /debug/vars before the first delta arrives.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.applyDeltas()
}

func (su *StatsUpdater) Stop() {
	close(su.deltas)
}
