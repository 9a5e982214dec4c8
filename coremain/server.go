package coremain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openmta/searchx/lookup/dnsdb"
	"github.com/openmta/searchx/lookup/redisdb"
	"github.com/openmta/searchx/mlog"
	"github.com/openmta/searchx/pkg/filecheck"
	"github.com/openmta/searchx/pkg/safe_close"
	"github.com/openmta/searchx/pkg/search"
	"github.com/openmta/searchx/pkg/taint"
)

// Server hosts one dispatcher behind an HTTP lookup API. The
// dispatcher is single-threaded, so every use goes through mu.
type Server struct {
	logger *zap.Logger

	mu   sync.Mutex
	disp *search.Dispatcher

	trustedFiles map[string]bool

	httpAPIMux    *http.ServeMux
	httpAPIServer *http.Server

	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

func RunServer(cfg *Config) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	configureDrivers(&cfg.Driver)

	reg := newMetricsReg()
	s := &Server{
		logger: lg,
		disp: search.NewDispatcher(search.Options{
			Logger:     lg,
			OpenMax:    cfg.Lookup.OpenMax,
			LaxQuoting: cfg.Lookup.LaxQuoting,
			Metrics:    prometheus.WrapRegistererWithPrefix("searchx_", reg),
		}),
		trustedFiles: make(map[string]bool, len(cfg.Lookup.Files)),
		httpAPIMux:   http.NewServeMux(),
		metricsReg:   reg,
		sc:           safe_close.NewSafeClose(),
	}
	for _, f := range cfg.Lookup.Files {
		s.trustedFiles[f] = true
	}
	defer func() {
		s.mu.Lock()
		s.disp.Tidy()
		s.mu.Unlock()
	}()

	s.httpAPIMux.HandleFunc("/lookup", s.handleLookup)
	s.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))
	s.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	s.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if cfg.Lookup.WatchFiles && len(cfg.Lookup.Files) > 0 {
		if err := s.startWatcher(cfg.Lookup.Files); err != nil {
			return fmt.Errorf("failed to start file watcher, %w", err)
		}
	}

	httpAddr := cfg.API.HTTP
	if len(httpAddr) == 0 {
		return errors.New("no api.http address is configured")
	}
	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: s.httpAPIMux,
	}
	s.httpAPIServer = httpServer
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			s.logger.Info("starting api http server", zap.String("addr", httpAddr))
			errChan <- httpServer.ListenAndServe()
		}()
		select {
		case err := <-errChan:
			s.sc.SendCloseSignal(err)
		case <-closeSignal:
			httpServer.Close()
		}
	})

	<-s.sc.ReceiveCloseSignal()
	s.sc.Done()
	s.sc.CloseWait()
	return s.sc.Err()
}

// GetSafeClose exposes the shutdown coordinator, mainly for tests.
func (s *Server) GetSafeClose() *safe_close.SafeClose {
	return s.sc
}

func configureDrivers(cfg *DriverConfig) {
	if cfg.DNS.Server != "" || cfg.DNS.TimeoutMs > 0 {
		dnsdb.Configure(cfg.DNS.Server, time.Duration(cfg.DNS.TimeoutMs)*time.Millisecond)
	}
	if cfg.Redis.Addr != "" {
		redisdb.Configure(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TimeoutMs)*time.Millisecond)
	}
}

// lookupReply is the JSON body of a /lookup response.
type lookupReply struct {
	Found    bool   `json:"found"`
	Result   string `json:"result,omitempty"`
	Deferred bool   `json:"deferred,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleLookup runs one lookup. The key and any filename in the
// request crossed the network, so they enter the dispatcher tainted;
// a filename is only detainted when the configuration lists it as a
// trusted lookup file.
func (s *Server) handleLookup(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	typeStr, arg, key := q.Get("type"), q.Get("arg"), q.Get("key")
	if typeStr == "" {
		http.Error(w, "missing type parameter", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	reply := s.runLookup(typeStr, arg, key)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if reply.Error != "" && !reply.Deferred {
		w.WriteHeader(http.StatusBadRequest)
	}
	json.NewEncoder(w).Encode(reply)
}

func (s *Server) runLookup(typeStr, arg, key string) lookupReply {
	d := s.disp

	spec, err := d.ParseType(typeStr)
	if err != nil {
		return lookupReply{Error: err.Error()}
	}

	fname, keyquery := d.SplitArgs(spec.Driver, key, arg, spec.Opts)

	filename := taint.Untrusted(fname)
	if fname == "" || s.trustedFiles[fname] {
		filename = taint.Clean(fname)
	}

	h, err := d.Open(spec.Driver, filename, filecheck.Constraints{})
	if err != nil {
		return lookupReply{Error: err.Error(), Deferred: d.Deferred()}
	}

	res, found, err := d.Find(h, fname, taint.Untrusted(keyquery),
		spec.Partial, spec.Affix, spec.Stars, nil, spec.Opts)
	if err != nil {
		return lookupReply{Error: d.LastError(), Deferred: d.Deferred()}
	}
	if !found {
		return lookupReply{}
	}
	return lookupReply{Found: true, Result: res.Value()}
}

// startWatcher invalidates a file's cached state when it changes on
// disk, so the next lookup reopens it and reads fresh data.
func (s *Server) startWatcher(files []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := w.Add(f); err != nil {
			w.Close()
			return fmt.Errorf("failed to watch %s, %w", f, err)
		}
	}

	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					s.mu.Lock()
					s.disp.InvalidateFile(ev.Name)
					s.mu.Unlock()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("file watcher error", zap.Error(err))
			case <-closeSignal:
				return
			}
		}
	})
	return nil
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
