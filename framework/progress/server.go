// Package progress publishes the progress of a run over HTTP while it happens.
package progress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/launchdarkly/eventsource"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

const (
	runChannel = "run"

	EventSpecStarted  = "spec-started"
	EventCaseFinished = "case-finished"
	EventHookFailed   = "hook-failed"
	EventSpecFinished = "spec-finished"
	EventRunFinished  = "run-finished"
	EventStatus       = "status"
)

type eventSourceDebugLogger struct {
	logger framework.Logger
}

func (l eventSourceDebugLogger) Println(args ...interface{}) {
	l.logger.Printf("%s", fmt.Sprintln(args...))
}

func (l eventSourceDebugLogger) Printf(format string, args ...interface{}) {
	l.logger.Printf(format, args...)
}

type eventImpl struct {
	id   string
	name string
	data ldvalue.Value
}

func (e eventImpl) Event() string { return e.name }
func (e eventImpl) Id() string    { return e.id } //nolint:stylecheck
func (e eventImpl) Data() string  { return e.data.JSONString() }

// Server is a ReportSink that republishes everything it receives as Server-Sent Events on
// GET /events, and serves the current totals on GET /status. Every new subscriber first gets a
// status event with the totals so far.
type Server struct {
	runID      string
	started    time.Time
	streams    *eventsource.Server
	handler    http.Handler
	results    *ldspec.ResultsSink
	logger     framework.Logger
	lock       sync.Mutex
	hooksSeen  map[ldspec.NodeID]int
	finished   bool
	httpServer *http.Server

	// publishLock is never held while calling back into the Server, since the eventsource
	// server calls Replay from its own goroutine.
	publishLock sync.Mutex
	seq         int
	closed      bool
}

// NewServer creates a Server. The run ID is included in every event.
func NewServer(runID string, debugLogger framework.Logger) *Server {
	logger := framework.OrNullLogger(debugLogger)
	streams := eventsource.NewServer()
	streams.ReplayAll = true
	streams.Logger = eventSourceDebugLogger{logger}

	s := &Server{
		runID:     runID,
		started:   time.Now(),
		streams:   streams,
		results:   ldspec.NewResultsSink(),
		logger:    logger,
		hooksSeen: make(map[ldspec.NodeID]int),
	}
	streams.Register(runChannel, s)

	router := mux.NewRouter()
	router.HandleFunc("/status", s.serveStatus).Methods("GET")
	router.HandleFunc("/events", streams.Handler(runChannel)).Methods("GET")
	s.handler = router
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background until Close is called. It returns the
// address actually used, which matters when addr has port 0.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	httpServer := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	s.lock.Lock()
	s.httpServer = httpServer
	s.lock.Unlock()
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Progress server stopped: %s", err)
		}
	}()
	return listener.Addr().String(), nil
}

// Close disconnects all subscribers and stops the listener, if Start was called.
func (s *Server) Close() error {
	s.publishLock.Lock()
	if s.closed {
		s.publishLock.Unlock()
		return nil
	}
	s.closed = true
	s.streams.Close()
	s.publishLock.Unlock()

	s.lock.Lock()
	httpServer := s.httpServer
	s.lock.Unlock()
	if httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func (s *Server) TrackSpec(n *ldspec.Node) {
	s.results.TrackSpec(n)
	s.publish(EventSpecStarted, s.nodeEvent(n, nil))
}

func (s *Server) CaseFinished(n *ldspec.Node, c *ldspec.Case) {
	s.results.CaseFinished(n, c)
	if c == nil {
		s.lock.Lock()
		failures := n.HookFailures()
		fresh := failures[min(s.hooksSeen[n.ID()], len(failures)):]
		s.hooksSeen[n.ID()] = len(failures)
		s.lock.Unlock()
		for _, f := range fresh {
			s.publish(EventHookFailed, s.nodeEvent(n, map[string]ldvalue.Value{
				"slot":    ldvalue.String(string(f.Slot)),
				"message": ldvalue.String(f.Traceback.Message),
			}))
		}
		return
	}
	s.publish(EventCaseFinished, s.nodeEvent(n, map[string]ldvalue.Value{
		"case":      ldvalue.String(string(c.ID())),
		"status":    ldvalue.String(c.Status().String()),
		"elapsedMs": ldvalue.Float64(float64(c.Elapsed()) / float64(time.Millisecond)),
	}))
}

func (s *Server) SpecFinished(n *ldspec.Node) {
	s.results.SpecFinished(n)
	s.publish(EventSpecFinished, s.nodeEvent(n, nil))
}

// EndRun publishes the final totals.
func (s *Server) EndRun(results ldspec.Results) error {
	s.lock.Lock()
	s.finished = true
	s.lock.Unlock()
	s.publish(EventRunFinished, s.status(results.Totals))
	return nil
}

// Replay is called by the eventsource server for each new subscriber.
func (s *Server) Replay(channel, id string) chan eventsource.Event {
	ch := make(chan eventsource.Event, 1)
	ch <- eventImpl{name: EventStatus, data: s.status(s.results.Results().Totals)}
	close(ch)
	return ch
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	data := s.status(s.results.Results().Totals).JSONString()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(data))
}

func (s *Server) status(totals ldspec.Totals) ldvalue.Value {
	s.lock.Lock()
	finished := s.finished
	s.lock.Unlock()
	return ldvalue.ObjectBuild().
		SetString("runId", s.runID).
		SetBool("finished", finished).
		SetFloat64("elapsedMs", float64(time.Since(s.started))/float64(time.Millisecond)).
		Set("totals", ldvalue.ObjectBuild().
			SetInt("passed", totals.Passed).
			SetInt("failed", totals.Failed).
			SetInt("errored", totals.Errored).
			SetInt("skipped", totals.Skipped).
			SetInt("incomplete", totals.Incomplete).
			SetInt("hookFailures", totals.HookFailures).
			Build()).
		Build()
}

func (s *Server) nodeEvent(n *ldspec.Node, fields map[string]ldvalue.Value) ldvalue.Value {
	b := ldvalue.ObjectBuild().
		SetString("runId", s.runID).
		SetString("node", string(n.ID())).
		SetString("path", n.Path().String())
	for k, v := range fields {
		b.Set(k, v)
	}
	return b.Build()
}

func (s *Server) publish(name string, data ldvalue.Value) {
	s.publishLock.Lock()
	defer s.publishLock.Unlock()
	if s.closed {
		return
	}
	s.seq++
	e := eventImpl{id: strconv.Itoa(s.seq), name: name, data: data}
	s.logger.Printf("Publishing %s event: %s", e.name, e.Data())
	s.streams.Publish([]string{runChannel}, e)
}
