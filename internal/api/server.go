package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"tailscale.com/tsweb"

	"github.com/banshee-data/picar.autonav/internal/config"
	"github.com/banshee-data/picar.autonav/internal/httputil"
	"github.com/banshee-data/picar.autonav/internal/journal"
	"github.com/banshee-data/picar.autonav/internal/monitoring"
	"github.com/banshee-data/picar.autonav/internal/navigation"
	"github.com/banshee-data/picar.autonav/internal/serialmux"
	"github.com/banshee-data/picar.autonav/internal/trigger"
	"github.com/banshee-data/picar.autonav/internal/version"
)

// Controller starts and stops the detection loop.
type Controller interface {
	Handle(cmd trigger.Command) trigger.Outcome
	State() trigger.RunState
	Starts() int
}

// DriverStatus reports the live state of the decision loop.
type DriverStatus interface {
	Status() navigation.Status
}

// History is the read side of the run journal plus trigger recording.
type History interface {
	Runs(ctx context.Context, limit int) ([]journal.Run, error)
	Recoveries(ctx context.Context, runID string) ([]navigation.Recovery, error)
	TriggerEvents(ctx context.Context, limit int) ([]journal.TriggerRecord, error)
	RecordTrigger(ctx context.Context, ev trigger.Event) error
}

// BoardReporter reports what the motor board has said.
type BoardReporter interface {
	Status() serialmux.BoardStatus
}

// Config wires a Server. Controller and Driver are required.
type Config struct {
	Controller Controller
	Driver     DriverStatus
	History    History                      // optional
	Board      BoardReporter                // optional
	Serial     serialmux.SerialMuxInterface // optional, adds /debug/ serial routes
	Settings   config.Settings
	Logger     logrus.FieldLogger
}

type Server struct {
	ctl      Controller
	driver   DriverStatus
	history  History
	board    BoardReporter
	serial   serialmux.SerialMuxInterface
	settings config.Settings
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = monitoring.Component("api")
	}
	return &Server{
		ctl:      cfg.Controller,
		driver:   cfg.Driver,
		history:  cfg.History,
		board:    cfg.Board,
		serial:   cfg.Serial,
		settings: cfg.Settings,
		log:      log,
		now:      time.Now,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(log logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		entry := log.WithFields(logrus.Fields{
			"method":      r.Method,
			"uri":         r.RequestURI,
			"status":      lrw.statusCode,
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
		})
		if lrw.statusCode >= 500 {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/trigger", s.sendTrigger)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/recoveries", s.listRecoveries)
	mux.HandleFunc("/api/triggers", s.listTriggers)
	mux.HandleFunc("/api/config", s.showConfig)

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KVFunc("Detection", func() any { return s.ctl.State().String() })
	debug.KVFunc("Loops started", func() any { return s.ctl.Starts() })
	if s.serial != nil {
		s.serial.AttachAdminRoutes(mux)
	}
	return mux
}

type statusResponse struct {
	State   trigger.RunState       `json:"state"`
	Starts  int                    `json:"starts"`
	Driver  navigation.Status      `json:"driver"`
	Board   *serialmux.BoardStatus `json:"board,omitempty"`
	Version version.Info           `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statusResponse{
		State:   s.ctl.State(),
		Starts:  s.ctl.Starts(),
		Driver:  s.driver.Status(),
		Version: version.Get(),
	}
	if s.board != nil {
		b := s.board.Status()
		resp.Board = &b
	}
	httputil.WriteJSONOK(w, resp)
}

type triggerResponse struct {
	Command trigger.Command  `json:"command"`
	Outcome trigger.Outcome  `json:"outcome"`
	State   trigger.RunState `json:"state"`
}

// sendTrigger is the HTTP twin of a UDP datagram: command=start|stop (or
// 1|0) goes through the same supervisor.
func (s *Server) sendTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	raw := r.FormValue("command")
	cmd, err := trigger.CommandFromName(raw)
	if err != nil {
		httputil.BadRequest(w, "command must be start or stop")
		return
	}

	outcome := s.ctl.Handle(cmd)
	if s.history != nil {
		ev := trigger.Event{
			At:      s.now(),
			Source:  "http:" + r.RemoteAddr,
			Payload: raw,
			Command: cmd,
			Outcome: outcome,
		}
		if err := s.history.RecordTrigger(context.WithoutCancel(r.Context()), ev); err != nil {
			s.log.WithError(err).Warn("failed to journal trigger")
		}
	}

	status := http.StatusOK
	if outcome == trigger.OutcomeFailed {
		status = http.StatusInternalServerError
	}
	httputil.WriteJSON(w, status, triggerResponse{Command: cmd, Outcome: outcome, State: s.ctl.State()})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.ServiceUnavailable(w, "run journal is disabled")
		return
	}
	limit, ok := httputil.QueryInt(r, "limit", journal.DefaultLimit)
	if !ok {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return
	}
	runs, err := s.history.Runs(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("failed to list runs")
		httputil.InternalServerError(w, "Failed to retrieve runs")
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) listRecoveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.ServiceUnavailable(w, "run journal is disabled")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "Missing 'id' parameter")
		return
	}
	recs, err := s.history.Recoveries(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("run_id", id).Error("failed to list recoveries")
		httputil.InternalServerError(w, "Failed to retrieve recoveries")
		return
	}
	if recs == nil {
		recs = []navigation.Recovery{}
	}
	httputil.WriteJSONOK(w, recs)
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.ServiceUnavailable(w, "run journal is disabled")
		return
	}
	limit, ok := httputil.QueryInt(r, "limit", journal.DefaultLimit)
	if !ok {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return
	}
	events, err := s.history.TriggerEvents(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("failed to list trigger events")
		httputil.InternalServerError(w, "Failed to retrieve trigger events")
		return
	}
	if events == nil {
		events = []journal.TriggerRecord{}
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, settingsView(s.settings))
}

// settingsView renders durations as strings so the response round-trips
// into a drive config file.
func settingsView(st config.Settings) map[string]interface{} {
	return map[string]interface{}{
		"listen_address":          st.ListenAddress,
		"buffer_size":             st.BufferSize,
		"trigger_rate":            st.TriggerRate,
		"trigger_burst":           st.TriggerBurst,
		"join_timeout":            st.JoinTimeout.String(),
		"power":                   st.Power,
		"obstacle_area_threshold": st.ObstacleAreaThreshold,
		"no_detection_threshold":  st.NoDetectionThreshold,
		"backup_threshold":        st.BackupThreshold,
		"recovery_steering":       st.RecoverySteering,
		"scan_mode":               st.ScanMode,
		"pan_max":                 st.PanMax,
		"pan_step":                st.PanStep,
		"tilt_angle":              st.TiltAngle,
		"sweep_step_delay":        st.SweepStepDelay.String(),
		"stop_settle":             st.StopSettle.String(),
		"stop_pause":              st.StopPause.String(),
		"forward_hold":            st.ForwardHold.String(),
		"recovery_hold":           st.RecoveryHold.String(),
		"backward_hold":           st.BackwardHold.String(),
		"cycle_delay":             st.CycleDelay.String(),
		"frame_max_age":           st.FrameMaxAge.String(),
	}
}
