package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"candleflow/internal/engine"
	"candleflow/internal/viewport"
	"candleflow/logger"
)

// Options configures the presentation server.
type Options struct {
	Addr string
	// FrameInterval is how often the engine is polled for a pending redraw.
	// Default 60ms.
	FrameInterval time.Duration
}

func (o Options) normalized() Options {
	if o.Addr == "" {
		o.Addr = ":8085"
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 60 * time.Millisecond
	}
	return o
}

// Server owns the websocket hub and the redraw-polling loop for one engine.
type Server struct {
	opts   Options
	engine *engine.Engine
	hub    *Hub
	log    *logger.Entry
}

func New(eng *engine.Engine, opts Options) *Server {
	return &Server{
		opts:   opts.normalized(),
		engine: eng,
		hub:    newHub(),
		log:    logger.GetLogger().WithComponent("server"),
	}
}

// Run serves until ctx is done. The polling loop consumes the engine's
// pending-redraw flag; when set, the current frame is marshaled once and
// broadcast to every client.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.run(ctx)
	go s.pollFrames(ctx)

	httpSrv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.WithFields(logger.Fields{"addr": s.opts.Addr}).Info("listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) pollFrames(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.engine.NeedsRedraw() {
				continue
			}
			frame := s.engine.FrameState()
			payload, err := json.Marshal(frame)
			if err != nil {
				s.log.WithError(err).Error("frame marshal failed")
				continue
			}
			select {
			case s.hub.broadcast <- payload:
			default:
				// Hub busy; the next dirty tick re-broadcasts fresher state.
			}
		}
	}
}

// intent is a view command from a chart client. Pointer-to-intent translation
// happens in the browser; the server only sees discrete actions.
type intent struct {
	Action      string  `json:"action"`
	Delta       float64 `json:"delta"`
	Factor      float64 `json:"factor"`
	AnchorRatio float64 `json:"anchorRatio"`
	ChartHeight float64 `json:"chartHeight"`
	Enabled     bool    `json:"enabled"`
}

func (s *Server) applyIntent(in intent) {
	switch in.Action {
	case "pan":
		s.engine.SetMode(viewport.ModePanning)
		s.engine.PanBy(int(in.Delta))
	case "pan_end":
		s.engine.SetMode(viewport.ModeIdle)
	case "zoom":
		s.engine.Zoom(in.Factor, in.AnchorRatio)
	case "fit":
		s.engine.Fit()
	case "footprint":
		s.engine.SetFootprintMode(in.Enabled)
	case "scale_price":
		s.engine.SetMode(viewport.ModeScaling)
		s.engine.ScalePriceRange(in.Delta)
	case "shift_price":
		s.engine.ShiftPriceRange(in.Delta, in.ChartHeight)
	case "scale_end":
		s.engine.SetMode(viewport.ModeIdle)
	case "reset_price":
		s.engine.ClearCustomRange()
	default:
		s.log.WithFields(logger.Fields{"action": in.Action}).Debug("ignoring unknown intent")
	}
}
