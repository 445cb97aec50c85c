package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/edirooss/opcua-historian/internal/backend"
	"github.com/edirooss/opcua-historian/internal/config"
	"github.com/edirooss/opcua-historian/internal/gatherer"
	"github.com/edirooss/opcua-historian/internal/hdtypes"
	"github.com/edirooss/opcua-historian/internal/historian"
	"github.com/edirooss/opcua-historian/internal/http/middleware"
	"github.com/edirooss/opcua-historian/internal/logging"
	"github.com/edirooss/opcua-historian/pkg/jsonx"
	"github.com/edirooss/opcua-historian/pkg/opcua/historyrequest"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// currentValues is the demo's stand-in for the address space: the live
// value of each registered variable. A real server notifies the
// gatherer from its node store; here the PUT value endpoint does.
type currentValues struct {
	mu   sync.RWMutex
	vals map[string]hdtypes.DataValue
}

func (cv *currentValues) set(id string, dv hdtypes.DataValue) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	cv.vals[id] = dv
}

func (cv *currentValues) get(id string) (hdtypes.DataValue, bool) {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	dv, ok := cv.vals[id]
	return dv, ok
}

type registerNodeReq struct {
	ID                string              `json:"id"`
	Strategy          string              `json:"strategy"`
	MaxResponseSize   jsonx.Field[uint64] `json:"maxResponseSize"`
	PollingIntervalMs jsonx.Field[int64]  `json:"pollingIntervalMs"`
}

type pushValueReq struct {
	Value           any   `json:"value"`
	SourceTimestamp int64 `json:"sourceTimestamp"`
}

type historyReadNodeReq struct {
	NodeID            string `json:"nodeId"`
	ContinuationPoint string `json:"continuationPoint"`
}

type historyReadReq struct {
	SessionID                 string               `json:"sessionId"`
	StartTime                 int64                `json:"startTime"`
	EndTime                   int64                `json:"endTime"`
	NumValuesPerNode          uint32               `json:"numValuesPerNode"`
	ReturnBounds              bool                 `json:"returnBounds"`
	TimestampsToReturn        string               `json:"timestampsToReturn"`
	ReleaseContinuationPoints bool                 `json:"releaseContinuationPoints"`
	NodesToRead               []historyReadNodeReq `json:"nodesToRead"`
}

type dataValueResp struct {
	Value           any    `json:"value"`
	Status          uint32 `json:"status"`
	SourceTimestamp int64  `json:"sourceTimestamp,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp,omitempty"`
}

type historyReadNodeResp struct {
	NodeID            string          `json:"nodeId"`
	StatusCode        uint32          `json:"statusCode"`
	ContinuationPoint string          `json:"continuationPoint,omitempty"`
	Values            []dataValueResp `json:"values"`
}

type historyReadResp struct {
	SessionID string                `json:"sessionId"`
	Results   []historyReadNodeResp `json:"results"`
}

func main() {
	cfg := config.Load()
	log := logging.New("main")
	defer log.Sync()

	store := backend.NewMemoryBackend(log, backend.Options{InitialCapacity: cfg.BackendInitialCapacity})

	cv := &currentValues{vals: make(map[string]hdtypes.DataValue)}

	gth := gatherer.New(log, gatherer.Options{})
	defer gth.Close()

	svc := historian.NewService(log, gth, historian.Options{
		MaxContinuationPoints: cfg.MaxContinuationPoints,
		ContinuationTimeout:   cfg.ContinuationTimeout,
	})

	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Trust reverse proxy
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery()) // Recovery first (outermost)

	// CORS (dev only)
	if cfg.Env == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			ExposeHeaders:    []string{"X-Total-Count", "Location"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour, // cache preflight
		}))
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.ZapLogger(log))

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	r.POST("/api/nodes", func(c *gin.Context) {
		var req registerNodeReq
		if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		if req.ID == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "id is required"})
			return
		}

		strategy, err := parseStrategy(req.Strategy)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
			return
		}

		settings := gatherer.Settings{
			Backend:         store,
			Strategy:        strategy,
			MaxResponseSize: cfg.DefaultMaxResponseSize,
		}
		if v, ok := req.MaxResponseSize.Value(); ok {
			settings.MaxResponseSize = v
		}
		if v, ok := req.PollingIntervalMs.Value(); ok && v > 0 {
			settings.PollingInterval = time.Duration(v) * time.Millisecond
		}
		if strategy == gatherer.StrategyPoll {
			id := req.ID
			settings.PollFunc = func(ctx context.Context, node hdtypes.NodeId) (hdtypes.DataValue, error) {
				dv, ok := cv.get(id)
				if !ok {
					return hdtypes.DataValue{}, fmt.Errorf("node %q has no current value", id)
				}
				return dv, nil
			}
		}

		gth.Register(req.ID, settings)
		c.Header("Location", "/api/nodes/"+req.ID)
		c.JSON(http.StatusCreated, gin.H{"id": req.ID})
	})

	r.DELETE("/api/nodes/:id", func(c *gin.Context) {
		gth.Deregister(c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	r.POST("/api/nodes/:id/poll/start", func(c *gin.Context) {
		if err := gth.StartPoll(c.Param("id")); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "polling": true})
	})

	r.POST("/api/nodes/:id/poll/stop", func(c *gin.Context) {
		if err := gth.StopPoll(c.Param("id")); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "polling": false})
	})

	// Simulates an address-space write: updates the live value and lets
	// the gatherer apply the node's update strategy.
	r.PUT("/api/nodes/:id/value", func(c *gin.Context) {
		var req pushValueReq
		if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		dv := toDataValue(req)
		cv.set(c.Param("id"), dv)
		if err := gth.SetValue(c.Request.Context(), c.Param("id"), dv); err != nil {
			if errors.Is(err, gatherer.ErrUnknownNode) {
				_ = c.Error(err)
				c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	// Direct history insert, for nodes under the user-driven strategy.
	r.POST("/api/nodes/:id/history", func(c *gin.Context) {
		var req pushValueReq
		if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		if _, err := gth.GetSetting(c.Param("id")); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
			return
		}
		if err := store.Insert(c.Param("id"), toDataValue(req)); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": c.Param("id")})
	})

	r.POST("/api/historyread", middleware.CapConcurrentRequests(100), func(c *gin.Context) {
		var req historyReadReq
		if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}

		session := req.SessionID
		if session == "" {
			session = uuid.New().String()
		}

		tsr, err := parseTimestampsToReturn(req.TimestampsToReturn)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
			return
		}

		hreq := &historyrequest.HistoryReadRequest{
			Details: historyrequest.ReadRawModifiedDetails{
				StartTime:        hdtypes.Timestamp(req.StartTime),
				EndTime:          hdtypes.Timestamp(req.EndTime),
				NumValuesPerNode: req.NumValuesPerNode,
				ReturnBounds:     req.ReturnBounds,
			},
			TimestampsToReturn:        tsr,
			ReleaseContinuationPoints: req.ReleaseContinuationPoints,
		}
		for _, n := range req.NodesToRead {
			cp, err := base64.StdEncoding.DecodeString(n.ContinuationPoint)
			if err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "continuationPoint is not valid base64"})
				return
			}
			hreq.NodesToRead = append(hreq.NodesToRead, historyrequest.HistoryReadValueID{
				NodeID:            n.NodeID,
				ContinuationPoint: cp,
			})
		}

		resp := svc.HistoryRead(session, hreq)

		out := historyReadResp{SessionID: session}
		for i, res := range resp.Results {
			nodeResp := historyReadNodeResp{
				NodeID:            req.NodesToRead[i].NodeID,
				StatusCode:        uint32(res.StatusCode),
				ContinuationPoint: base64.StdEncoding.EncodeToString(res.ContinuationPoint),
				Values:            make([]dataValueResp, 0, len(res.HistoryData.DataValues)),
			}
			for _, dv := range res.HistoryData.DataValues {
				v := dataValueResp{Value: dv.Value, Status: uint32(dv.Status)}
				if dv.HasSourceTimestamp {
					v.SourceTimestamp = int64(dv.SourceTimestamp)
				}
				if dv.HasServerTimestamp {
					v.ServerTimestamp = int64(dv.ServerTimestamp)
				}
				nodeResp.Values = append(nodeResp.Values, v)
			}
			out.Results = append(out.Results, nodeResp)
		}
		c.JSON(http.StatusOK, out)
	})

	httpserver := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,

		MaxHeaderBytes: 1 << 15, // 32 KB

		ErrorLog: zap.NewStdLog(log.Named("http").WithOptions(zap.AddCallerSkip(1))),
	}

	log.Info("running HTTP server", zap.String("addr", cfg.HTTPAddr))
	if err := httpserver.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
}

func parseStrategy(s string) (gatherer.Strategy, error) {
	switch s {
	case "user":
		return gatherer.StrategyUser, nil
	case "valueset":
		return gatherer.StrategyValueSet, nil
	case "poll":
		return gatherer.StrategyPoll, nil
	}
	return 0, fmt.Errorf("unknown strategy %q; must be user, valueset or poll", s)
}

func parseTimestampsToReturn(s string) (hdtypes.TimestampsToReturn, error) {
	switch s {
	case "", "source":
		return hdtypes.TimestampsSource, nil
	case "server":
		return hdtypes.TimestampsServer, nil
	case "both":
		return hdtypes.TimestampsBoth, nil
	case "neither":
		return hdtypes.TimestampsNeither, nil
	}
	return 0, fmt.Errorf("unknown timestampsToReturn %q; must be source, server, both or neither", s)
}

func toDataValue(req pushValueReq) hdtypes.DataValue {
	dv := hdtypes.DataValue{Value: req.Value, Status: hdtypes.Good}
	if req.SourceTimestamp != 0 {
		dv.SourceTimestamp = hdtypes.Timestamp(req.SourceTimestamp)
		dv.HasSourceTimestamp = true
	}
	return dv
}
