// Package historian is the history service facade: the single entry
// point the service dispatcher calls. It fans a HistoryRead out over
// the requested nodes, drives the read engine per node, and owns the
// lifetime of server-side continuation points.
package historian

import (
	"bytes"
	"time"

	"github.com/edirooss/opcua-historian/internal/gatherer"
	"github.com/edirooss/opcua-historian/internal/hdtypes"
	"github.com/edirooss/opcua-historian/internal/readengine"
	"github.com/edirooss/opcua-historian/pkg/opcua/historyrequest"
	"go.uber.org/zap"
)

// Options configures the facade.
type Options struct {
	// MaxContinuationPoints bounds the continuation-point table per
	// session; overflow evicts the oldest point. Zero disables
	// continuation points: a read that would need one delivers its
	// truncated fragment with BadNoContinuationPoints.
	MaxContinuationPoints int

	// ContinuationTimeout is the idle lifetime of a continuation point;
	// a client presenting an expired point gets
	// BadContinuationPointInvalid. Zero means no expiry.
	ContinuationTimeout time.Duration

	// EmitContinuationOnExactMatch is passed through to the read
	// engine; see readengine.Options.
	EmitContinuationOnExactMatch bool

	// Clock substitutes the time source in tests. Defaults to time.Now.
	Clock func() time.Time
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Service is the history data service. One instance serves every
// session; callers identify the session per request so continuation
// points stay scoped to their owner.
type Service struct {
	log *zap.Logger
	gth *gatherer.Gatherer
	cps *cpTable

	engineOpts readengine.Options
}

// NewService wires the facade to the gatherer registry it reads
// settings from.
func NewService(log *zap.Logger, gth *gatherer.Gatherer, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	opts.setDefaults()
	return &Service{
		log:        log.Named("historian"),
		gth:        gth,
		cps:        newCPTable(opts.MaxContinuationPoints, opts.ContinuationTimeout, opts.Clock),
		engineOpts: readengine.Options{EmitContinuationOnExactMatch: opts.EmitContinuationOnExactMatch},
	}
}

// HistoryRead services one decoded HistoryRead call for session. Every
// requested node gets a result slot; per-node failures populate that
// slot's status and never abort the other nodes.
func (s *Service) HistoryRead(session string, req *historyrequest.HistoryReadRequest) *historyrequest.HistoryReadResponse {
	resp := &historyrequest.HistoryReadResponse{
		Results: make([]historyrequest.HistoryReadResult, len(req.NodesToRead)),
	}
	for i, n := range req.NodesToRead {
		resp.Results[i] = s.readNode(session, req, n)
	}
	return resp
}

// ReleaseSession frees every continuation point the session holds.
// Called by the session layer on teardown.
func (s *Service) ReleaseSession(session string) {
	s.cps.releaseSession(session)
}

func (s *Service) readNode(session string, req *historyrequest.HistoryReadRequest, n historyrequest.HistoryReadValueID) historyrequest.HistoryReadResult {
	if req.ReleaseContinuationPoints {
		s.cps.release(session, n.NodeID)
		return historyrequest.HistoryReadResult{StatusCode: hdtypes.Good}
	}

	settings, err := s.gth.GetSetting(n.NodeID)
	if err != nil {
		return historyrequest.HistoryReadResult{StatusCode: hdtypes.BadNodeIDUnknown}
	}

	// A client-presented continuation point must match the live one for
	// this (session, node) pair; anything else is stale or forged.
	if len(n.ContinuationPoint) > 0 {
		stored, ok := s.cps.get(session, n.NodeID)
		if !ok || !bytes.Equal(stored, n.ContinuationPoint) {
			s.cps.release(session, n.NodeID)
			return historyrequest.HistoryReadResult{StatusCode: hdtypes.BadContinuationPointInvalid}
		}
	}

	res := readengine.Execute(readengine.Request{
		NodeId:             n.NodeID,
		IsReadModified:     req.Details.IsReadModified,
		StartTime:          req.Details.StartTime,
		EndTime:            req.Details.EndTime,
		NumValuesPerNode:   req.Details.NumValuesPerNode,
		ReturnBounds:       req.Details.ReturnBounds,
		TimestampsToReturn: req.TimestampsToReturn,
		Range:              n.IndexRange,
		ContinuationPoint:  n.ContinuationPoint,
	}, readengine.NodeSettings{
		Backend:         settings.Backend,
		MaxResponseSize: settings.MaxResponseSize,
	}, s.engineOpts)

	out := historyrequest.HistoryReadResult{
		StatusCode:  res.StatusCode,
		HistoryData: historyrequest.HistoryData{DataValues: res.Values},
	}

	if len(res.ContinuationPoint) > 0 {
		// A new read on the same pair implicitly released the prior
		// point: put replaces it.
		if s.cps.put(session, n.NodeID, res.ContinuationPoint) {
			out.ContinuationPoint = res.ContinuationPoint
		} else {
			// No continuation capacity: deliver what this fragment
			// holds and tell the client it cannot resume.
			out.StatusCode = hdtypes.BadNoContinuationPoints
			s.log.Warn("continuation point dropped, table disabled",
				zap.Any("node", n.NodeID), zap.String("session", session))
		}
	} else {
		s.cps.release(session, n.NodeID)
	}

	return out
}
