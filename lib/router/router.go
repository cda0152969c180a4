package router

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/lib/topology"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger("router")

// DefaultMaxRedirects is the number of MOVED redirects one request follows
const DefaultMaxRedirects = 16

var (
	requestsTotal    = metrics.NewCounter(`ckv_router_requests_total`)
	movedTotal       = metrics.NewCounter(`ckv_router_redirects_total{kind="moved"}`)
	askTotal         = metrics.NewCounter(`ckv_router_redirects_total{kind="ask"}`)
	connErrorsTotal  = metrics.NewCounter(`ckv_router_connection_errors_total`)
	routingErrsTotal = metrics.NewCounter(`ckv_router_routing_errors_total`)
)

// Executor is the connection layer the router sends requests through
type Executor interface {
	// Exec sends the requests in order over one leased connection to the node
	// at addr and returns one reply per request. An error means the node could
	// not be reached or the connection broke; error replies of the node are
	// returned as messages.
	Exec(ctx context.Context, addr string, reqs ...*common.Message) ([]*common.Message, error)
}

// Router sends requests to the owner of their slot and absorbs redirects
type Router struct {
	topo         *topology.Manager
	exec         Executor
	maxRedirects int
}

// Option configures a Router
type Option func(*Router)

// WithMaxRedirects sets how many MOVED redirects one request follows
func WithMaxRedirects(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxRedirects = n
		}
	}
}

// New creates a router on top of a topology manager and an executor
func New(topo *topology.Manager, exec Executor, opts ...Option) *Router {
	r := &Router{
		topo:         topo,
		exec:         exec,
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Topology returns the topology manager of the router
func (r *Router) Topology() *topology.Manager {
	return r.topo
}

// Route sends a request to the owner of the target slot.
//
// MOVED replies rebind the slot and the request is sent again, up to the
// redirect budget. An ASK reply sends ASKING followed by the request to the
// indicated node once, without touching the slot map. If the node can not be
// reached it is marked suspect, the topology is refreshed and the request is
// retried once.
//
// Error replies of the node are returned as *common.ServerError. A multi-key
// target whose keys span several slots fails with *CrossSlotError.
func (r *Router) Route(ctx context.Context, target Target, req *common.Message) (*common.Message, error) {
	requestsTotal.Inc()

	if slots := target.slots(); len(slots) > 1 {
		routingErrsTotal.Inc()
		return nil, &CrossSlotError{Slots: slots}
	}
	if err := r.ensureTopology(ctx); err != nil {
		return nil, err
	}

	s := target.Slot()
	redirects := 0
	retried := false

	for {
		node, err := r.topo.Resolve(s)
		if err != nil {
			return nil, err
		}
		addr := node.Addr()

		resp, err := r.send(ctx, addr, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			connErrorsTotal.Inc()
			r.topo.MarkSuspect(addr)
			if retried {
				return nil, &ConnectionError{Addr: addr, Err: err}
			}
			retried = true
			if rerr := r.topo.Refresh(ctx); rerr != nil {
				Logger.Warningf("Refresh after connection error to %s failed: %v", addr, rerr)
			}
			continue
		}

		rd, isRedirect := common.ParseRedirect(resp)
		if !isRedirect {
			return replyOrError(resp)
		}

		switch rd.Kind {
		case common.RedirectMoved:
			movedTotal.Inc()
			redirects++
			if redirects > r.maxRedirects {
				routingErrsTotal.Inc()
				return nil, &RoutingError{Slot: s, Redirects: redirects - 1, Reason: "too many MOVED redirects, last " + rd.String()}
			}
			if _, err := r.topo.ApplyMoved(rd.Slot, rd.Addr); err != nil {
				return nil, fmt.Errorf("apply %s: %w", rd, err)
			}
			Logger.Debugf("Followed %s", rd)

		case common.RedirectAsk:
			askTotal.Inc()
			Logger.Debugf("Followed %s", rd)
			return r.ask(ctx, s, redirects, rd, req)
		}
	}
}

// RouteNode sends a request to one specific node. Redirects are not followed.
func (r *Router) RouteNode(ctx context.Context, addr string, req *common.Message) (*common.Message, error) {
	requestsTotal.Inc()

	resp, err := r.send(ctx, addr, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		connErrorsTotal.Inc()
		r.topo.MarkSuspect(addr)
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	return replyOrError(resp)
}

// Broadcast sends a request to every primary concurrently. Replies are keyed
// by node address. Failures of single nodes are collected into the error,
// the replies of the other nodes are returned nonetheless.
func (r *Router) Broadcast(ctx context.Context, req *common.Message) (map[string]*common.Message, error) {
	if err := r.ensureTopology(ctx); err != nil {
		return nil, err
	}

	primaries := r.topo.Primaries()
	replies := make(map[string]*common.Message, len(primaries))

	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	for _, node := range primaries {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			resp, err := r.RouteNode(ctx, addr, req)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", addr, err))
				return
			}
			replies[addr] = resp
		}(node.Addr())
	}
	wg.Wait()

	return replies, errs.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// ensureTopology runs the first refresh lazily
func (r *Router) ensureTopology(ctx context.Context) error {
	if r.topo.Ready() {
		return nil
	}
	return r.topo.Refresh(ctx)
}

// ask sends ASKING and the request over one connection to the migration target
func (r *Router) ask(ctx context.Context, s uint16, redirects int, rd common.Redirect, req *common.Message) (*common.Message, error) {
	resps, err := r.exec.Exec(ctx, rd.Addr, common.NewAskingRequest(), req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		connErrorsTotal.Inc()
		r.topo.MarkSuspect(rd.Addr)
		return nil, &ConnectionError{Addr: rd.Addr, Err: err}
	}
	if len(resps) != 2 {
		return nil, fmt.Errorf("expected 2 replies from %s, got %d", rd.Addr, len(resps))
	}
	if err := resps[0].AsError(); err != nil {
		return nil, fmt.Errorf("ASKING rejected by %s: %w", rd.Addr, err)
	}

	if again, isRedirect := common.ParseRedirect(resps[1]); isRedirect {
		routingErrsTotal.Inc()
		return nil, &RoutingError{Slot: s, Redirects: redirects + 1, Reason: fmt.Sprintf("%s after ASK to %s", again, rd.Addr)}
	}
	return replyOrError(resps[1])
}

// send sends a single request to a node
func (r *Router) send(ctx context.Context, addr string, req *common.Message) (*common.Message, error) {
	resps, err := r.exec.Exec(ctx, addr, req)
	if err != nil {
		return nil, err
	}
	if len(resps) != 1 {
		return nil, fmt.Errorf("expected 1 reply from %s, got %d", addr, len(resps))
	}
	return resps[0], nil
}

// replyOrError turns error replies into *common.ServerError
func replyOrError(resp *common.Message) (*common.Message, error) {
	if err := resp.AsError(); err != nil {
		return nil, err
	}
	return resp, nil
}
