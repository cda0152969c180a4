package router

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/hashicorp/go-multierror"
	"sync"
)

// Command is one request of a pipeline
type Command struct {
	Target Target
	Req    *common.Message
}

// Result is the reply or the error of one pipelined command
type Result struct {
	Reply *common.Message
	Err   error
}

// PipelineOption configures one Pipeline call
type PipelineOption func(*pipelineConfig)

type pipelineConfig struct {
	sameSlot bool
}

// SameSlot requires all commands of the pipeline to hash to one slot, so they
// are delivered in order over one connection to a single node
func SameSlot() PipelineOption {
	return func(c *pipelineConfig) { c.sameSlot = true }
}

// commandState tracks one command across the rounds of a pipeline
type commandState struct {
	redirects int
	retried   bool
}

// Pipeline sends a batch of commands with one Exec per owning node, all nodes
// concurrently. Replies are returned in the order of cmds.
//
// Every command is routed like Route does it: MOVED rebinds the slot and the
// command joins the next round, ASK sends ASKING and the command once to the
// migration target, a node that can not be reached is marked suspect and its
// commands are retried once after a refresh.
//
// Slots are checked before anything is sent. A multi-key command spanning
// several slots, or a SameSlot pipeline spanning several slots, fails with
// *CrossSlotError and no command is executed. Errors of single commands are
// stored in their Result and collected into the returned error.
func (r *Router) Pipeline(ctx context.Context, cmds []Command, opts ...PipelineOption) ([]Result, error) {
	var cfg pipelineConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := checkPipelineSlots(cmds, cfg.sameSlot); err != nil {
		routingErrsTotal.Inc()
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	if err := r.ensureTopology(ctx); err != nil {
		return nil, err
	}
	requestsTotal.Add(len(cmds))

	results := make([]Result, len(cmds))
	states := make([]commandState, len(cmds))

	todo := make([]int, len(cmds))
	for i := range cmds {
		todo[i] = i
	}

	for len(todo) > 0 {
		groups := make(map[string][]int)
		for _, i := range todo {
			node, err := r.topo.Resolve(cmds[i].Target.Slot())
			if err != nil {
				results[i].Err = err
				continue
			}
			groups[node.Addr()] = append(groups[node.Addr()], i)
		}

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			next    []int
			refresh bool
		)
		for addr, idx := range groups {
			wg.Add(1)
			go func(addr string, idx []int) {
				defer wg.Done()
				again, err := r.execGroup(ctx, addr, idx, cmds, results, states)
				if err != nil {
					again = r.groupFailed(ctx, addr, err, idx, results, states)
				}

				mu.Lock()
				defer mu.Unlock()
				next = append(next, again...)
				refresh = refresh || (err != nil && len(again) > 0)
			}(addr, idx)
		}
		wg.Wait()

		if refresh {
			if err := r.topo.Refresh(ctx); err != nil {
				Logger.Warningf("Refresh after pipeline connection error failed: %v", err)
			}
		}
		todo = next
	}

	var errs *multierror.Error
	for i, res := range results {
		if res.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("command %d: %w", i, res.Err))
		}
	}
	return results, errs.ErrorOrNil()
}

// execGroup sends the commands idx to addr and stores their results. It
// returns the commands that were moved and must be sent again. An error means
// the node could not be reached and no result was stored.
func (r *Router) execGroup(ctx context.Context, addr string, idx []int, cmds []Command, results []Result, states []commandState) ([]int, error) {
	reqs := make([]*common.Message, len(idx))
	for j, i := range idx {
		reqs[j] = cmds[i].Req
	}

	resps, err := r.exec.Exec(ctx, addr, reqs...)
	if err != nil {
		return nil, err
	}
	if len(resps) != len(idx) {
		err := fmt.Errorf("expected %d replies from %s, got %d", len(idx), addr, len(resps))
		for _, i := range idx {
			results[i].Err = err
		}
		return nil, nil
	}

	var again []int
	for j, i := range idx {
		rd, isRedirect := common.ParseRedirect(resps[j])
		if !isRedirect {
			results[i].Reply, results[i].Err = replyOrError(resps[j])
			continue
		}

		s := cmds[i].Target.Slot()
		switch rd.Kind {
		case common.RedirectMoved:
			movedTotal.Inc()
			states[i].redirects++
			if states[i].redirects > r.maxRedirects {
				routingErrsTotal.Inc()
				results[i].Err = &RoutingError{Slot: s, Redirects: states[i].redirects - 1, Reason: "too many MOVED redirects, last " + rd.String()}
				continue
			}
			if _, err := r.topo.ApplyMoved(rd.Slot, rd.Addr); err != nil {
				results[i].Err = fmt.Errorf("apply %s: %w", rd, err)
				continue
			}
			again = append(again, i)

		case common.RedirectAsk:
			askTotal.Inc()
			results[i].Reply, results[i].Err = r.ask(ctx, s, states[i].redirects, rd, cmds[i].Req)
		}
	}
	return again, nil
}

// groupFailed handles a node that could not be reached. Commands that were not
// retried yet are returned for the next round, the others fail.
func (r *Router) groupFailed(ctx context.Context, addr string, err error, idx []int, results []Result, states []commandState) []int {
	if ctx.Err() != nil {
		for _, i := range idx {
			results[i].Err = ctx.Err()
		}
		return nil
	}

	connErrorsTotal.Inc()
	r.topo.MarkSuspect(addr)

	var again []int
	for _, i := range idx {
		if states[i].retried {
			results[i].Err = &ConnectionError{Addr: addr, Err: err}
			continue
		}
		states[i].retried = true
		again = append(again, i)
	}
	return again
}

// checkPipelineSlots rejects multi-key commands spanning several slots and,
// with sameSlot, pipelines spanning several slots
func checkPipelineSlots(cmds []Command, sameSlot bool) error {
	var all []uint16
	for _, cmd := range cmds {
		slots := cmd.Target.slots()
		if len(slots) > 1 {
			return &CrossSlotError{Slots: slots}
		}
		if !containsSlot(all, slots[0]) {
			all = append(all, slots[0])
		}
	}
	if sameSlot && len(all) > 1 {
		return &CrossSlotError{Slots: all}
	}
	return nil
}
