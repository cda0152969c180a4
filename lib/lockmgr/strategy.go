package lockmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/cKV/lib/router"
	"github.com/ValentinKolb/cKV/rpc/common"
	"github.com/hashicorp/go-multierror"
	"strconv"
	"time"
)

// lockStrategy performs the ownership checked operations of a lock.
// Acquisition is the same for all strategies, set-if-absent is atomic on the node.
type lockStrategy interface {
	kind() Strategy
	// release deletes name if it stores token
	release(ctx context.Context, name string, token []byte) (bool, error)
	// extend adds extra to the expiry of name if it stores token and has an expiry
	extend(ctx context.Context, name string, token []byte, extra time.Duration) (bool, error)
}

// newStrategy returns the strategy for a selection
func newStrategy(sel Selection, d Dispatcher) lockStrategy {
	if sel == SelectionAtomicAvailable {
		return &atomicStrategy{d: d}
	}
	return &fallbackStrategy{d: d}
}

// Probe installs the lock scripts on every primary. It returns
// SelectionAtomicAvailable if all installations succeeded and
// SelectionAtomicUnavailable otherwise, the error is only reported for logging.
func Probe(ctx context.Context, d Dispatcher) (Selection, error) {
	var errs *multierror.Error
	for _, source := range []string{common.ScriptCompareAndDelete, common.ScriptCompareAndExtend} {
		replies, err := d.Broadcast(ctx, common.NewScriptLoadRequest(source))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if len(replies) == 0 {
			errs = multierror.Append(errs, errors.New("no primary to install scripts on"))
			continue
		}
		sha := common.ScriptSHA(source)
		for addr, resp := range replies {
			if string(resp.Value) != sha {
				errs = multierror.Append(errs, fmt.Errorf("%s: unexpected digest %q", addr, resp.Value))
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return SelectionAtomicUnavailable, err
	}
	return SelectionAtomicAvailable, nil
}

// --------------------------------------------------------------------------
// Atomic strategy
// --------------------------------------------------------------------------

type atomicStrategy struct {
	d Dispatcher
}

func (s *atomicStrategy) kind() Strategy {
	return StrategyAtomic
}

func (s *atomicStrategy) release(ctx context.Context, name string, token []byte) (bool, error) {
	return s.eval(ctx, common.ScriptCompareAndDelete, name, token)
}

func (s *atomicStrategy) extend(ctx context.Context, name string, token []byte, extra time.Duration) (bool, error) {
	return s.eval(ctx, common.ScriptCompareAndExtend, name, token, []byte(strconv.FormatInt(extra.Milliseconds(), 10)))
}

// eval runs a script on the owner of name. A node that lost its scripts
// (restart, failover) gets them installed again and the evaluation is retried once.
func (s *atomicStrategy) eval(ctx context.Context, source, name string, args ...[]byte) (bool, error) {
	req := common.NewEvalShaRequest(common.ScriptSHA(source), name, args...)

	resp, err := s.d.Route(ctx, router.ByKey(name), req)
	if isNoScript(err) {
		Logger.Infof("Script missing on the owner of %q, installing it again", name)
		if _, lerr := s.d.Route(ctx, router.ByKey(name), common.NewScriptLoadRequest(source)); lerr != nil {
			return false, fmt.Errorf("reinstall script: %w", lerr)
		}
		resp, err = s.d.Route(ctx, router.ByKey(name), req)
	}
	if err != nil {
		return false, err
	}
	return resp.Int == 1, nil
}

func isNoScript(err error) bool {
	var srvErr *common.ServerError
	return errors.As(err, &srvErr) && srvErr.Prefix() == "NOSCRIPT"
}

// --------------------------------------------------------------------------
// Fallback strategy
// --------------------------------------------------------------------------

// fallbackStrategy checks the token and acts in two requests. Another client
// may take the lock in between, if it expires right after the check.
type fallbackStrategy struct {
	d Dispatcher
}

func (s *fallbackStrategy) kind() Strategy {
	return StrategyFallback
}

func (s *fallbackStrategy) release(ctx context.Context, name string, token []byte) (bool, error) {
	owned, err := s.owns(ctx, name, token)
	if err != nil || !owned {
		return false, err
	}
	resp, err := s.d.Route(ctx, router.ByKey(name), common.NewDeleteRequest(name))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *fallbackStrategy) extend(ctx context.Context, name string, token []byte, extra time.Duration) (bool, error) {
	owned, err := s.owns(ctx, name, token)
	if err != nil || !owned {
		return false, err
	}
	resp, err := s.d.Route(ctx, router.ByKey(name), common.NewPTTLRequest(name))
	if err != nil {
		return false, err
	}
	if resp.TTL < 0 {
		return false, nil
	}
	ttl := time.Duration(resp.TTL)*time.Millisecond + extra
	resp, err = s.d.Route(ctx, router.ByKey(name), common.NewPExpireRequest(name, ttl))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// owns reads the stored token and compares it with token
func (s *fallbackStrategy) owns(ctx context.Context, name string, token []byte) (bool, error) {
	resp, err := s.d.Route(ctx, router.ByKey(name), common.NewGetRequest(name))
	if err != nil {
		return false, err
	}
	return resp.Ok && bytes.Equal(resp.Value, token), nil
}
