package dispatch

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/authz"
	"github.com/cuemby/strata/internal/eventlog"
	"github.com/cuemby/strata/internal/graph"
	"github.com/cuemby/strata/internal/identity"
	"github.com/cuemby/strata/internal/log"
	"github.com/cuemby/strata/internal/metrics"
	"github.com/cuemby/strata/internal/rules"
	"github.com/cuemby/strata/internal/search"
	"github.com/cuemby/strata/internal/store"
	"github.com/cuemby/strata/internal/types"
)

// Registry holds every core component handle the write path needs and
// implements consensus.Applier. One Registry exists per node; internal/
// consensus.FSM calls Apply for every committed log entry.
type Registry struct {
	env    *store.Env
	rules  *rules.Engine
	search *search.Index
	issuer *identity.Issuer
	broker *eventlog.Broker
}

// NewRegistry wires the components Apply's five-step sequence touches.
func NewRegistry(env *store.Env, rulesEngine *rules.Engine, searchIndex *search.Index, issuer *identity.Issuer, broker *eventlog.Broker) *Registry {
	return &Registry{env: env, rules: rulesEngine, search: searchIndex, issuer: issuer, broker: broker}
}

// handlerFunc is one write command's implementation: given the open write
// txn, the resolved principal, and the codec-encoded body, it mutates the
// graph (and, where applicable, the search index), returning a codec- or
// ad hoc-encoded result for the caller, or an error demoting the
// transaction to a recorded-but-failed event.
type handlerFunc func(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error)

var handlers = map[Tag]handlerFunc{
	TagCreateProject:         handleCreateProject,
	TagCreateResource:        handleCreateResource,
	TagCreateResourceBatch:   handleCreateResourceBatch,
	TagUpdateResourceName:    handleUpdateResourceName,
	TagUpdateResourceTitle:   handleUpdateResourceTitle,
	TagCreateRealm:           handleCreateRealm,
	TagCreateGroup:           handleCreateGroup,
	TagAddGroupToRealm:       handleAddGroupToRealm,
	TagRegisterUser:          handleRegisterUser,
	TagCreateToken:           handleCreateToken,
	TagCreateRelation:        handleCreateRelation,
	TagCreateRelationVariant: handleCreateRelationVariant,
	TagCreateComponent:       handleCreateComponent,
	TagAddComponentToRealm:   handleAddComponentToRealm,
	TagRegisterData:          handleRegisterData,
	TagCreateRule:            handleCreateRule,
	TagAddRuleBinding:        handleAddRuleBinding,
}

// Apply implements consensus.Applier: decode the envelope, resolve the
// requester into a Principal, run the tagged handler inside one write
// transaction, and append an event recording the outcome either way, per
// spec §4.I's five-step sequence. A handler error never aborts the bbolt
// transaction — the event marking it failed must still commit, so the
// requester (and any subscriber) can see the attempt.
func (r *Registry) Apply(payload []byte) (uint64, []byte, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	env, err := decodeEnvelope(payload)
	if err != nil {
		return 0, nil, apierr.Fatal(err, "decode transaction envelope")
	}

	var result []byte
	var handlerErr error
	var eventID uint64

	err = r.env.Update(func(tx *bolt.Tx) error {
		principal, perr := r.resolvePrincipal(tx, env.requester, env.tag)
		if perr != nil {
			handlerErr = perr
		} else {
			fn, ok := handlers[env.tag]
			if !ok {
				handlerErr = apierr.InvalidArgument("dispatch: unknown tag %d", env.tag)
			} else {
				result, handlerErr = fn(tx, r, principal, env.body)
			}
		}

		outcome := "ok"
		status := byte(0)
		if handlerErr != nil {
			outcome = "failed"
			status = 1
			log.WithComponent("dispatch").Warn().Err(handlerErr).Uint8("tag", uint8(env.tag)).Msg("transaction failed")
		}
		txBytes := append([]byte{status}, payload...)
		id, aerr := eventlog.Append(tx, txBytes)
		if aerr != nil {
			return aerr
		}
		eventID = id
		metrics.TransactionsTotal.WithLabelValues(fmt.Sprintf("%d", env.tag), outcome).Inc()
		return nil
	})
	if err != nil {
		return 0, nil, apierr.Fatal(err, "apply transaction")
	}

	metrics.EventsAppendedTotal.Inc()
	r.broker.Publish(eventID)

	if handlerErr != nil {
		return eventID, nil, handlerErr
	}
	return eventID, result, nil
}

// resolvePrincipal loads the requester's Principal, special-casing the one
// transaction reachable before any User node exists: the first RegisterUser
// call, which must be authorizable under Public() rather than GlobalAdmin().
func (r *Registry) resolvePrincipal(tx *bolt.Tx, requester types.Index, tag Tag) (authz.Principal, error) {
	if tag == TagRegisterUser && !graph.AnyNodeOfKind(tx, types.KindUser) {
		return authz.Principal{}, nil
	}
	return authz.LoadPrincipal(tx, requester)
}

// UnwrapEvent splits a persisted event's txBytes into its failed flag and
// the original proposed payload, the inverse of the [status byte][payload]
// framing Apply appends. internal/command's GetEvents uses this to surface
// EventRecord.Failed without re-running the handler.
func UnwrapEvent(txBytes []byte) (failed bool, payload []byte) {
	if len(txBytes) == 0 {
		return false, nil
	}
	return txBytes[0] == 1, txBytes[1:]
}
