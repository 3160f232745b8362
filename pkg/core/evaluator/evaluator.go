//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package evaluator computes permission decisions against the entity
// graph.
//
// Evaluation is a pure read: resolve the request URI to the most
// specific resource, walk the entity's inheritance set breadth-first,
// and combine the permissions found along the way. A deny anywhere in
// the set beats any grant, including a grant on the evaluated entity
// itself. NoMatch is reserved for requests that resolve to nothing (no
// resource matches the URI, or the entity does not exist); a matched
// resource with no applicable permission is denied outright.
package evaluator

import (
	"fmt"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/graph"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

var logger = logging.GetLogger("acs.evaluator")

// Evaluator renders decisions over a graph.
type Evaluator struct {
	graph *graph.Graph
}

// New creates an evaluator bound to g.
func New(g *graph.Graph) *Evaluator {
	return &Evaluator{graph: g}
}

// Evaluate decides whether entityID may perform verb on the resource
// addressed by uri. Evaluation fails closed: any internal fault renders
// a denial rather than an error.
func (e *Evaluator) Evaluate(entityID int64, uri string, verb model.Verb) (decision model.Decision) {
	defer func() {
		if r := recover(); r != nil {
			logger.SysErrorf("evaluation panic for entity %d on %s %s: %v", entityID, verb, uri, r)
			decision = model.Decision{Effect: model.EffectDenied, Reason: "evaluation error"}
		}
	}()

	res, ok := e.graph.MatchResource(uri)
	if !ok {
		return model.Decision{Effect: model.EffectNoMatch, Reason: "no resource matches uri"}
	}

	order, parents, err := e.graph.Ancestors(entityID)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return model.Decision{Effect: model.EffectNoMatch, Reason: "entity not found"}
		}
		logger.SysErrorf("ancestor walk failed for entity %d: %v", entityID, err)
		return model.Decision{Effect: model.EffectDenied, Reason: "evaluation error"}
	}

	var grantFrom int64
	granted := false

	// the walk is breadth-first, so the first grant seen is the nearest
	for _, ancestor := range order {
		for _, p := range e.graph.PermissionsFor(ancestor, res.ID, verb) {
			if p.Deny {
				return e.decide(model.EffectDenied, fmt.Sprintf("denied at %d", ancestor), entityID, ancestor, parents)
			}
			if p.Grant && !granted {
				granted = true
				grantFrom = ancestor
			}
		}
	}

	if granted {
		return e.decide(model.EffectAllowed, fmt.Sprintf("granted at %d", grantFrom), entityID, grantFrom, parents)
	}
	return model.Decision{Effect: model.EffectDenied, Reason: "no permission found"}
}

// decide assembles the decision, reconstructing the inheritance chain
// from the BFS predecessor pointers when the deciding ancestor is not
// the entity itself.
func (e *Evaluator) decide(effect model.Effect, reason string, entityID, from int64, parents map[int64]int64) model.Decision {
	d := model.Decision{Effect: effect, Reason: reason}
	if from == entityID {
		return d
	}

	d.InheritedFrom = from

	chain := []int64{from}
	for cur := from; cur != entityID; {
		prev, ok := parents[cur]
		if !ok {
			break
		}
		chain = append(chain, prev)
		cur = prev
	}
	// reverse into entity-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	d.InheritanceChain = chain
	return d
}
