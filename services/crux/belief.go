// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crux

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// probEpsilon keeps probabilities away from the logit singularities at 0
// and 1.
const probEpsilon = 1e-6

// logit maps a probability to log-odds space, clamped to ±clamp.
func logit(p, clamp float64) float64 {
	if p < probEpsilon {
		p = probEpsilon
	}
	if p > 1-probEpsilon {
		p = 1 - probEpsilon
	}
	l := math.Log(p / (1 - p))
	if l > clamp {
		return clamp
	}
	if l < -clamp {
		return -clamp
	}
	return l
}

// logistic is the inverse of logit.
func logistic(l float64) float64 {
	return 1.0 / (1.0 + math.Exp(-l))
}

// activeIndices returns the positions of active nodes in bs.Nodes, in
// insertion order.
func activeIndices(bs *BeliefState) []int {
	idx := make([]int, 0, len(bs.Nodes))
	for i := range bs.Nodes {
		if bs.Nodes[i].Status == NodeActive {
			idx = append(idx, i)
		}
	}
	return idx
}

// activeCount returns the number of active nodes.
func activeCount(bs *BeliefState) int {
	n := 0
	for i := range bs.Nodes {
		if bs.Nodes[i].Status == NodeActive {
			n++
		}
	}
	return n
}

// nodeByID finds a node by id regardless of status. Returns nil when absent.
func nodeByID(bs *BeliefState, id uuid.UUID) *CruxNode {
	for i := range bs.Nodes {
		if bs.Nodes[i].NodeID == id {
			return &bs.Nodes[i]
		}
	}
	return nil
}

// renormalize rescales active probabilities to sum to one. A degenerate
// all-zero mass falls back to uniform so the distribution stays valid.
func renormalize(bs *BeliefState) {
	idx := activeIndices(bs)
	if len(idx) == 0 {
		return
	}

	total := 0.0
	for _, i := range idx {
		total += bs.Probs[bs.Nodes[i].NodeID]
	}

	if total <= 0 {
		uniform := 1.0 / float64(len(idx))
		for _, i := range idx {
			bs.Probs[bs.Nodes[i].NodeID] = uniform
		}
		return
	}

	for _, i := range idx {
		bs.Probs[bs.Nodes[i].NodeID] /= total
	}
}

// rerank rebuilds TopIDs: active nodes ordered by probability descending,
// ties broken by node id string so the ordering is deterministic.
func rerank(bs *BeliefState) {
	idx := activeIndices(bs)
	ids := make([]uuid.UUID, 0, len(idx))
	for _, i := range idx {
		ids = append(ids, bs.Nodes[i].NodeID)
	}

	sort.SliceStable(ids, func(a, b int) bool {
		pa, pb := bs.Probs[ids[a]], bs.Probs[ids[b]]
		if pa != pb {
			return pa > pb
		}
		return ids[a].String() < ids[b].String()
	})

	bs.TopIDs = ids
}

// entropy computes the Shannon entropy (bits) of the active distribution.
func entropy(bs *BeliefState) float64 {
	h := 0.0
	for _, i := range activeIndices(bs) {
		p := bs.Probs[bs.Nodes[i].NodeID]
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}

// topGap returns the probabilities of the two leading hypotheses and the gap
// between them. With a single active node the gap is its full probability.
func topGap(bs *BeliefState) (top float64, gap float64) {
	if len(bs.TopIDs) == 0 {
		return 0, 0
	}
	top = bs.Probs[bs.TopIDs[0]]
	if len(bs.TopIDs) == 1 {
		return top, top
	}
	return top, top - bs.Probs[bs.TopIDs[1]]
}

// mergePass collapses near-duplicate active hypotheses, highest-similarity
// pair first. The pair merges into the higher-probability node: texts are
// concatenated (capped at maxNodeTextLen), probabilities are summed, and the
// absorbed node is marked merged. Passes repeat until no pair reaches
// radius, so chains of similar nodes collapse to one. Returns how many nodes
// were absorbed.
func mergePass(bs *BeliefState, radius float64) int {
	merged := 0

	for {
		idx := activeIndices(bs)
		if len(idx) < 2 {
			break
		}

		tokens := make([]map[string]struct{}, len(idx))
		for k, i := range idx {
			tokens[k] = tokenSet(bs.Nodes[i].Text)
		}

		bestA, bestB := -1, -1
		bestSim := 0.0
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				sim := jaccard(tokens[a], tokens[b])
				if sim >= radius && sim > bestSim {
					bestA, bestB, bestSim = a, b, sim
				}
			}
		}
		if bestA < 0 {
			break
		}

		keep, drop := idx[bestA], idx[bestB]
		if bs.Probs[bs.Nodes[drop].NodeID] > bs.Probs[bs.Nodes[keep].NodeID] {
			keep, drop = drop, keep
		}

		keeper := &bs.Nodes[keep]
		loser := &bs.Nodes[drop]

		keeper.Text = truncateText(keeper.Text+" "+loser.Text, maxNodeTextLen)
		keeper.Supports = append(keeper.Supports, loser.Supports...)
		keeper.Counters = append(keeper.Counters, loser.Counters...)
		bs.Probs[keeper.NodeID] += bs.Probs[loser.NodeID]

		loser.Status = NodeMerged
		delete(bs.Probs, loser.NodeID)
		delete(bs.LowStreaks, loser.NodeID)

		merged++
	}

	if merged > 0 {
		renormalize(bs)
		rerank(bs)
	}
	return merged
}

// retirePass tracks consecutive low-probability passes per node and retires
// any node that stays under floorProb for streak passes in a row. At least
// one node always survives: if every active node qualifies, the strongest
// one is spared. Returns how many nodes were retired.
func retirePass(bs *BeliefState, floorProb float64, streak int) int {
	idx := activeIndices(bs)
	if len(idx) < 2 {
		return 0
	}

	candidates := make([]int, 0, len(idx))
	for _, i := range idx {
		id := bs.Nodes[i].NodeID
		if bs.Probs[id] < floorProb {
			bs.LowStreaks[id]++
			if bs.LowStreaks[id] >= streak {
				candidates = append(candidates, i)
			}
		} else {
			delete(bs.LowStreaks, id)
		}
	}

	if len(candidates) == 0 {
		return 0
	}

	// Never retire the whole frontier.
	if len(candidates) == len(idx) {
		best := candidates[0]
		for _, i := range candidates[1:] {
			if bs.Probs[bs.Nodes[i].NodeID] > bs.Probs[bs.Nodes[best].NodeID] {
				best = i
			}
		}
		trimmed := candidates[:0]
		for _, i := range candidates {
			if i != best {
				trimmed = append(trimmed, i)
			}
		}
		candidates = trimmed
	}

	for _, i := range candidates {
		node := &bs.Nodes[i]
		node.Status = NodeRetired
		delete(bs.Probs, node.NodeID)
		delete(bs.LowStreaks, node.NodeID)
	}

	if len(candidates) > 0 {
		renormalize(bs)
		rerank(bs)
	}
	return len(candidates)
}

// coverage scores how well the active frontier spans the hypothesis space:
// 0.6 weight on lexical diversity (mean pairwise distance between node
// texts) and 0.4 on evenness (entropy relative to the uniform maximum).
func coverage(bs *BeliefState) float64 {
	idx := activeIndices(bs)
	n := len(idx)
	if n < 2 {
		return 0.0
	}

	tokens := make([]map[string]struct{}, n)
	for k, i := range idx {
		tokens[k] = tokenSet(bs.Nodes[i].Text)
	}

	distance := 0.0
	pairs := 0
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			distance += 1.0 - jaccard(tokens[a], tokens[b])
			pairs++
		}
	}
	diversity := distance / float64(pairs)
	evenness := entropy(bs) / math.Log2(float64(n))

	return 0.6*diversity + 0.4*evenness
}

// redundancyRatio reports the fraction of active node pairs whose lexical
// similarity reaches radius. This drives the ClusterThemes gate; pairs past
// the tighter merge radius never survive long enough to count here.
func redundancyRatio(bs *BeliefState, radius float64) float64 {
	idx := activeIndices(bs)
	n := len(idx)
	if n < 2 {
		return 0.0
	}

	tokens := make([]map[string]struct{}, n)
	for k, i := range idx {
		tokens[k] = tokenSet(bs.Nodes[i].Text)
	}

	redundant := 0
	pairs := 0
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			if jaccard(tokens[a], tokens[b]) >= radius {
				redundant++
			}
			pairs++
		}
	}
	return float64(redundant) / float64(pairs)
}

// insertNode adds a fresh hypothesis with probability share, scaling the
// existing active mass down by (1-share) so the distribution still sums to
// one.
func insertNode(bs *BeliefState, node CruxNode, share float64) {
	if share <= 0 || share >= 1 {
		share = 1.0 / float64(activeCount(bs)+1)
	}
	for _, i := range activeIndices(bs) {
		bs.Probs[bs.Nodes[i].NodeID] *= 1 - share
	}
	bs.Nodes = append(bs.Nodes, node)
	bs.Probs[node.NodeID] = share
	rerank(bs)
}
