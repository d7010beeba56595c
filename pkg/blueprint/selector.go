package blueprint

import (
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
)

// trieNode is one node of the reverse-subdomain radix trie described in
// spec §4.7. Each byte of a hostname's reversed, dot-prefixed storage key
// is one edge. A literal host's blueprints sit in exact on the node its key
// ends at; a wildcard's key carries one extra trailing "." and its
// blueprints sit in wildcard, so "example.com" (".moc.elpmaxe") and
// "*.example.com" (".moc.elpmaxe.") end at different nodes.
type trieNode struct {
	children map[byte]*trieNode
	exact    []*Blueprint
	wildcard []*Blueprint
}

func newTrieNode() *trieNode {
	return &trieNode{children: map[byte]*trieNode{}}
}

// Index is the compiled, immutable hostname index produced by Compile: a
// radix trie over reversed hostnames, shared by reference across every
// in-flight request and replaced atomically on reconfiguration.
type Index struct {
	root *trieNode
	// registeredHosts records every storage key register has inserted.
	// Nothing reads it: duplicate registrations are not reported, and it
	// never affects lookup.
	registeredHosts sets.Set[string]
}

func newIndex() *Index {
	return &Index{root: newTrieNode(), registeredHosts: sets.New[string]()}
}

// register inserts bp under host, which may be a literal hostname
// ("example.com") or a single-level wildcard ("*.example.com"). Multiple
// hostnames for the same action set each get their own trie entry
// sharing bp by reference.
func (idx *Index) register(host string, bp *Blueprint) {
	host = strings.ToLower(host)
	isWildcard := strings.HasPrefix(host, "*.")
	bare := host
	if isWildcard {
		bare = strings.TrimPrefix(host, "*.")
	}

	key := "." + reverseString(bare)
	if isWildcard {
		key += "."
	}
	idx.registeredHosts.Insert(key)

	node := idx.root
	for i := 0; i < len(key); i++ {
		b := key[i]
		next, ok := node.children[b]
		if !ok {
			next = newTrieNode()
			node.children[b] = next
		}
		node = next
	}
	if isWildcard {
		node.wildcard = append(node.wildcard, bp)
	} else {
		node.exact = append(node.exact, bp)
	}
}

// Lookup returns the candidate blueprint list for a request hostname:
// an exact literal match if one exists, otherwise the deepest (most
// specific) matching wildcard entry, otherwise nil.
func (idx *Index) Lookup(requestHost string) []*Blueprint {
	key := "." + reverseString(strings.ToLower(stripHostPort(requestHost)))

	node := idx.root
	var deepestWildcard []*Blueprint
	i := 0
	for ; i < len(key); i++ {
		next, ok := node.children[key[i]]
		if !ok {
			break
		}
		node = next
		if node.wildcard != nil {
			deepestWildcard = node.wildcard
		}
	}

	if i == len(key) && node.exact != nil {
		return node.exact
	}
	return deepestWildcard
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func stripHostPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i+1:], ":") {
		return host[:i]
	}
	return host
}

// SelectOutcome is the result of Select: either a single winning Blueprint,
// a signal that route-predicate evaluation is still Pending and the outer
// filter should re-attempt at the next phase, or no match at all.
type SelectOutcome int

const (
	// NoMatch means no candidate blueprint's route predicates held.
	NoMatch SelectOutcome = iota
	// Matched means a blueprint was selected.
	Matched
	// DataPending means a candidate's route predicates could not be
	// fully evaluated yet; the caller should retry at a later phase.
	DataPending
)

// Select walks the candidate blueprints for requestHost in order and
// returns the first whose route predicates evaluate Available(true).
// requestHost is matched via the reverse-subdomain trie; test is the
// three-state predicate evaluator (typically a *reqctx.Context).
func Select(idx *Index, requestHost string, test func(*Blueprint) (attr.State[bool], error)) (*Blueprint, SelectOutcome, error) {
	candidates := idx.Lookup(requestHost)
	sawPending := false
	for _, bp := range candidates {
		res, err := test(bp)
		if err != nil {
			return nil, NoMatch, err
		}
		if res.IsPending() {
			sawPending = true
			continue
		}
		if res.MustValue() {
			return bp, Matched, nil
		}
	}
	if sawPending {
		return nil, DataPending, nil
	}
	return nil, NoMatch, nil
}
