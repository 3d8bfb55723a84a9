package courier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"
)

var _ Handler = (*Mux)(nil)

// Mux is a [Handler] dispatching on method and route.
//
// A route ending with "/" is a prefix route: it serves every route
// below it unless a longer registered route matches. Other routes only
// match exactly.
type Mux struct {
	lk       sync.RWMutex
	requests [MethodEvent]*routeTree[HandlerFunc]
	events   *routeTree[EventFunc]
}

func NewMux() *Mux {
	mux := &Mux{events: newRouteTree[EventFunc]()}
	for i := range mux.requests {
		mux.requests[i] = newRouteTree[HandlerFunc]()
	}
	return mux
}

// Handle registers fn for method on route. It replaces any previous
// registration.
func (mux *Mux) Handle(method Method, route string, fn HandlerFunc) error {
	if method < MethodGet || method >= MethodEvent {
		return fmt.Errorf("%w: cannot register %s with a HandlerFunc", ErrUnsupportedMethod, method)
	}
	if route == "" || fn == nil {
		return fmt.Errorf("%w: route and handler are required", ErrInvalidCfg)
	}
	mux.lk.Lock()
	defer mux.lk.Unlock()
	mux.requests[method].insert(route, fn)
	return nil
}

func (mux *Mux) HandleGet(route string, fn HandlerFunc) error {
	return mux.Handle(MethodGet, route, fn)
}

func (mux *Mux) HandlePost(route string, fn HandlerFunc) error {
	return mux.Handle(MethodPost, route, fn)
}

func (mux *Mux) HandlePut(route string, fn HandlerFunc) error {
	return mux.Handle(MethodPut, route, fn)
}

func (mux *Mux) HandleDelete(route string, fn HandlerFunc) error {
	return mux.Handle(MethodDelete, route, fn)
}

func (mux *Mux) HandleEvent(route string, fn EventFunc) error {
	if route == "" || fn == nil {
		return fmt.Errorf("%w: route and handler are required", ErrInvalidCfg)
	}
	mux.lk.Lock()
	defer mux.lk.Unlock()
	mux.events.insert(route, fn)
	return nil
}

// Routes returns how many routes are registered for method.
func (mux *Mux) Routes(method Method) int {
	mux.lk.RLock()
	defer mux.lk.RUnlock()
	switch {
	case method == MethodEvent:
		return mux.events.len()
	case method.Valid():
		return mux.requests[method].len()
	default:
		return 0
	}
}

func (mux *Mux) serve(ctx context.Context, method Method, route string, body proto.Message) (proto.Message, error) {
	mux.lk.RLock()
	fn, found := mux.requests[method].match(route)
	mux.lk.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %s %s", ErrRouteNotFound, method, route)
	}
	return fn(ctx, route, body)
}

func (mux *Mux) Get(ctx context.Context, route string, body proto.Message) (proto.Message, error) {
	return mux.serve(ctx, MethodGet, route, body)
}

func (mux *Mux) Post(ctx context.Context, route string, body proto.Message) (proto.Message, error) {
	return mux.serve(ctx, MethodPost, route, body)
}

func (mux *Mux) Put(ctx context.Context, route string, body proto.Message) (proto.Message, error) {
	return mux.serve(ctx, MethodPut, route, body)
}

func (mux *Mux) Delete(ctx context.Context, route string, body proto.Message) (proto.Message, error) {
	return mux.serve(ctx, MethodDelete, route, body)
}

func (mux *Mux) Event(ctx context.Context, route string, body proto.Message) error {
	mux.lk.RLock()
	fn, found := mux.events.match(route)
	mux.lk.RUnlock()
	if !found {
		return fmt.Errorf("%w: %s %s", ErrRouteNotFound, MethodEvent, route)
	}
	return fn(ctx, route, body)
}

// routeTree is a radix tree keyed by route, forked from
// github.com/armon/go-radix and trimmed to what route lookup needs.
type routeTree[T any] struct {
	root *routeNode[T]
	size int
}

type routeLeaf[T any] struct {
	route string
	val   T
}

type routeEdge[T any] struct {
	label byte
	node  *routeNode[T]
}

type routeNode[T any] struct {
	leaf *routeLeaf[T]

	// prefix is the part of the route consumed by reaching this node.
	prefix string

	// sorted by label
	edges []routeEdge[T]
}

func newRouteTree[T any]() *routeTree[T] {
	return &routeTree[T]{root: &routeNode[T]{}}
}

func (t *routeTree[T]) len() int {
	return t.size
}

func (n *routeNode[T]) edgeIndex(label byte) int {
	return sort.Search(len(n.edges), func(i int) bool {
		return n.edges[i].label >= label
	})
}

func (n *routeNode[T]) child(label byte) *routeNode[T] {
	idx := n.edgeIndex(label)
	if idx < len(n.edges) && n.edges[idx].label == label {
		return n.edges[idx].node
	}
	return nil
}

func (n *routeNode[T]) setChild(label byte, child *routeNode[T]) {
	idx := n.edgeIndex(label)
	if idx < len(n.edges) && n.edges[idx].label == label {
		n.edges[idx].node = child
		return
	}
	n.edges = append(n.edges, routeEdge[T]{})
	copy(n.edges[idx+1:], n.edges[idx:])
	n.edges[idx] = routeEdge[T]{label: label, node: child}
}

func commonPrefixLen(a, b string) int {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	return i
}

// insert adds or replaces the value stored for route.
func (t *routeTree[T]) insert(route string, v T) {
	n := t.root
	search := route
	for {
		if len(search) == 0 {
			if n.leaf == nil {
				t.size++
			}
			n.leaf = &routeLeaf[T]{route: route, val: v}
			return
		}

		parent := n
		n = n.child(search[0])
		if n == nil {
			parent.setChild(search[0], &routeNode[T]{
				leaf:   &routeLeaf[T]{route: route, val: v},
				prefix: search,
			})
			t.size++
			return
		}

		common := commonPrefixLen(search, n.prefix)
		if common == len(n.prefix) {
			search = search[common:]
			continue
		}

		// Split n at the divergence point.
		split := &routeNode[T]{prefix: search[:common]}
		parent.setChild(search[0], split)
		n.prefix = n.prefix[common:]
		split.setChild(n.prefix[0], n)

		t.size++
		leaf := &routeLeaf[T]{route: route, val: v}
		search = search[common:]
		if len(search) == 0 {
			split.leaf = leaf
			return
		}
		split.setChild(search[0], &routeNode[T]{leaf: leaf, prefix: search})
		return
	}
}

// match returns the value of route itself, or else of the longest
// prefix route above it.
func (t *routeTree[T]) match(route string) (val T, found bool) {
	var best *routeLeaf[T]
	n := t.root
	search := route
	for {
		if n.leaf != nil {
			if len(search) == 0 {
				return n.leaf.val, true
			}
			if strings.HasSuffix(n.leaf.route, "/") {
				best = n.leaf
			}
		}
		if len(search) == 0 {
			break
		}

		n = n.child(search[0])
		if n == nil || !strings.HasPrefix(search, n.prefix) {
			break
		}
		search = search[len(n.prefix):]
	}
	if best != nil {
		return best.val, true
	}
	return
}
