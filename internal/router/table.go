package router

import "sort"

// listener is one registered callback.
type listener struct {
	handle Handle
	cb     Callback
}

// bucket holds the callbacks of one priority in registration order.
type bucket struct {
	priority  int
	listeners []listener
}

// listenerTable is an immutable snapshot of event name -> priority buckets.
// Buckets are kept sorted by ascending priority.
type listenerTable struct {
	events map[string][]bucket
	count  int
}

func newListenerTable() *listenerTable {
	return &listenerTable{events: make(map[string][]bucket)}
}

// lookup returns the buckets for name in dispatch order.
func (t *listenerTable) lookup(name string) ([]bucket, bool) {
	b, ok := t.events[name]
	return b, ok
}

// with returns a new table with l appended to the bucket for (name, priority),
// creating the event entry and the bucket if absent. t is not modified.
func (t *listenerTable) with(name string, priority int, l listener) *listenerTable {
	next := &listenerTable{
		events: make(map[string][]bucket, len(t.events)+1),
		count:  t.count + 1,
	}
	for k, v := range t.events {
		next.events[k] = v
	}

	old := t.events[name]
	i := sort.Search(len(old), func(i int) bool { return old[i].priority >= priority })

	buckets := make([]bucket, 0, len(old)+1)
	buckets = append(buckets, old[:i]...)
	if i < len(old) && old[i].priority == priority {
		ls := make([]listener, len(old[i].listeners), len(old[i].listeners)+1)
		copy(ls, old[i].listeners)
		buckets = append(buckets, bucket{priority: priority, listeners: append(ls, l)})
		buckets = append(buckets, old[i+1:]...)
	} else {
		buckets = append(buckets, bucket{priority: priority, listeners: []listener{l}})
		buckets = append(buckets, old[i:]...)
	}

	next.events[name] = buckets
	return next
}

// names returns the registered event names, sorted.
func (t *listenerTable) names() []string {
	out := make([]string, 0, len(t.events))
	for name := range t.events {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
