package provision

import (
	"context"

	"github.com/nerrad567/targetd/internal/discovery"
)

// Merge combines sources into one. A set is published once every source
// with a non-nil stream has published; when two sources report the same
// ID the earlier source wins.
func Merge(sources ...discovery.Source) discovery.Source {
	return merged(sources)
}

type merged []discovery.Source

func (m merged) Handles(ctx context.Context) <-chan []discovery.Handle {
	streams := make([]<-chan []discovery.Handle, len(m))
	for i, s := range m {
		streams[i] = s.Handles(ctx)
	}
	return mergeStreams(ctx, streams, discovery.Handle.ID)
}

func (m merged) Templates(ctx context.Context) <-chan []discovery.Template {
	streams := make([]<-chan []discovery.Template, len(m))
	for i, s := range m {
		streams[i] = s.Templates(ctx)
	}
	return mergeStreams(ctx, streams, discovery.Template.ID)
}

type indexedSet[T any] struct {
	index int
	set   []T
	done  bool
}

// mergeStreams fans in set streams. It returns nil when every stream is nil.
// A stream that closes before publishing counts as an empty set.
func mergeStreams[T any](ctx context.Context, streams []<-chan []T, id func(T) string) <-chan []T {
	in := make(chan indexedSet[T])
	active := 0
	for i, ch := range streams {
		if ch == nil {
			continue
		}
		active++
		go func() {
			for set := range ch {
				select {
				case in <- indexedSet[T]{index: i, set: set}:
				case <-ctx.Done():
					return
				}
			}
			select {
			case in <- indexedSet[T]{index: i, done: true}:
			case <-ctx.Done():
			}
		}()
	}
	if active == 0 {
		return nil
	}

	out := make(chan []T)
	go func() {
		defer close(out)
		latest := make([][]T, len(streams))
		seen := make([]bool, len(streams))
		waiting := active

		for active > 0 {
			var u indexedSet[T]
			select {
			case u = <-in:
			case <-ctx.Done():
				return
			}
			if u.done {
				active--
			} else {
				latest[u.index] = u.set
			}
			if !seen[u.index] {
				seen[u.index] = true
				waiting--
			} else if u.done {
				continue
			}
			if waiting > 0 {
				continue
			}
			select {
			case out <- union(latest, id):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func union[T any](sets [][]T, id func(T) string) []T {
	seen := make(map[string]bool)
	var out []T
	for _, set := range sets {
		for _, x := range set {
			k := id(x)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, x)
		}
	}
	return out
}
