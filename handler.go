package forward

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

type ccKey struct{}

// ContextKey is used to extract a log value from context.Context. The value
// must be a `slog.Attr`.
//
//		Example:
//	 	ctx := context.WithValue(ctx, forward.ContextKey,
//	 		slog.Group("req",
//	 			slog.String("method", r.Method),
//	 			slog.String("url", r.URL.String()),
//	 		)
//	 	)
//
// These attrs are added to the top scope of the event record.
var ContextKey *ccKey = &ccKey{}

// Poster is the Forwarder API the Handler needs.
type Poster interface {
	PostAt(tag string, record any, t time.Time) error
}

// Handler is an adapter that renders Go structured logs into event records
// and posts them through a Forwarder.
//
//	// Example of basic usage
//	f, err := forward.NewForwarder("myapp", nil)
//	if err != nil {
//	   log.Fatalln(err)
//	}
//
//	logger := slog.New(forward.NewHandler(f, "logs", nil))
//	slog.SetDefault(logger)
//
//	slog.Info("unrecognized user", "user_id", userID)
type Handler struct {
	*HandlerOptions
	poster Poster
	tag    string
	attrs  map[string]any // attrs accumulated via WithAttrs, nested per group
	groups []string       // open WithGroup scopes, outermost first
}

// compile-time check for slog.Handler conformance
var _ slog.Handler = (*Handler)(nil)

// NewHandler creates a Handler that posts records under the given tag.
func NewHandler(poster Poster, tag string, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		opts.resolve()
	}

	return &Handler{
		HandlerOptions: opts,
		poster:         poster,
		tag:            tag,
		attrs:          map[string]any{},
	}
}

// Enabled reports whether the handler handles records at the given level.
// The handler ignores records whose level is lower.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.Level.Level()
}

// Handle renders the Record as a nested map and posts it. Rules follow
// log/slog handler conventions: attr values are resolved, empty attrs and
// empty groups are dropped, groups with empty keys are inlined. A zero
// record time is replaced with time.Now() rather than omitted, because the
// forward protocol requires an event timestamp.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	record := deepCopyRecord(h.attrs)

	// level and message land in the top scope
	record[slog.LevelKey] = r.Level.String()
	record[slog.MessageKey] = r.Message

	// rule: ignore source if no program counter, else add to top scope
	if h.AddSource && r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		fr, _ := fs.Next()
		record[slog.SourceKey] = fmt.Sprintf("%s:%d", fr.File, fr.Line)
	}

	// slog.Attrs passed in via the ctx also go to the top scope
	if ctxAttr, ok := ctx.Value(ContextKey).(slog.Attr); ok {
		h.putAttr(record, ctxAttr)
	}

	// record attrs land in the deepest open group
	dst := openGroups(record, h.groups)
	r.Attrs(func(a slog.Attr) bool {
		h.putAttr(dst, a)
		return true // continue iterating
	})

	// rule: groups that ended up with no attrs are dropped
	pruneEmptyGroups(record, h.groups)

	return h.poster.PostAt(h.tag, record, t)
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {

	// rule: skip if no attrs
	if len(attrs) == 0 {
		return h
	}

	h2 := h.clone()
	dst := openGroups(h2.attrs, h2.groups)
	for _, a := range attrs {
		h2.putAttr(dst, a)
	}
	pruneEmptyGroups(h2.attrs, h2.groups)

	return h2
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups, increasing the nesting level of subsequent
// attributes within the event record.
func (h *Handler) WithGroup(name string) slog.Handler {

	// rule: ignore if name is empty
	if len(name) == 0 {
		return h
	}

	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

// clone creates a copy of the Handler that can be independently modified
// without affecting the parent it derives from; that requires deep copies
// of the accumulated attr maps and the open group path.
func (h *Handler) clone() *Handler {
	h2 := *h
	h2.attrs = deepCopyRecord(h.attrs)
	h2.groups = append(h.groups[:0:0], h.groups...)
	return &h2
}

// putAttr adds one attr to dst, applying the slog handler rules: resolve
// first, drop empty attrs and empty groups, inline groups with empty keys,
// recurse into named groups.
func (h *Handler) putAttr(dst map[string]any, a slog.Attr) {

	// rule: must first resolve, and then ignore if empty
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		gAttrs := a.Value.Group()

		// rule: ignore empty groups entirely
		if len(gAttrs) == 0 {
			return
		}

		// rule: inline attrs if the group key is empty
		if len(a.Key) == 0 {
			for _, ga := range gAttrs {
				h.putAttr(dst, ga)
			}
			return
		}

		child := map[string]any{}
		for _, ga := range gAttrs {
			h.putAttr(child, ga)
		}

		// every child attr may have been dropped
		if len(child) == 0 {
			return
		}

		dst[a.Key] = child
		return
	}

	// rule: ignore non-group attrs with empty keys
	if len(a.Key) == 0 {
		return
	}

	if a.Value.Kind() == slog.KindTime {
		dst[a.Key] = a.Value.Time().Format(h.TimeFormat)
		return
	}

	dst[a.Key] = a.Value.Any()
}

// openGroups descends to the map for the deepest open group, creating the
// intermediate maps as needed.
func openGroups(m map[string]any, groups []string) map[string]any {
	for _, g := range groups {
		child, ok := m[g].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[g] = child
		}
		m = child
	}
	return m
}

// pruneEmptyGroups removes open groups that ended up with no attrs, deepest
// first so that emptied parents are removed too.
func pruneEmptyGroups(m map[string]any, groups []string) {
	if len(groups) == 0 {
		return
	}
	child, ok := m[groups[0]].(map[string]any)
	if !ok {
		return
	}
	pruneEmptyGroups(child, groups[1:])
	if len(child) == 0 {
		delete(m, groups[0])
	}
}

// deepCopyRecord copies a record map, recursing into nested group maps so
// the copy can be mutated independently.
func deepCopyRecord(m map[string]any) map[string]any {
	m2 := make(map[string]any, len(m))
	for k, v := range m {
		if child, ok := v.(map[string]any); ok {
			m2[k] = deepCopyRecord(child)
			continue
		}
		m2[k] = v
	}
	return m2
}
