package router

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder collects callback invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) cb(tag string) Callback {
	return func(_ context.Context, _ Payload) error {
		r.mu.Lock()
		r.calls = append(r.calls, tag)
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func mustRegister(t *testing.T, r *Router, name string, priority int, cb Callback) Handle {
	t.Helper()
	h, err := r.Register(name, priority, cb)
	if err != nil {
		t.Fatalf("Register(%q, %d) failed: %v", name, priority, err)
	}
	return h
}

func TestRouter_FireOrdering(t *testing.T) {
	tests := []struct {
		name  string
		regs  []int
		wantP []int
		want  []string
	}{
		{
			name:  "single bucket keeps registration order",
			regs:  []int{0, 0, 0},
			wantP: []int{0},
			want:  []string{"0/0", "1/0", "2/0"},
		},
		{
			name:  "lower priority runs first",
			regs:  []int{0, 5, 0},
			wantP: []int{0, 5},
			want:  []string{"0/0", "2/0", "1/5"},
		},
		{
			name:  "sparse priorities",
			regs:  []int{100, 3, 42, 0},
			wantP: []int{0, 3, 42, 100},
			want:  []string{"3/0", "1/3", "2/42", "0/100"},
		},
		{
			name:  "descending registration",
			regs:  []int{9, 8, 7, 9},
			wantP: []int{7, 8, 9},
			want:  []string{"2/7", "1/8", "0/9", "3/9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil)
			rec := &recorder{}
			for i, p := range tt.regs {
				mustRegister(t, r, "ping", p, rec.cb(fmt.Sprintf("%d/%d", i, p)))
			}

			if err := r.Fire(context.Background(), "ping", nil); err != nil {
				t.Fatalf("Fire failed: %v", err)
			}

			if got := rec.got(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
			if got := r.Priorities("ping"); !reflect.DeepEqual(got, tt.wantP) {
				t.Errorf("Priorities = %v, want %v", got, tt.wantP)
			}
			if got := r.Listeners("ping"); got != len(tt.regs) {
				t.Errorf("Listeners = %d, want %d", got, len(tt.regs))
			}
		})
	}
}

func TestRouter_FirePassesPayload(t *testing.T) {
	r := New(nil)

	var got Payload
	mustRegister(t, r, "ping", 0, CallbackFunc(func(p Payload) { got = p }))

	if err := r.Fire(context.Background(), "ping", Payload{"n": 1}); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if got["n"] != 1 {
		t.Errorf("payload n = %v, want 1", got["n"])
	}

	if err := r.Fire(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("nil payload should arrive as empty map, got %v", got)
	}
}

func TestRouter_FireEventNotFound(t *testing.T) {
	r := New(nil)
	rec := &recorder{}
	mustRegister(t, r, "ping", 0, rec.cb("ping"))

	var notified atomic.Int32
	if err := r.AddExtension(ExtensionFunc(func(context.Context, string, Payload) {
		notified.Add(1)
	})); err != nil {
		t.Fatalf("AddExtension failed: %v", err)
	}

	err := r.Fire(context.Background(), "Ping", nil)
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if calls := rec.got(); len(calls) != 0 {
		t.Errorf("expected no callbacks, got %v", calls)
	}
	if notified.Load() != 0 {
		t.Errorf("expected no extension notifications, got %d", notified.Load())
	}
	if s := r.Stats(); s.NotFound != 1 || s.Fired != 0 {
		t.Errorf("stats = %+v, want NotFound=1 Fired=0", s)
	}
}

func TestRouter_RegisterInvalid(t *testing.T) {
	r := New(nil)

	tests := []struct {
		name     string
		priority int
		cb       Callback
		wantErr  error
	}{
		{"negative priority", -1, func(context.Context, Payload) error { return nil }, ErrInvalidPriority},
		{"very negative priority", -1000, func(context.Context, Payload) error { return nil }, ErrInvalidPriority},
		{"nil callback", 0, nil, ErrNilCallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register("ping", tt.priority, tt.cb)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if len(r.Events()) != 0 {
		t.Errorf("invalid registrations must not touch the table, events = %v", r.Events())
	}
	if err := r.Fire(context.Background(), "ping", nil); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound after rejected registration, got %v", err)
	}
}

func TestRouter_RegisterHandle(t *testing.T) {
	r := New(nil)

	h1 := mustRegister(t, r, "a", 2, CallbackFunc(func(Payload) {}))
	h2 := mustRegister(t, r, "b", 0, CallbackFunc(func(Payload) {}))

	if h1.ID == "" || h1.ID == h2.ID {
		t.Errorf("handles need distinct IDs, got %q and %q", h1.ID, h2.ID)
	}
	if h1.Event != "a" || h1.Priority != 2 {
		t.Errorf("unexpected handle %+v", h1)
	}
	if h2.Seq <= h1.Seq {
		t.Errorf("sequence should increase: %d then %d", h1.Seq, h2.Seq)
	}
	if got := r.Events(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Events = %v", got)
	}
	if !r.Has("a") || r.Has("c") {
		t.Error("Has returned wrong result")
	}
}

func TestRouter_CallbackFailureIsolation(t *testing.T) {
	r := New(nil)
	rec := &recorder{}
	boom := errors.New("boom")

	mustRegister(t, r, "ping", 0, rec.cb("first"))
	h := mustRegister(t, r, "ping", 1, func(context.Context, Payload) error { return boom })
	mustRegister(t, r, "ping", 2, func(context.Context, Payload) error { panic("kaboom") })
	mustRegister(t, r, "ping", 3, rec.cb("last"))

	var notified atomic.Int32
	_ = r.AddExtension(ExtensionFunc(func(context.Context, string, Payload) { notified.Add(1) }))

	err := r.Fire(context.Background(), "ping", nil)

	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DispatchError, got %T %v", err, err)
	}
	if len(de.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(de.Failures))
	}
	if de.Failures[0].Handle.ID != h.ID {
		t.Errorf("first failure handle = %q, want %q", de.Failures[0].Handle.ID, h.ID)
	}
	if !errors.Is(err, boom) {
		t.Error("expected errors.Is(err, boom)")
	}
	if !errors.Is(err, ErrCallbackPanic) {
		t.Error("expected errors.Is(err, ErrCallbackPanic)")
	}
	if de.Failures[1].Panic != "kaboom" || len(de.Failures[1].Stack) == 0 {
		t.Errorf("panic failure not captured: %+v", de.Failures[1])
	}

	if got := rec.got(); !reflect.DeepEqual(got, []string{"first", "last"}) {
		t.Errorf("calls = %v, want [first last]", got)
	}
	if notified.Load() != 1 {
		t.Errorf("extension should still be notified once, got %d", notified.Load())
	}

	s := r.Stats()
	if s.CallbackErrors != 1 || s.CallbackPanics != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRouter_StopOnError(t *testing.T) {
	r := New(nil, WithStopOnError())
	rec := &recorder{}

	mustRegister(t, r, "ping", 0, func(context.Context, Payload) error { return errors.New("stop") })
	mustRegister(t, r, "ping", 1, rec.cb("after"))

	var de *DispatchError
	if err := r.Fire(context.Background(), "ping", nil); !errors.As(err, &de) {
		t.Fatalf("expected *DispatchError, got %v", err)
	}
	if len(rec.got()) != 0 {
		t.Errorf("callbacks after the failure should not run, got %v", rec.got())
	}
}

func TestRouter_FireCancelledContext(t *testing.T) {
	r := New(nil)
	rec := &recorder{}
	mustRegister(t, r, "ping", 0, rec.cb("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Fire(ctx, "ping", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rec.got()) != 0 {
		t.Errorf("expected no callbacks, got %v", rec.got())
	}
}

func TestRouter_Extensions(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, "ping", 0, CallbackFunc(func(Payload) {}))

	var (
		mu    sync.Mutex
		order []string
	)
	ext := func(tag string) Extension {
		return ExtensionFunc(func(_ context.Context, name string, p Payload) {
			mu.Lock()
			order = append(order, fmt.Sprintf("%s:%s:%v", tag, name, p["n"]))
			mu.Unlock()
		})
	}

	for _, tag := range []string{"a", "b", "c"} {
		if err := r.AddExtension(ext(tag)); err != nil {
			t.Fatalf("AddExtension(%s) failed: %v", tag, err)
		}
	}
	if r.Extensions() != 3 {
		t.Errorf("Extensions = %d, want 3", r.Extensions())
	}

	if err := r.Fire(context.Background(), "ping", Payload{"n": 1}); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}

	want := []string{"a:ping:1", "b:ping:1", "c:ping:1"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

type nopExtension struct{}

func (*nopExtension) OnEvent(context.Context, string, Payload) {}

func TestRouter_AddExtensionNil(t *testing.T) {
	r := New(nil)

	if err := r.AddExtension(nil); !errors.Is(err, ErrNotAnExtension) {
		t.Errorf("nil: expected ErrNotAnExtension, got %v", err)
	}

	var typed *nopExtension
	if err := r.AddExtension(typed); !errors.Is(err, ErrNotAnExtension) {
		t.Errorf("typed nil: expected ErrNotAnExtension, got %v", err)
	}

	if err := r.AddExtension(&nopExtension{}); err != nil {
		t.Errorf("valid extension rejected: %v", err)
	}
	if r.Extensions() != 1 {
		t.Errorf("Extensions = %d, want 1", r.Extensions())
	}
}

func TestRouter_ExtensionPanicRecovered(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, "ping", 0, CallbackFunc(func(Payload) {}))

	var after atomic.Int32
	_ = r.AddExtension(ExtensionFunc(func(context.Context, string, Payload) { panic("ext") }))
	_ = r.AddExtension(ExtensionFunc(func(context.Context, string, Payload) { after.Add(1) }))

	if err := r.Fire(context.Background(), "ping", nil); err != nil {
		t.Fatalf("extension panic must not fail Fire: %v", err)
	}
	if after.Load() != 1 {
		t.Error("later extension was not notified")
	}
}

func TestRouter_RegisterDuringFire(t *testing.T) {
	r := New(nil)
	rec := &recorder{}

	mustRegister(t, r, "ping", 0, func(context.Context, Payload) error {
		_, err := r.Register("ping", 1, rec.cb("late"))
		return err
	})

	if err := r.Fire(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if len(rec.got()) != 0 {
		t.Errorf("registration during Fire must not affect that Fire, got %v", rec.got())
	}

	if err := r.Fire(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if got := rec.got(); !reflect.DeepEqual(got, []string{"late"}) {
		t.Errorf("calls = %v, want [late]", got)
	}
}

func TestRouter_ReentrantFire(t *testing.T) {
	r := New(nil)
	rec := &recorder{}

	mustRegister(t, r, "outer", 0, func(ctx context.Context, _ Payload) error {
		return r.Fire(ctx, "inner", nil)
	})
	mustRegister(t, r, "inner", 0, rec.cb("inner"))

	if err := r.Fire(context.Background(), "outer", nil); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if got := rec.got(); !reflect.DeepEqual(got, []string{"inner"}) {
		t.Errorf("calls = %v", got)
	}
}

func TestRouter_Close(t *testing.T) {
	r := New(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	mustRegister(t, r, "slow", 0, func(context.Context, Payload) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})

	go func() {
		_ = r.Fire(context.Background(), "slow", nil)
	}()
	<-started

	closed := make(chan error, 1)
	go func() {
		closed <- r.Close(context.Background())
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a Fire was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after in-flight Fire finished")
	}
	if !finished.Load() {
		t.Error("in-flight callback did not finish")
	}

	if err := r.Fire(context.Background(), "slow", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Fire after Close: expected ErrClosed, got %v", err)
	}
	if _, err := r.Register("x", 0, CallbackFunc(func(Payload) {})); !errors.Is(err, ErrClosed) {
		t.Errorf("Register after Close: expected ErrClosed, got %v", err)
	}
	if err := r.AddExtension(&nopExtension{}); !errors.Is(err, ErrClosed) {
		t.Errorf("AddExtension after Close: expected ErrClosed, got %v", err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestRouter_RegisterRacingClose(t *testing.T) {
	r := New(nil)

	var registered, attached atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			<-start
			for {
				_, err := r.Register("ping", i%4, CallbackFunc(func(Payload) {}))
				if errors.Is(err, ErrClosed) {
					return
				}
				if err != nil {
					t.Errorf("Register failed: %v", err)
					return
				}
				registered.Add(1)
			}
		}(i)
		go func() {
			defer wg.Done()
			<-start
			for {
				err := r.AddExtension(&nopExtension{})
				if errors.Is(err, ErrClosed) {
					return
				}
				if err != nil {
					t.Errorf("AddExtension failed: %v", err)
					return
				}
				attached.Add(1)
			}
		}()
	}

	close(start)
	time.Sleep(10 * time.Millisecond)
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	listeners := r.Listeners("ping")
	extensions := len(*r.extensions.Load())

	wg.Wait()

	if got := r.Listeners("ping"); got != listeners {
		t.Errorf("Listeners changed after Close: %d -> %d", listeners, got)
	}
	if got := len(*r.extensions.Load()); got != extensions {
		t.Errorf("extensions changed after Close: %d -> %d", extensions, got)
	}
	if int64(listeners) != registered.Load() {
		t.Errorf("Listeners = %d, successful Register calls = %d", listeners, registered.Load())
	}
	if int64(extensions) != attached.Load() {
		t.Errorf("extensions = %d, successful AddExtension calls = %d", extensions, attached.Load())
	}
}

func TestRouter_CloseTimeout(t *testing.T) {
	r := New(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	mustRegister(t, r, "slow", 0, func(context.Context, Payload) error {
		close(started)
		<-release
		return nil
	})
	go func() { _ = r.Fire(context.Background(), "slow", nil) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := r.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRouter_ConcurrentRegisterAndFire(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, "ping", 0, CallbackFunc(func(Payload) {}))

	var calls atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = r.Register("ping", (i+j)%4, CallbackFunc(func(Payload) { calls.Add(1) }))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := r.Fire(context.Background(), "ping", nil); err != nil {
					t.Errorf("Fire failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := r.Listeners("ping"); got != 1+8*50 {
		t.Errorf("Listeners = %d, want %d", got, 1+8*50)
	}

	calls.Store(0)
	if err := r.Fire(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if calls.Load() != 8*50 {
		t.Errorf("calls = %d, want %d", calls.Load(), 8*50)
	}
	if got := r.Priorities("ping"); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Errorf("Priorities = %v", got)
	}
}
