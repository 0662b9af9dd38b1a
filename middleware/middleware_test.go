package middleware

import (
	"errors"
	"testing"

	"github.com/holepunchto/protomux-rpc-router/rpcerr"
	"github.com/prometheus/client_golang/prometheus"
)

func traceMiddleware(name string, trace *[]string) *Middleware {
	return &Middleware{
		Name: name,
		OnRequest: func(ctx *RequestContext, next NextFunc) (any, error) {
			*trace = append(*trace, name+":before")
			res, err := next()
			*trace = append(*trace, name+":after")
			return res, err
		},
	}
}

// TestOnionTrace is scenario S1 from spec §8.
func TestOnionTrace(t *testing.T) {
	var trace []string
	g1 := traceMiddleware("g1", &trace)
	g2 := traceMiddleware("g2", &trace)
	m1 := traceMiddleware("m1", &trace)
	m2 := traceMiddleware("m2", &trace)

	chain := Compose(g1, g2, m1, m2)
	handler := func() (any, error) {
		trace = append(trace, "handler")
		return "foo", nil
	}

	ctx := &RequestContext{Method: "echo"}
	result, err := chain.OnRequest(ctx, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "foo" {
		t.Fatalf("expected \"foo\", got %v", result)
	}

	expected := []string{
		"g1:before", "g2:before", "m1:before", "m2:before",
		"handler",
		"m2:after", "m1:after", "g2:after", "g1:after",
	}
	assertTraceEqual(t, trace, expected)
}

func assertTraceEqual(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected trace %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected trace %v, got %v", want, got)
		}
	}
}

func TestOpenCloseSymmetry(t *testing.T) {
	var trace []string
	mk := func(name string) *Middleware {
		return &Middleware{
			Name:    name,
			OnOpen:  func() error { trace = append(trace, name+":open"); return nil },
			OnClose: func() error { trace = append(trace, name+":close"); return nil },
		}
	}

	chain := Compose(mk("a"), mk("b"), mk("c"))
	if err := chain.OnOpen(); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if err := chain.OnClose(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	assertTraceEqual(t, trace, []string{
		"a:open", "b:open", "c:open",
		"c:close", "b:close", "a:close",
	})
}

func TestPartialOpenRollback(t *testing.T) {
	var trace []string
	mk := func(name string, failOpen bool) *Middleware {
		return &Middleware{
			Name: name,
			OnOpen: func() error {
				trace = append(trace, name+":open")
				if failOpen {
					return errors.New(name + " failed to open")
				}
				return nil
			},
			OnClose: func() error { trace = append(trace, name+":close"); return nil },
		}
	}

	chain := Compose(mk("a", false), mk("b", false), mk("c", true), mk("d", false))
	err := chain.OnOpen()
	if err == nil {
		t.Fatal("expected an error from the third participant")
	}
	if err.Error() != "c failed to open" {
		t.Fatalf("expected the failing participant's error to surface, got %v", err)
	}

	// d never opens; c's own failed open already ran, but c is not
	// closed (it never successfully opened); a and b roll back in
	// reverse order.
	assertTraceEqual(t, trace, []string{
		"a:open", "b:open", "c:open",
		"b:close", "a:close",
	})
}

// TestCloseErrorAggregation is scenario S5 from spec §8.
func TestCloseErrorAggregation(t *testing.T) {
	var trace []string
	mk := func(name string, failClose bool) *Middleware {
		return &Middleware{
			Name: name,
			OnClose: func() error {
				trace = append(trace, name)
				if failClose {
					return errors.New(name + " failed to close")
				}
				return nil
			},
		}
	}

	chain := Compose(mk("m1", false), mk("m2", true), mk("m3", false), mk("m4", true))
	err := chain.OnClose()
	if err == nil {
		t.Fatal("expected an aggregate close error")
	}

	agg, ok := err.(*rpcerr.Aggregate)
	if !ok {
		t.Fatalf("expected *rpcerr.Aggregate, got %T", err)
	}
	if len(agg.Errors) != 2 {
		t.Fatalf("expected 2 aggregated errors, got %d", len(agg.Errors))
	}

	assertTraceEqual(t, trace, []string{"m4", "m3", "m2", "m1"})
}

func TestIdentityIsTwoSidedUnit(t *testing.T) {
	chain := Compose(Identity())
	result, err := chain.OnRequest(&RequestContext{}, func() (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %v", result)
	}
}

func TestMetricsFanOutToleratesPanic(t *testing.T) {
	var called []string
	panics := &Middleware{RegisterMetrics: func(reg prometheus.Registerer) { panic("boom") }}
	ok1 := &Middleware{RegisterMetrics: func(reg prometheus.Registerer) { called = append(called, "ok1") }}
	ok2 := &Middleware{RegisterMetrics: func(reg prometheus.Registerer) { called = append(called, "ok2") }}

	chain := Compose(ok1, panics, ok2)
	chain.RegisterMetrics(nil)

	assertTraceEqual(t, called, []string{"ok1", "ok2"})
}
