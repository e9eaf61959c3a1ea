package graph

import (
	"context"
	"errors"
	"testing"

	"tradeflow/internal/model"
)

var outPort = ScalarPort("out")

type stubUnit struct {
	key   Key
	deps  []Key
	calls *[]Key
	fn    func(u *stubUnit, s *Scope) error
}

func (u *stubUnit) Key() Key         { return u.key }
func (u *stubUnit) Ports() []Port    { return []Port{outPort} }
func (u *stubUnit) DependsOn() []Key { return u.deps }
func (u *stubUnit) Process(s *Scope) error {
	if u.calls != nil {
		*u.calls = append(*u.calls, u.key)
	}
	if u.fn != nil {
		return u.fn(u, s)
	}
	return s.Put(u.key, outPort, Scalar(s.X(), 1))
}

func stub(name string, calls *[]Key, deps ...string) *stubUnit {
	u := &stubUnit{key: NewKey(name, nil), calls: calls}
	for _, d := range deps {
		u.deps = append(u.deps, NewKey(d, nil))
	}
	return u
}

func TestProcessor_DependenciesFirstExactlyOnce(t *testing.T) {
	var calls []Key
	a := stub("a", &calls)
	b := stub("b", &calls, "a")
	c := stub("c", &calls, "a")
	d := stub("d", &calls, "b", "c")

	p, err := NewProcessor([]Unit{d, c, b, a})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	if _, err := p.Process(context.Background(), model.Candle{X: 1}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []string{"a", "b", "c", "d"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i, k := range calls {
		if k.Name != want[i] {
			t.Errorf("call %d = %s, want %s", i, k.Name, want[i])
		}
	}
}

func TestProcessor_DependencyOutputVisible(t *testing.T) {
	src := stub("src", nil)
	src.fn = func(u *stubUnit, s *Scope) error {
		return s.Put(u.key, outPort, Scalar(s.X(), s.Sample.Close))
	}
	dbl := stub("dbl", nil, "src")
	dbl.fn = func(u *stubUnit, s *Scope) error {
		v, ok := src.key.With(outPort).Float(s)
		if !ok {
			return errors.New("src missing")
		}
		return s.Put(u.key, outPort, Scalar(s.X(), 2*v))
	}

	p, err := NewProcessor([]Unit{dbl, src})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	sc, err := p.Process(context.Background(), model.Candle{X: 7, Close: 21})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, ok := dbl.key.With(outPort).Float(sc)
	if !ok || got != 42 {
		t.Errorf("dbl = %v (ok=%v), want 42", got, ok)
	}
}

func TestNewProcessor_Validation(t *testing.T) {
	tests := []struct {
		name  string
		units func() []Unit
		want  error
	}{
		{"missing dependency", func() []Unit {
			return []Unit{stub("b", nil, "a")}
		}, ErrMissingDependency},
		{"cycle", func() []Unit {
			return []Unit{stub("a", nil, "c"), stub("b", nil, "a"), stub("c", nil, "b")}
		}, ErrCycle},
		{"self cycle", func() []Unit {
			return []Unit{stub("a", nil, "a")}
		}, ErrCycle},
		{"duplicate key", func() []Unit {
			return []Unit{stub("a", nil), stub("a", nil)}
		}, ErrDuplicateUnit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.units())
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScope_DuplicateWriteFails(t *testing.T) {
	u := stub("twice", nil)
	u.fn = func(u *stubUnit, s *Scope) error {
		if err := s.Put(u.key, outPort, Scalar(s.X(), 1)); err != nil {
			return err
		}
		return s.Put(u.key, outPort, Scalar(s.X(), 2))
	}
	p, err := NewProcessor([]Unit{u})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	_, err = p.Process(context.Background(), model.Candle{X: 1})
	if !errors.Is(err, ErrDuplicateWrite) {
		t.Fatalf("err = %v, want ErrDuplicateWrite", err)
	}
}

func TestScope_PutRules(t *testing.T) {
	other := stub("other", nil)
	u := stub("w", nil, "other")
	var undeclared, wrongKind, foreign error
	u.fn = func(u *stubUnit, s *Scope) error {
		undeclared = s.Put(u.key, ScalarPort("nope"), Scalar(s.X(), 1))
		wrongKind = s.Put(u.key, outPort, Object(s.X(), "x"))
		foreign = s.Put(other.key, outPort, Scalar(s.X(), 1))
		return nil
	}
	p, err := NewProcessor([]Unit{other, u})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	if _, err := p.Process(context.Background(), model.Candle{X: 1}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !errors.Is(undeclared, ErrUndeclaredPort) {
		t.Errorf("undeclared: %v", undeclared)
	}
	if !errors.Is(wrongKind, ErrKindMismatch) {
		t.Errorf("wrong kind: %v", wrongKind)
	}
	if !errors.Is(foreign, ErrForeignWrite) {
		t.Errorf("foreign: %v", foreign)
	}
}

func TestSlot_KindMismatchReadsAbsent(t *testing.T) {
	a := stub("a", nil)
	b := stub("b", nil, "a")
	var found bool
	b.fn = func(u *stubUnit, s *Scope) error {
		_, found = a.key.With(Port{ID: "out", Kind: KindVector}).Value(s)
		return nil
	}
	p, err := NewProcessor([]Unit{a, b})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	sc, err := p.Process(context.Background(), model.Candle{X: 1})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if found {
		t.Error("mismatched read returned a value")
	}
	if len(sc.Mismatches()) != 1 {
		t.Errorf("mismatches = %v, want 1", sc.Mismatches())
	}
}

func TestScope_SilentUnitCountsAsExecuted(t *testing.T) {
	var calls []Key
	quiet := stub("quiet", &calls)
	quiet.fn = func(*stubUnit, *Scope) error { return nil }
	x := stub("x", &calls, "quiet")
	y := stub("y", &calls, "quiet")

	p, err := NewProcessor([]Unit{x, y, quiet})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	sc, err := p.Process(context.Background(), model.Candle{X: 1})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(calls) != 3 {
		t.Errorf("calls = %v, want 3", calls)
	}
	if !sc.Executed(quiet.key) {
		t.Error("quiet unit not marked executed")
	}
	if out := sc.Outputs(quiet.key); len(out) != 0 {
		t.Errorf("quiet outputs = %v", out)
	}
}

func TestProcessor_UnitErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	u := stub("bad", nil)
	u.fn = func(*stubUnit, *Scope) error { return boom }
	p, err := NewProcessor([]Unit{u})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	if _, err := p.Process(context.Background(), model.Candle{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestProcessor_RunDeliversEverySample(t *testing.T) {
	p, err := NewProcessor([]Unit{stub("a", nil)})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	in := make(chan model.Candle)
	out := make(chan *Scope)
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), in, out) }()

	go func() {
		for i := int64(1); i <= 5; i++ {
			in <- model.Candle{X: i}
		}
		close(in)
	}()

	for i := int64(1); i <= 5; i++ {
		sc := <-out
		if sc.X() != i {
			t.Errorf("scope %d has X=%d", i, sc.X())
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Samples() != 5 {
		t.Errorf("samples = %d, want 5", p.Samples())
	}
}

func TestProcessor_RunStopsOnCancel(t *testing.T) {
	p, err := NewProcessor(nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx, make(chan model.Candle), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
