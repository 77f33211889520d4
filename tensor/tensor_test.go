package tensor

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewShape(t *testing.T) {
	t1 := New(2, 3)
	if len(t1.Data) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(t1.Data))
	}
	if len(t1.Shape) != 2 || t1.Shape[0] != 2 || t1.Shape[1] != 3 {
		t.Fatalf("unexpected shape: %v", t1.Shape)
	}
}

func TestAdd(t *testing.T) {
	a := mat.NewDense(1, 3, []float64{1, 2, 3})
	b := mat.NewDense(1, 3, []float64{4, 5, 6})
	c, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{5, 7, 9}
	for i := range want {
		if c.At(0, i) != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.At(0, i), want[i])
		}
	}
	if _, err := Add(a, mat.NewDense(3, 1, nil)); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestMatMul(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewDense(2, 2, []float64{5, 6, 7, 8})
	c, err := MatMul(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{19, 22, 43, 50}
	for i := range want {
		if got := c.At(i/2, i%2); got != want[i] {
			t.Errorf("at %d, got %f, want %f", i, got, want[i])
		}
	}
}

func TestMatMulShapeError(t *testing.T) {
	_, err := MatMul(mat.NewDense(2, 3, nil), mat.NewDense(2, 2, nil))
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ShapeError, got %v", err)
	}
	if se.Op != "MatMul" {
		t.Errorf("Op = %s, want MatMul", se.Op)
	}
}

func TestRelu(t *testing.T) {
	a := mat.NewDense(1, 3, []float64{-1, 0, 3})
	c := Relu(a)
	want := []float64{0, 0, 3}
	for i := range want {
		if c.At(0, i) != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.At(0, i), want[i])
		}
	}
	g := ReluGrad(a, mat.NewDense(1, 3, []float64{5, 5, 5}))
	wantGrad := []float64{0, 0, 5}
	for i := range wantGrad {
		if g.At(0, i) != wantGrad[i] {
			t.Errorf("grad at %d, got %f, want %f", i, g.At(0, i), wantGrad[i])
		}
	}
}

func TestConcatColumns(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{1, 2})
	b := mat.NewDense(2, 2, []float64{3, 4, 5, 6})
	c, err := ConcatColumns(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := mat.NewDense(2, 3, []float64{1, 3, 4, 2, 5, 6})
	if !mat.Equal(c, want) {
		t.Errorf("got %v, want %v", mat.Formatted(c), mat.Formatted(want))
	}
	if _, err := ConcatColumns(a, mat.NewDense(3, 1, nil)); err == nil {
		t.Fatal("expected row mismatch error")
	}
}

func TestColumnSumsAndAddRow(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	sums := ColumnSums(m)
	if sums[0] != 4 || sums[1] != 6 {
		t.Fatalf("ColumnSums = %v, want [4 6]", sums)
	}
	if err := AddRow(m, []float64{10, 20}); err != nil {
		t.Fatal(err)
	}
	if m.At(1, 1) != 24 {
		t.Errorf("AddRow result %f, want 24", m.At(1, 1))
	}
	if err := AddRow(m, []float64{1}); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestTensorDense(t *testing.T) {
	v := New(3)
	copy(v.Data, []float64{1, 2, 3})
	d, err := v.Dense()
	if err != nil {
		t.Fatal(err)
	}
	r, c := d.Dims()
	if r != 3 || c != 1 {
		t.Fatalf("dims = (%d,%d), want (3,1)", r, c)
	}
	back := FromDense(d)
	if back.Shape[0] != 3 || back.Shape[1] != 1 {
		t.Fatalf("FromDense shape = %v", back.Shape)
	}
	rs, err := back.Reshape(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Shape) != 1 || rs.Shape[0] != 3 || rs.Data[2] != 3 {
		t.Errorf("reshape mismatch: %v vs %v", rs, v)
	}
	if _, err := back.Reshape(4); err == nil {
		t.Fatal("expected reshape error")
	}
}

func TestAtSet(t *testing.T) {
	x := New(2, 3)
	x.Set(7, 1, 2)
	if x.At(1, 2) != 7 || x.Data[5] != 7 {
		t.Errorf("At/Set mismatch: %v", x.Data)
	}
}
