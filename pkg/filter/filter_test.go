package filter

import (
	"bytes"
	"io"
	"testing"
)

func TestIdentityChainRoundTrip(t *testing.T) {
	chain := Chain{Identity(), Identity()}
	var buf bytes.Buffer
	w, err := chain.WrapWriter(&buf)
	if err != nil {
		t.Fatalf("WrapWriter: %v", err)
	}
	if _, err := w.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := chain.WrapReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("WrapReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestEmptyChainIsPassthrough(t *testing.T) {
	var chain Chain
	var buf bytes.Buffer
	w, err := chain.WrapWriter(&buf)
	if err != nil {
		t.Fatalf("WrapWriter: %v", err)
	}
	w.Write([]byte("x"))
	w.Close()
	if buf.String() != "x" {
		t.Fatalf("got %q", buf.String())
	}
}
