package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	var (
		buf bytes.Buffer
		w   = PrefixWriter{Sink: &buf, Prefix: []byte("[boot] ")}
	)

	specs := []struct {
		input []string
		exp   string
	}{
		{
			[]string{"no line break"},
			"[boot] no line break",
		},
		{
			[]string{"line feed\n"},
			"[boot] line feed\n",
		},
		{
			[]string{"first\nsecond\nthird"},
			"[boot] first\n[boot] second\n[boot] third",
		},
		{
			[]string{"split ", "across ", "writes\n", "next\n"},
			"[boot] split across writes\n[boot] next\n",
		},
		{
			[]string{"\n\n"},
			"[boot] \n[boot] \n",
		},
		{
			[]string{""},
			"",
		},
	}

	for specIndex, spec := range specs {
		buf.Reset()
		w.midLine = false

		for _, in := range spec.input {
			n, err := w.Write([]byte(in))
			if err != nil {
				t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
			}

			if n != len(in) {
				t.Errorf("[spec %d] expected Write to return %d; got %d", specIndex, len(in), n)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.exp, got)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write(_ []byte) (int, error) {
	return 0, errors.New("write failed")
}

func TestPrefixWriterErrors(t *testing.T) {
	w := PrefixWriter{Sink: failingWriter{}, Prefix: []byte("> ")}

	if _, err := w.Write([]byte("data")); err == nil {
		t.Fatal("expected sink error to be propagated")
	}
}
