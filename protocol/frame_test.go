package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestReadFrameStopsAtBalancedBrace(t *testing.T) {
	r := strings.NewReader(`{"a":{"b":1}}{"trailing":true}`)
	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != `{"a":{"b":1}}` {
		t.Errorf("frame = %q", got)
	}
}

func TestReadFrameAcrossChunks(t *testing.T) {
	doc := `{"data":"` + strings.Repeat("x", 3*readChunk) + `"}`
	got, err := ReadFrame(iotest.OneByteReader(strings.NewReader(doc)))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != doc {
		t.Errorf("frame length = %d, want %d", len(got), len(doc))
	}

	got, err = ReadFrame(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != doc {
		t.Errorf("frame length = %d, want %d", len(got), len(doc))
	}
}

func TestReadFrameEOF(t *testing.T) {
	got, err := ReadFrame(strings.NewReader(`{"open":`))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != `{"open":` {
		t.Errorf("frame = %q", got)
	}

	got, err = ReadFrame(bytes.NewReader(nil))
	if err != nil || len(got) != 0 {
		t.Errorf("empty reader: frame %q, err %v", got, err)
	}
}

func TestReadFrameError(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(strings.NewReader(`{"x":`), iotest.ErrReader(boom))
	_, err := ReadFrame(r)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
