package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0x42}, 4096),
	}
	for _, p := range payloads {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	f := NewFramer(&buf)
	for i, want := range payloads {
		got, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame[%d]: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("ReadFrame[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestReadFrameEOF(t *testing.T) {
	f := NewFramer(bytes.NewReader(nil))
	if _, err := f.ReadFrame(); err != io.EOF {
		t.Fatalf("ReadFrame on empty stream = %v, want io.EOF", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 128)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	orig := MaxFrameSize
	MaxFrameSize = 16
	defer func() { MaxFrameSize = orig }()

	f := NewFramer(&buf)
	if _, err := f.ReadFrame(); err == nil {
		t.Fatal("ReadFrame should reject an oversized frame")
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("hello world")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := buf.Bytes()[:6]
	f := NewFramer(bytes.NewReader(truncated))
	if _, err := f.ReadFrame(); err == nil {
		t.Fatal("ReadFrame should fail on a truncated body")
	}
}
