package endpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenNull(t *testing.T) {
	e, err := Open("/dev/null", OpenOptions{WriteAccess: true})
	if err != nil {
		t.Fatalf("Open(/dev/null) failed: %v", err)
	}
	defer e.Close()

	if e.Kind() != KindNull {
		t.Errorf("Kind() = %v, want KindNull", e.Kind())
	}

	n, err := e.WriteAt([]byte("hello"), 0)
	if err != nil || n != 5 {
		t.Errorf("WriteAt() = %d, %v, want 5, nil", n, err)
	}

	n, err = e.ReadAt(make([]byte, 10), 0)
	if err != nil || n != 0 {
		t.Errorf("ReadAt() = %d, %v, want 0, nil", n, err)
	}
}

func TestOpenRegularRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	out, err := Open(path, OpenOptions{WriteAccess: true, Create: true, Size: 4096})
	if err != nil {
		t.Fatalf("Open for write failed: %v", err)
	}
	if out.Kind() != KindRegular {
		t.Errorf("Kind() = %v, want KindRegular", out.Kind())
	}

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := out.WriteAt(payload, 1024); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	in, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open for read failed: %v", err)
	}
	defer in.Close()

	if in.Size() != 4096 {
		t.Errorf("Size() = %d, want 4096", in.Size())
	}

	got := make([]byte, 512)
	if _, err := in.ReadAt(got, 1024); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], byte(i))
		}
	}
}

func TestOpenRegularMissingWithoutCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.bin")

	_, err := Open(path, OpenOptions{WriteAccess: false})
	if err == nil {
		t.Fatal("expected error opening missing file for read")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindSG:        "sg",
		KindBlock:     "block",
		KindRegular:   "regular",
		KindFIFO:      "fifo",
		KindNull:      "null",
		KindTape:      "tape",
		KindSynthetic: "synthetic",
		KindCharOther: "char",
		KindError:     "error",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %s, want %s", k, got, want)
		}
	}
}
