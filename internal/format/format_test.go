package format

import (
	"errors"
	"testing"

	"github.com/LavishGent/tilecache/internal/types"
)

type stubInput struct{}

func (stubInput) NumSubimages() int             { return 1 }
func (stubInput) NumMipLevels(subimage int) int { return 1 }

func (stubInput) Spec(si, mi int) (types.ImageSpec, error) {
	return types.ImageSpec{Width: 1, Height: 1, Channels: 1, Format: types.FormatUInt8}, nil
}
func (stubInput) ReadRegion(si, mi int, r types.Region, cb, ce int, dst []byte) error { return nil }

func (stubInput) Close() error { return nil }

func stubOpener(path string) (Input, error) {
	return stubInput{}, nil
}

func TestRegisterAndOpen(t *testing.T) {
	Register("stub", stubOpener)
	defer Unregister("stub")

	t.Run("dispatches by extension", func(t *testing.T) {
		in, err := Open("image.stub")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if in.NumSubimages() != 1 {
			t.Errorf("NumSubimages() = %d, want 1", in.NumSubimages())
		}
	})

	t.Run("extension is case insensitive", func(t *testing.T) {
		if _, err := Open("image.STUB"); err != nil {
			t.Errorf("Open() error = %v for uppercase extension", err)
		}
	})

	t.Run("unknown extension fails", func(t *testing.T) {
		_, err := Open("image.xyz")
		if !errors.Is(err, types.ErrFormatUnsupported) {
			t.Errorf("Open() error = %v, want ErrFormatUnsupported", err)
		}
	})
}

func TestRegisterLeadingDot(t *testing.T) {
	Register(".dotted", stubOpener)
	defer Unregister("dotted")

	if _, ok := OpenerFor("a.dotted"); !ok {
		t.Error("OpenerFor() = false for extension registered with leading dot")
	}
}

func TestUnregister(t *testing.T) {
	Register("gone", stubOpener)
	Unregister("gone")

	if _, ok := OpenerFor("a.gone"); ok {
		t.Error("OpenerFor() = true after Unregister")
	}
}

func TestReplaceRegistration(t *testing.T) {
	var secondCalled bool
	Register("dup", stubOpener)
	Register("dup", func(path string) (Input, error) {
		secondCalled = true
		return stubInput{}, nil
	})
	defer Unregister("dup")

	if _, err := Open("x.dup"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !secondCalled {
		t.Error("later registration did not replace the earlier one")
	}
}

func TestExtensions(t *testing.T) {
	Register("bbb", stubOpener)
	Register("aaa", stubOpener)
	defer Unregister("aaa")
	defer Unregister("bbb")

	exts := Extensions()
	ia, ib := -1, -1
	for i, e := range exts {
		switch e {
		case "aaa":
			ia = i
		case "bbb":
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		t.Fatalf("Extensions() = %v, want aaa and bbb present", exts)
	}
	if ia > ib {
		t.Errorf("Extensions() = %v, want sorted", exts)
	}
}
