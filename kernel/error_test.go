package kernel

import (
	"errors"
	"testing"
)

func TestKernelError(t *testing.T) {
	specs := []*Error{
		{Module: "pfa", Message: "out of memory"},
		{Module: "vmm", Message: "huge pages are not supported"},
		{Module: "kmain", Message: ""},
	}

	for specIndex, spec := range specs {
		var err error = spec
		if got := err.Error(); got != spec.Message {
			t.Errorf("[spec %d] expected Error() to return %q; got %q", specIndex, spec.Message, got)
		}

		var kerr *Error
		if !errors.As(err, &kerr) || kerr != spec {
			t.Errorf("[spec %d] expected errors.As to recover the original *Error", specIndex)
		}
	}
}
