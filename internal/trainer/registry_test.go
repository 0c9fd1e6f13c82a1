package trainer

import "testing"

type fakeTrainer struct{ ran bool }

func (f *fakeTrainer) Train(Context, Reporter, []byte, map[string]string) error {
	f.ran = true
	return nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("fake", func() Trainer { return &fakeTrainer{} })

	got, ok := r.Get("fake")
	if !ok {
		t.Fatalf("expected fake trainer to be registered")
	}
	if err := got.Train(Context{}, nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("expected missing trainer lookup to fail")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("dup", func() Trainer { return &fakeTrainer{} })

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	r.Register("dup", func() Trainer { return &fakeTrainer{} })
}
