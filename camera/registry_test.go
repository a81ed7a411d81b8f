package camera

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

// TestRegistryStableIDs verifies ids are append-only and stay valid
func TestRegistryStableIDs(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	r.RegisterDriver("sim", NewSimDriver)
	r.RegisterDriver("other", func(int) (Driver, error) { return &SimDriver{}, nil })

	names := r.Drivers()
	if len(names) != 2 || names[0] != "sim" || names[1] != "other" {
		t.Fatalf("Drivers() = %v, want [sim other]", names)
	}

	// A later registration must not shift earlier ids
	r.RegisterDriver("third", func(int) (Driver, error) { return &SimDriver{}, nil })

	drv, err := r.GetDriver(0, 0)
	if err != nil {
		t.Fatalf("GetDriver(0) failed: %v", err)
	}
	if drv.Name() != "sim" {
		t.Errorf("Driver id 0 is %q after later registration, want sim", drv.Name())
	}
}

// TestRegistryDuplicateRegistration verifies duplicate names are a no-op
func TestRegistryDuplicateRegistration(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	calls := 0
	factory := func(int) (Driver, error) {
		calls++
		return &SimDriver{}, nil
	}

	r.RegisterDriver("sim", factory)
	r.RegisterDriver("sim", NewSimDriver) // ignored

	if got := len(r.Drivers()); got != 1 {
		t.Fatalf("Registry has %d entries after duplicate registration, want 1", got)
	}

	if _, err := r.GetDriver(0, 0); err != nil {
		t.Fatalf("GetDriver failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("First factory called %d times, want 1 (duplicate must not replace it)", calls)
	}
}

// TestRegistryInvalidID verifies out-of-range ids fail with ErrInvalidDriverID
func TestRegistryInvalidID(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.RegisterDriver("sim", NewSimDriver)

	for _, id := range []int{-1, 1, 100} {
		if _, err := r.GetDriver(id, 0); !errors.Is(err, ErrInvalidDriverID) {
			t.Errorf("GetDriver(%d) = %v, want ErrInvalidDriverID", id, err)
		}
	}
}

// TestRegistryFactoryFailure verifies factory errors surface as instantiation failures
func TestRegistryFactoryFailure(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	r.RegisterDriver("broken", func(int) (Driver, error) {
		return nil, errors.New("no hardware")
	})
	r.RegisterDriver("nildriver", func(int) (Driver, error) {
		return nil, nil
	})

	if _, err := r.GetDriver(0, 0); !errors.Is(err, ErrDriverInstantiate) {
		t.Errorf("Factory error = %v, want ErrDriverInstantiate", err)
	}
	if _, err := r.GetDriver(1, 0); !errors.Is(err, ErrDriverInstantiate) {
		t.Errorf("Nil instance = %v, want ErrDriverInstantiate", err)
	}
}

// TestLoadDriverMissingLibrary verifies a missing plugin fails with ErrDriverLoad
func TestLoadDriverMissingLibrary(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	err := r.LoadDriver("nosuch", t.TempDir(), "")
	if !errors.Is(err, ErrDriverLoad) {
		t.Errorf("LoadDriver for missing library = %v, want ErrDriverLoad", err)
	}
	if got := len(r.Drivers()); got != 0 {
		t.Errorf("Failed load left %d registry entries", got)
	}
}

// TestLoadDriverDuplicateIsNoop verifies loading an already-present name
// does not reopen anything and keeps the registry at one entry
func TestLoadDriverDuplicateIsNoop(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.RegisterDriver("sim", NewSimDriver)

	// Same name via LoadDriver: must be a silent no-op even though no
	// library exists at the search path.
	if err := r.LoadDriver("sim", "/nonexistent", ""); err != nil {
		t.Fatalf("Duplicate LoadDriver returned error: %v", err)
	}
	if got := len(r.Drivers()); got != 1 {
		t.Errorf("Registry has %d entries, want 1", got)
	}
}
