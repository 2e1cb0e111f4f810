package collection

import (
	"errors"
	"path/filepath"
	"testing"
)

// fakeEngine считает открытия и закрытия коллекций.
type fakeEngine struct {
	opens []string
}

func (e *fakeEngine) Open(path string) (Handle, error) {
	e.opens = append(e.opens, path)
	return &fakeHandle{path: path}, nil
}

type fakeHandle struct {
	path   string
	closed bool
}

func (h *fakeHandle) Request(method string, data []byte) ([]byte, error) {
	return []byte(`{"method":"` + method + `"}`), nil
}

func (h *fakeHandle) Path() string { return h.path }

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

func TestNeedSwap(t *testing.T) {
	tests := []struct {
		name      string
		owner     string
		hasHandle bool
		requested string
		want      bool
	}{
		{name: "слот пуст", owner: "", hasHandle: false, requested: "alice", want: true},
		{name: "тот же владелец", owner: "alice", hasHandle: true, requested: "alice", want: false},
		{name: "другой владелец", owner: "alice", hasHandle: true, requested: "bob", want: true},
		{name: "владелец без коллекции", owner: "alice", hasHandle: false, requested: "alice", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needSwap(tt.owner, tt.hasHandle, tt.requested); got != tt.want {
				t.Errorf("ожидалось %v, получено %v", tt.want, got)
			}
		})
	}
}

func TestEnsureForSwaps(t *testing.T) {
	engine := &fakeEngine{}
	m := NewManager(engine)
	dirA, dirB := t.TempDir(), t.TempDir()

	if err := m.EnsureFor("alice", dirA); err != nil {
		t.Fatalf("открытие коллекции alice: %v", err)
	}
	first := m.handle.(*fakeHandle)

	// Повторный вызов того же владельца слот не трогает.
	if err := m.EnsureFor("alice", dirA); err != nil {
		t.Fatalf("повторное обращение alice: %v", err)
	}
	if len(engine.opens) != 1 {
		t.Errorf("слот перещёлкнут без смены владельца: %v", engine.opens)
	}

	// Смена владельца закрывает старую коллекцию и открывает новую.
	if err := m.EnsureFor("bob", dirB); err != nil {
		t.Fatalf("открытие коллекции bob: %v", err)
	}
	if !first.closed {
		t.Error("коллекция прежнего владельца не закрыта")
	}
	if len(engine.opens) != 2 {
		t.Fatalf("ожидались два открытия, получено %d", len(engine.opens))
	}
	if want := filepath.Join(dirB, FileName); engine.opens[1] != want {
		t.Errorf("ожидался путь %s, получено %s", want, engine.opens[1])
	}
}

func TestDispatchWithoutHandle(t *testing.T) {
	m := NewManager(Unimplemented{})
	if _, err := m.Dispatch("meta", nil); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("ожидалась ErrEngineUnavailable, получено %v", err)
	}
}

func TestUnimplementedEngine(t *testing.T) {
	m := NewManager(Unimplemented{})
	if err := m.EnsureFor("alice", t.TempDir()); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("ожидалась ErrEngineUnavailable, получено %v", err)
	}
}
