package session

import "fmt"

// Handle identifies one session. The low 32 bits hold the slot index plus
// one and the high 32 bits the slot generation, so the zero Handle is never
// issued and a released handle stays invalid after its slot is reused.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() (uint32, bool) {
	low := uint32(h)
	if low == 0 {
		return 0, false
	}
	return low - 1, true
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

func (h Handle) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

type slot struct {
	gen     uint32
	session *session
}

// table is a generation-checked arena of live sessions. It is not safe for
// concurrent use; the Manager guards it.
type table struct {
	slots []slot
	free  []uint32
	live  int
}

func (t *table) insert(s *session) Handle {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot{gen: 1})
	}
	t.slots[idx].session = s
	t.live++
	return makeHandle(idx, t.slots[idx].gen)
}

func (t *table) get(h Handle) *session {
	idx, ok := h.index()
	if !ok || int(idx) >= len(t.slots) {
		return nil
	}
	sl := &t.slots[idx]
	if sl.gen != h.generation() {
		return nil
	}
	return sl.session
}

func (t *table) remove(h Handle) *session {
	s := t.get(h)
	if s == nil {
		return nil
	}
	idx, _ := h.index()
	sl := &t.slots[idx]
	sl.session = nil
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	t.free = append(t.free, idx)
	t.live--
	return s
}

func (t *table) each(fn func(Handle, *session)) {
	for i, sl := range t.slots {
		if sl.session != nil {
			fn(makeHandle(uint32(i), sl.gen), sl.session)
		}
	}
}
