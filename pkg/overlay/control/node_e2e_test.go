package control_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/swessel1/overlay/internal/testutil"
)

// TestRootJoin covers scenario 1: a lone root's topology is empty and its
// listener is bound.
func TestRootJoin(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := testutil.New(t, "k")
	defer c.Shutdown()

	a := c.StartRoot("A", false, 10)

	if !a.Node.State().IsRoot() {
		t.Fatal("expected A to be root")
	}
	if a.Node.State().Generation != 0 {
		t.Fatalf("expected generation 0, got %d", a.Node.State().Generation)
	}
	if a.Node.State().SiblingNumber != 0 {
		t.Fatalf("expected sibling number 0, got %d", a.Node.State().SiblingNumber)
	}
	if a.Node.ListeningPort() == 0 {
		t.Fatal("expected listener to be bound")
	}
}

// TestChildJoinCorrectKey covers scenario 2.
func TestChildJoinCorrectKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := testutil.New(t, "k")
	defer c.Shutdown()

	a := c.StartRoot("A", false, 10)
	b := c.Join("B", false, 10, a)

	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.Node.State().Children) == 1
	})

	if got := b.Node.State().Generation; got != 1 {
		t.Fatalf("expected B.generation == 1, got %d", got)
	}
	if got := b.Node.State().SiblingNumber; got != 1 {
		t.Fatalf("expected B.sibling_number == 1, got %d", got)
	}
	if len(b.Node.State().Ancestry) != 1 {
		t.Fatalf("expected B.ancestry to have exactly A, got %d entries", len(b.Node.State().Ancestry))
	}
	if len(a.Node.State().Children) != 1 {
		t.Fatalf("expected A.children to have exactly B, got %d", len(a.Node.State().Children))
	}
}

// TestChildJoinWrongKey covers scenario 3.
func TestChildJoinWrongKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := testutil.New(t, "k")
	defer c.Shutdown()

	a := c.StartRoot("A", false, 10)

	wrong := testutil.New(t, "x")
	defer wrong.Shutdown()
	b, err := wrong.TryJoin("B", false, 10, a)
	if err == nil {
		t.Fatal("expected join with wrong key to fail")
	}

	if len(a.Node.State().Children) != 0 {
		t.Fatalf("expected A.children to be empty after bad-key join, got %d", len(a.Node.State().Children))
	}
	if !b.Node.State().IsRoot() {
		t.Fatal("expected B to remain parentless after a rejected join")
	}
}

// TestSiblingAnnouncement covers scenario 4.
func TestSiblingAnnouncement(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := testutil.New(t, "k")
	defer c.Shutdown()

	a := c.StartRoot("A", false, 10)
	b := c.Join("B", false, 10, a)
	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.Node.State().Children) == 1
	})

	_ = c.Join("C", false, 10, a)

	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(b.Node.State().Siblings) == 1
	})

	sib, ok := b.Node.State().Siblings[2]
	if !ok {
		t.Fatalf("expected B to know sibling #2, siblings: %v", b.Node.State().Siblings)
	}
	if sib.SiblingNumber != 2 {
		t.Fatalf("expected sibling number 2, got %d", sib.SiblingNumber)
	}
}

// TestParentChangeByPromotion covers scenario 5.
func TestParentChangeByPromotion(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := testutil.New(t, "k")
	defer c.Shutdown()

	a := c.StartRoot("A", false, 10)
	b := c.Join("B", false, 10, a)
	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.Node.State().Children) == 1
	})
	cNode := c.Join("C", false, 10, a)
	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.Node.State().Children) == 2
	})
	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(b.Node.State().Siblings) == 1 && len(cNode.Node.State().Siblings) == 1
	})

	c.Kill(a)

	testutil.WaitUntil(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return b.Node.State().IsRoot()
	})
	if b.Node.State().Generation != 0 {
		t.Fatalf("expected B.generation == 0 after promotion, got %d", b.Node.State().Generation)
	}

	testutil.WaitUntil(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return len(b.Node.State().Children) == 1
	})
	if len(cNode.Node.State().Ancestry) != 1 {
		t.Fatalf("expected C.ancestry == [B], got %d entries", len(cNode.Node.State().Ancestry))
	}
}

// TestParentChangeByAttach covers scenario 6.
func TestParentChangeByAttach(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := testutil.New(t, "k")
	defer c.Shutdown()

	a := c.StartRoot("A", false, 10)
	b := c.Join("B", false, 10, a)
	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.Node.State().Children) == 1
	})
	cNode := c.Join("C", false, 10, a)
	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.Node.State().Children) == 2
	})
	dNode := c.Join("D", false, 10, a)
	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.Node.State().Children) == 3
	})
	testutil.WaitUntil(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(b.Node.State().Siblings) == 2 && len(cNode.Node.State().Siblings) == 2 && len(dNode.Node.State().Siblings) == 2
	})

	c.Kill(a)

	testutil.WaitUntil(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return len(b.Node.State().Children) == 2
	})
	if len(cNode.Node.State().Ancestry) != 1 {
		t.Fatalf("expected C.ancestry == [B], got %d entries", len(cNode.Node.State().Ancestry))
	}
	if len(dNode.Node.State().Ancestry) != 1 {
		t.Fatalf("expected D.ancestry == [B], got %d entries", len(dNode.Node.State().Ancestry))
	}
}
