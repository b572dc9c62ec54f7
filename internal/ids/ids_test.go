package ids

import "testing"

func TestUniqueIdNull(t *testing.T) {
	if !NullUniqueId.IsNull() {
		t.Fatal("zero value must be null")
	}
	if (UniqueId{NodeID: 1, Unique: 0}).IsNull() {
		t.Fatal("non-zero node id must not be null")
	}
}

func TestUniqueIdAdmin(t *testing.T) {
	admin := UniqueId{NodeID: 3, Unique: 0}
	if !admin.IsAdmin() {
		t.Fatal("unique==0 on a real node must be the admin id")
	}
	if NullUniqueId.IsAdmin() {
		t.Fatal("null id is not the admin id")
	}
}

func TestTaskNodeChild(t *testing.T) {
	root := TaskNode{Root: UniqueId{NodeID: 1, Unique: 5}, Depth: 0}
	child := root.Child()
	if !child.SameRoot(root) {
		t.Fatal("child must share root")
	}
	if child.Depth != 1 {
		t.Fatalf("expected depth 1, got %d", child.Depth)
	}
	grandchild := child.Child()
	if grandchild.Depth != 2 || !grandchild.SameRoot(root) {
		t.Fatal("grandchild must be depth 2 and share root")
	}
}

func TestDomainIsRemote(t *testing.T) {
	me := NodeId(1)
	cases := []struct {
		d    DomainId
		want bool
	}{
		{Local(), false},
		{Node(me), false},
		{Node(2), true},
		{Global(), true},
	}
	for _, c := range cases {
		if got := c.d.IsRemote(me); got != c.want {
			t.Fatalf("IsRemote(%+v) = %v, want %v", c.d, got, c.want)
		}
	}
}
