package com

import "testing"

type testClient struct{ id string }

func TestMap(t *testing.T) {
	m := NewMap[string, *testClient]()
	a, b := &testClient{id: "a"}, &testClient{id: "b"}
	m.Put(a.id, a)
	m.Put(b.id, b)

	if c, err := m.Find("a"); err != nil || c != a {
		t.Errorf("find a: %v %v", c, err)
	}
	if _, err := m.Find("c"); err != ErrNotFound {
		t.Errorf("find c: %v, want ErrNotFound", err)
	}

	// predicate guards against removing a replaced value
	m.RemoveIf("a", func(c *testClient) bool { return c == b })
	if !m.Has("a") {
		t.Error("a removed by a non-matching predicate")
	}
	m.RemoveIf("a", func(c *testClient) bool { return c == a })
	if m.Has("a") {
		t.Error("a is still in the map")
	}

	n := 0
	m.ForEach(func(*testClient) { n++ })
	if n != 1 {
		t.Errorf("%v elements left, want 1", n)
	}
}
