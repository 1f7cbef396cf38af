package domain

import "testing"

func TestFetchRequestApply(t *testing.T) {
	owner := newMapOwner()
	objects := []*Object{
		owner.add(t, "Book", "b1", map[string]any{"title": "Carrie", "pages": int64(199)}),
		owner.add(t, "Book", "b2", map[string]any{"title": "It", "pages": int64(1138)}),
		owner.add(t, "Book", "b3", map[string]any{"title": "Misery", "pages": int64(310)}),
		owner.add(t, "Book", "b4", map[string]any{"title": "Cujo"}),
	}

	cases := []struct {
		name string
		req  FetchRequest
		want []ID
	}{
		{"identity order", FetchRequest{}, []ID{"b1", "b2", "b3", "b4"}},
		{"eq", FetchRequest{Predicate: Eq("title", "It")}, []ID{"b2"}},
		{"gt int literal", FetchRequest{Predicate: Gt("pages", 300)}, []ID{"b2", "b3"}},
		{"nil excluded from range", FetchRequest{Predicate: Lt("pages", 5000)}, []ID{"b1", "b2", "b3"}},
		{"is nil", FetchRequest{Predicate: IsNil("pages")}, []ID{"b4"}},
		{"or", FetchRequest{Predicate: Or(Eq("title", "Carrie"), Contains("title", "sery"))}, []ID{"b1", "b3"}},
		{"and not", FetchRequest{Predicate: And(Gt("pages", 100), Not(In("title", "It", "Carrie")))}, []ID{"b3"}},
		{"sort desc", FetchRequest{Sort: []Sort{{Key: "pages", Ascending: false}}}, []ID{"b2", "b3", "b1", "b4"}},
		{"sort asc paged", FetchRequest{Sort: []Sort{{Key: "title", Ascending: true}}, Offset: 1, Limit: 2}, []ID{"b4", "b2"}},
		{"offset past end", FetchRequest{Offset: 10}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.req.Apply(append([]*Object(nil), objects...))
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %d objects", tc.want, len(got))
			}
			for i, o := range got {
				if o.ID() != tc.want[i] {
					t.Fatalf("position %d: expected %s, got %s", i, tc.want[i], o.ID())
				}
			}
		})
	}
}

func TestCompare(t *testing.T) {
	if Compare(nil, 1) >= 0 || Compare(1, nil) <= 0 || Compare(nil, nil) != 0 {
		t.Fatalf("nil ordering broken")
	}
	if Compare(int64(2), 2.5) >= 0 || Compare(3, int64(3)) != 0 {
		t.Fatalf("numeric ordering broken")
	}
	if Compare(false, true) >= 0 || Compare("a", "b") >= 0 {
		t.Fatalf("bool or string ordering broken")
	}
}
