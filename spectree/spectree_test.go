package spectree

import "testing"

func TestWildcardDefault(t *testing.T) {
	tr, err := Create("*")
	if err != nil {
		t.Fatal(err)
	}
	if !tr.IsMatching("anything/at/all") {
		t.Error("expected wildcard tree to match everything")
	}
	if _, ok := tr.ListDir("anything"); ok {
		t.Error("expected wildcard tree to defer ListDir to the filesystem")
	}
}

func TestExplicitPaths(t *testing.T) {
	tr, err := Create("dir1\ndir2/sub\n")
	if err != nil {
		t.Fatal(err)
	}

	if !tr.IsMatching("dir1") {
		t.Error("expected dir1 to match")
	}
	if !tr.IsMatching("dir2/sub") {
		t.Error("expected dir2/sub to match")
	}
	if tr.IsMatching("dir3") {
		t.Error("expected dir3 not to match")
	}
	if !tr.IsMatching("dir2") {
		t.Error("expected dir2 to match as an ancestor of the included dir2/sub")
	}
	if tr.IsMatching("dir2/other") {
		t.Error("expected dir2/other not to match: it shares dir2's ancestor but isn't itself included")
	}

	children, ok := tr.ListDir("")
	if !ok {
		t.Fatal("expected root ListDir to be authoritative")
	}
	if len(children) != 2 {
		t.Errorf("expected 2 root children, got %v", children)
	}

	children, ok = tr.ListDir("dir2")
	if !ok {
		t.Fatal("expected dir2 ListDir to be authoritative")
	}
	if len(children) != 1 || children[0] != "sub" {
		t.Errorf("unexpected children of dir2: %v", children)
	}
}

func TestGlobComponentDefersListDir(t *testing.T) {
	tr, err := Create("data/*.bin\n")
	if err != nil {
		t.Fatal(err)
	}

	if !tr.IsMatching("data/x.bin") {
		t.Error("expected data/x.bin to match glob pattern")
	}

	if _, ok := tr.ListDir("data"); ok {
		t.Error("expected ListDir to defer to the filesystem under a glob component")
	}
}
