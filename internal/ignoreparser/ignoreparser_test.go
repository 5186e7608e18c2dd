package ignoreparser

import "testing"

func TestStyleForKnownAndUnknownExtensions(t *testing.T) {
	if _, ok := StyleFor(".go"); !ok {
		t.Error("expected .go to have a comment style")
	}
	if _, ok := StyleFor(".bin"); ok {
		t.Error("expected .bin to have no comment style")
	}
}

func TestSuppressedIgnoreSameLine(t *testing.T) {
	content := "package x\nfmt.Println(1) // phaser:ignore no-println\n"
	if !Suppressed("main.go", content, "no-println", 2) {
		t.Error("expected line 2 to be suppressed for no-println")
	}
	if Suppressed("main.go", content, "other-rule", 2) {
		t.Error("expected line 2 to NOT be suppressed for an unrelated rule")
	}
}

func TestSuppressedIgnoreNextLine(t *testing.T) {
	content := "// phaser:ignore-next-line\nfmt.Println(1)\n"
	if !Suppressed("main.go", content, "any-rule", 2) {
		t.Error("expected line 2 to be suppressed by an ignore-next-line on line 1")
	}
	if Suppressed("main.go", content, "any-rule", 1) {
		t.Error("ignore-next-line should not suppress its own line")
	}
}

func TestSuppressedIgnoreAllCoversAnyRuleID(t *testing.T) {
	content := "eval(x) // phaser:ignore-all\n"
	if !Suppressed("main.go", content, "rule-a", 1) {
		t.Error("expected ignore-all to cover rule-a")
	}
	if !Suppressed("main.go", content, "rule-b", 1) {
		t.Error("expected ignore-all to cover rule-b too")
	}
}

func TestSuppressedUnsupportedExtensionNeverSuppresses(t *testing.T) {
	content := "# phaser:ignore\nsecret data\n"
	if Suppressed("blob.bin", content, "any-rule", 1) {
		t.Error("expected an unsupported extension to never suppress")
	}
}

func TestSuppressedHTMLStyle(t *testing.T) {
	content := "<div></div>\n<!-- phaser:ignore no-inline-style -->\n"
	if !Suppressed("index.html", content, "no-inline-style", 2) {
		t.Error("expected HTML comment directive to suppress line 2")
	}
}

func TestSuppressedScopedToListedRules(t *testing.T) {
	content := "x = 1  # phaser:ignore rule-a, rule-b\n"
	if !Suppressed("script.py", content, "rule-a", 1) {
		t.Error("expected rule-a to be covered")
	}
	if Suppressed("script.py", content, "rule-c", 1) {
		t.Error("expected rule-c to NOT be covered")
	}
}
