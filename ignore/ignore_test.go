package ignore

import (
	"testing"

	"github.com/phmarek/fsvs-sub001/entry"
	"github.com/stretchr/testify/assert"
)

func TestTakeBeforeIgnoreWins(t *testing.T) {
	m := &Matcher{Patterns: []Pattern{
		Compile("*.log", KindTake),
		Compile("*.log", KindIgnore),
	}}
	ignored, p := m.Evaluate("debug.log", entry.Meta{Mode: entry.ModeRegular})
	assert.False(t, ignored)
	assert.NotNil(t, p)
	assert.Equal(t, KindTake, p.Kind)
}

func TestIgnoreBeforeTakeWins(t *testing.T) {
	m := &Matcher{Patterns: []Pattern{
		Compile("*.log", KindIgnore),
		Compile("*.log", KindTake),
	}}
	ignored, p := m.Evaluate("debug.log", entry.Meta{Mode: entry.ModeRegular})
	assert.True(t, ignored)
	assert.Equal(t, KindIgnore, p.Kind)
}

func TestNoMatchIsNotIgnored(t *testing.T) {
	m := &Matcher{Patterns: []Pattern{Compile("*.log", KindIgnore)}}
	ignored, p := m.Evaluate("main.go", entry.Meta{Mode: entry.ModeRegular})
	assert.False(t, ignored)
	assert.Nil(t, p)
}

func TestBasenamePatternMatchesAtAnyDepth(t *testing.T) {
	m := &Matcher{Patterns: []Pattern{Compile("*.tmp", KindIgnore)}}
	ignored, _ := m.Evaluate("a/b/c.tmp", entry.Meta{Mode: entry.ModeRegular})
	assert.True(t, ignored)
}

func TestTypeFilterRestrictsMatch(t *testing.T) {
	m := &Matcher{Patterns: []Pattern{
		Compile("build", KindIgnore, WithType(entry.ModeDirectory)),
	}}
	ignoredDir, _ := m.Evaluate("build", entry.Meta{Mode: entry.ModeDirectory | 0755})
	ignoredFile, _ := m.Evaluate("build", entry.Meta{Mode: entry.ModeRegular | 0644})
	assert.True(t, ignoredDir)
	assert.False(t, ignoredFile)
}

func TestModeMaskFilter(t *testing.T) {
	m := &Matcher{Patterns: []Pattern{
		Compile("*", KindIgnore, WithModeMask(0111, 0111)),
	}}
	ignoredExec, _ := m.Evaluate("run.sh", entry.Meta{Mode: entry.ModeRegular | 0755})
	ignoredPlain, _ := m.Evaluate("notes.txt", entry.Meta{Mode: entry.ModeRegular | 0644})
	assert.True(t, ignoredExec)
	assert.False(t, ignoredPlain)
}

func TestDeviceAndInodeFilters(t *testing.T) {
	m := &Matcher{Patterns: []Pattern{
		Compile("special", KindIgnore, WithDevice(5), WithInode(42)),
	}}
	ignoredMatch, _ := m.Evaluate("special", entry.Meta{Mode: entry.ModeRegular, Dev: 5, Ino: 42})
	ignoredOther, _ := m.Evaluate("special", entry.Meta{Mode: entry.ModeRegular, Dev: 5, Ino: 99})
	assert.True(t, ignoredMatch)
	assert.False(t, ignoredOther)
}

func TestGroupAutoPropsAppliedOnMatch(t *testing.T) {
	group := WithGroup("generated-sources", map[string]string{"fsvs:commit-pipe": "gzip"})
	m := &Matcher{Patterns: []Pattern{
		Compile("*.gen", KindTake, group),
	}}
	_, p := m.Evaluate("out.gen", entry.Meta{Mode: entry.ModeRegular})
	if p == nil {
		t.Fatal("expected a matching pattern")
	}
	props := map[string]string{}
	ApplyAutoProps(p, props)
	assert.Equal(t, "gzip", props["fsvs:commit-pipe"])
	assert.Equal(t, "generated-sources", p.Group)
}
